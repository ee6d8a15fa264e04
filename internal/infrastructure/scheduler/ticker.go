package scheduler

import (
	"context"
	"sync"
	"time"

	"NewsDesk/internal/ports"
)

// TickerScheduler drives the reconciliation job on a fixed interval.
type TickerScheduler struct {
	interval time.Duration
	mu       sync.Mutex
	stop     chan struct{}
}

var _ ports.Scheduler = (*TickerScheduler)(nil)

// NewTickerScheduler builds a scheduler with the given period.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	return &TickerScheduler{interval: interval}
}

// Start begins ticking; the job also runs once immediately. A second Start
// without a Stop in between is a no-op.
func (t *TickerScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil || t.interval <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	t.stop = stop
	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		job(time.Now())
		for {
			select {
			case tick := <-ticker.C:
				job(tick)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine.
func (t *TickerScheduler) Stop(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return nil
	}
	close(t.stop)
	t.stop = nil
	return nil
}
