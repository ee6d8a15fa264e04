package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"NewsDesk/internal/config"
	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/ports"
	"NewsDesk/internal/reader"
)

// Driver reads new upstream messages per source and hands them to the
// queue. The cursor advances only past messages the queue acknowledged, so a
// partial failure is safely re-runnable (at-least-once handoff, never a
// skipped message).
type Driver struct {
	sources   []config.SourceConfig
	maxPerRun int
	lookback  time.Duration
	registry  *reader.Registry
	offsets   ports.OffsetStore
	queue     ports.QueuePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// DriverDeps wires the driver's collaborators.
type DriverDeps struct {
	Sources   []config.SourceConfig
	MaxPerRun int
	Lookback  time.Duration
	Registry  *reader.Registry
	Offsets   ports.OffsetStore
	Queue     ports.QueuePublisher
	Logger    *slog.Logger
}

// NewDriver constructs the ingestion driver.
func NewDriver(deps DriverDeps) *Driver {
	return &Driver{
		sources:   deps.Sources,
		maxPerRun: deps.MaxPerRun,
		lookback:  deps.Lookback,
		registry:  deps.Registry,
		offsets:   deps.Offsets,
		queue:     deps.Queue,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Run processes every enabled source once. Per-source failures are collected
// so one misbehaving feed does not starve the rest.
func (d *Driver) Run(ctx context.Context) error {
	budget := d.maxPerRun

	var errs []error
	for _, src := range d.sources {
		if !src.Enabled {
			continue
		}
		if d.maxPerRun > 0 && budget <= 0 {
			d.debug("run budget exhausted", "source", src.ID)
			break
		}

		handed, err := d.runSource(ctx, src, budget)
		budget -= handed
		if err != nil {
			d.warn("source run failed", "source", src.ID, "handed", handed, "error", err)
			errs = append(errs, fmt.Errorf("source %s: %w", src.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) runSource(ctx context.Context, src config.SourceConfig, budget int) (int, error) {
	rd, err := d.registry.Resolve(src.Reader)
	if err != nil {
		return 0, err
	}

	state, err := d.offsets.GetSource(ctx, src.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	if !state.Bootstrapped {
		return d.bootstrap(ctx, rd, src, budget)
	}

	limit := capLimit(src.MaxBatch, d.maxPerRun, budget)
	messages, err := rd.Read(ctx, reader.Request{
		SourceID: src.ID,
		Channel:  src.Channel,
		AfterID:  state.LastSeenID,
		Limit:    limit,
	})
	if err != nil {
		return 0, fmt.Errorf("read source: %w", err)
	}

	return d.handoff(ctx, src.ID, state.LastSeenID, messages)
}

// bootstrap establishes the starting cursor for a source seen for the first
// time. With a look-back window, recent history inside the window is handed
// off; otherwise ingestion starts from now. Either way the bootstrapped flag
// is persisted so a re-run never re-imports history.
func (d *Driver) bootstrap(ctx context.Context, rd reader.Reader, src config.SourceConfig, budget int) (int, error) {
	messages, err := rd.Read(ctx, reader.Request{
		SourceID: src.ID,
		Channel:  src.Channel,
	})
	if err != nil {
		return 0, fmt.Errorf("bootstrap read: %w", err)
	}

	var newest int64
	for _, msg := range messages {
		if msg.MessageID > newest {
			newest = msg.MessageID
		}
	}

	if d.lookback <= 0 {
		// Start from now: record the newest observed id, import nothing.
		if err := d.offsets.SaveCursor(ctx, src.ID, newest, true); err != nil {
			return 0, fmt.Errorf("bootstrap cursor: %w", err)
		}
		d.debug("bootstrapped from now", "source", src.ID, "cursor", newest)
		return 0, nil
	}

	cutoff := d.now().Add(-d.lookback)
	var recent []domain.OriginMessage
	for _, msg := range messages {
		if !msg.PostedAt.Before(cutoff) {
			recent = append(recent, msg)
		}
	}

	limit := capLimit(src.MaxBatch, d.maxPerRun, budget)
	if limit > 0 && len(recent) > limit {
		recent = recent[:limit]
	}

	handed, err := d.handoff(ctx, src.ID, 0, recent)
	if err != nil {
		return handed, err
	}
	if len(recent) == 0 {
		// Nothing inside the window; behave like start-from-now.
		if err := d.offsets.SaveCursor(ctx, src.ID, newest, true); err != nil {
			return 0, fmt.Errorf("bootstrap cursor: %w", err)
		}
	}
	return handed, nil
}

// handoff publishes messages oldest first and persists the cursor at the
// newest id actually accepted by the queue. On a mid-batch failure the
// cursor still covers the successful prefix and the error is returned.
func (d *Driver) handoff(ctx context.Context, sourceID string, lastSeen int64, messages []domain.OriginMessage) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	cursor := lastSeen
	handed := 0
	var handoffErr error

	for _, msg := range messages {
		env := domain.Envelope{
			SourceID:  msg.SourceID,
			MessageID: msg.MessageID,
			PostedAt:  msg.PostedAt,
			Text:      msg.Text,
			TraceID:   uuid.NewString(),
		}
		if err := d.queue.Publish(ctx, env); err != nil {
			handoffErr = fmt.Errorf("handoff %s: %w", msg.Key(), err)
			break
		}
		cursor = msg.MessageID
		handed++
	}

	if cursor > lastSeen {
		if err := d.offsets.SaveCursor(ctx, sourceID, cursor, true); err != nil {
			if handoffErr == nil {
				handoffErr = fmt.Errorf("save cursor: %w", err)
			}
		}
	}

	d.debug("handoff complete", "source", sourceID, "handed", handed, "cursor", cursor)
	return handed, handoffErr
}

func capLimit(maxBatch, maxPerRun, budget int) int {
	limit := maxBatch
	if maxPerRun > 0 && (limit <= 0 || budget < limit) {
		limit = budget
	}
	return limit
}

func (d *Driver) debug(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, args...)
	}
}

func (d *Driver) warn(msg string, args ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, args...)
	}
}
