package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// Ingestor turns verified queue envelopes into drafts. Creation is
// idempotent on the origin key: a duplicate delivery returns the existing
// draft without touching its state.
type Ingestor struct {
	store    ports.DraftStore
	notifier ports.Notifier
	logger   *slog.Logger
}

// NewIngestor wires the draft store and the best-effort notifier.
func NewIngestor(store ports.DraftStore, notifier ports.Notifier, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: store, notifier: notifier, logger: logger}
}

// Ingest persists the origin message and creates the draft in the entry
// state. The returned bool reports whether this call created it.
func (i *Ingestor) Ingest(ctx context.Context, env domain.Envelope) (domain.Draft, bool, error) {
	origin := env.Origin()
	if _, err := i.store.SaveOrigin(ctx, origin); err != nil {
		return domain.Draft{}, false, fmt.Errorf("save origin %s: %w", origin.Key(), err)
	}

	draft, created, err := i.store.CreateDraft(ctx, domain.Draft{
		ID:        uuid.NewString(),
		SourceID:  env.SourceID,
		MessageID: env.MessageID,
		State:     domain.StateIngested,
		Text:      env.Text,
		Version:   1,
	})
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("create draft %s: %w", origin.Key(), err)
	}

	if !created {
		i.debug("duplicate delivery", "origin", origin.Key(), "draft_id", draft.ID, "trace_id", env.TraceID)
		return draft, false, nil
	}

	i.debug("draft created", "origin", origin.Key(), "draft_id", draft.ID, "trace_id", env.TraceID)

	// The draft row is the durable record; the notify hint is an
	// optimization and its failure must not surface to the queue.
	if i.notifier != nil {
		if err := i.notifier.NotifyNewDraft(ctx, draft.ID); err != nil {
			i.warn("notify failed", "draft_id", draft.ID, "error", err)
		}
	}

	return draft, true, nil
}

func (i *Ingestor) debug(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Debug(msg, args...)
	}
}

func (i *Ingestor) warn(msg string, args ...any) {
	if i.logger != nil {
		i.logger.Warn(msg, args...)
	}
}
