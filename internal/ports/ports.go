package ports

import (
	"context"
	"time"

	"NewsDesk/internal/domain"
)

// OffsetStore persists per-source ingestion cursors.
type OffsetStore interface {
	GetSource(ctx context.Context, id string) (domain.Source, error)
	SaveCursor(ctx context.Context, id string, lastSeenID int64, bootstrapped bool) error
}

// DraftStore is the authoritative home of draft lifecycle state. All
// mutations are conditional on the version read immediately prior and fail
// with storage.ErrVersionConflict when another writer got there first.
type DraftStore interface {
	// SaveOrigin records the immutable upstream message; a duplicate origin
	// key is a no-op reported via the bool.
	SaveOrigin(ctx context.Context, msg domain.OriginMessage) (bool, error)
	// CreateDraft inserts a draft unless one already exists for its origin
	// key, in which case the existing draft is returned with created=false.
	CreateDraft(ctx context.Context, draft domain.Draft) (domain.Draft, bool, error)
	GetDraft(ctx context.Context, id string) (domain.Draft, error)
	// UpdateDraft writes the mutable fields guarded by draft.Version and
	// returns the stored draft with the incremented version.
	UpdateDraft(ctx context.Context, draft domain.Draft) (domain.Draft, error)
	// FinalizePublish flips the draft to PUBLISHED and writes the publish
	// record in one atomic step, guarded by version.
	FinalizePublish(ctx context.Context, draftID string, version int64, rec domain.PublishRecord) (domain.Draft, error)
	GetPublishRecord(ctx context.Context, draftID string) (domain.PublishRecord, error)
	// ListStale returns drafts resting in the given state since before the
	// cutoff, oldest first. A limit of zero or less means no limit.
	ListStale(ctx context.Context, state domain.State, cutoff time.Time, limit int) ([]domain.Draft, error)
}

// QueuePublisher hands envelopes to the message queue. A nil return means the
// queue acknowledged acceptance of this one message.
type QueuePublisher interface {
	Publish(ctx context.Context, env domain.Envelope) error
}

// Redrafter rewrites raw source text into publishable copy.
type Redrafter interface {
	Redraft(ctx context.Context, text, instruction string) (domain.Redraft, error)
}

// ReviewBot drives the operator-facing review surface.
type ReviewBot interface {
	// SendReview posts a fresh review message with action controls and
	// returns the chat/message ids referencing it.
	SendReview(ctx context.Context, draft domain.Draft) (chatID, messageID int64, err error)
	// EditReview re-renders the existing review message in place.
	EditReview(ctx context.Context, draft domain.Draft) error
	// AnswerCallback acknowledges an inline-button press with a short text.
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// ChannelPublisher performs the single outbound publish side effect. A
// non-empty imageURL turns the publish into a photo post with the draft text
// as caption.
type ChannelPublisher interface {
	Publish(ctx context.Context, draft domain.Draft, imageURL string) (channelID, channelMessageID int64, err error)
}

// ImageGenerator produces an illustration URL for a prompt.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Notifier hints the review orchestrator about a freshly created draft.
// Delivery is best effort; reconciliation covers lost hints.
type Notifier interface {
	NotifyNewDraft(ctx context.Context, draftID string) error
}

// Scheduler drives the periodic reconciliation job.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
