package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/storage"
	"NewsDesk/internal/ports"
)

// OrchestratorDeps wires all driven adapters into the review state machine.
type OrchestratorDeps struct {
	Store      ports.DraftStore
	Redrafter  ports.Redrafter
	Bot        ports.ReviewBot
	Channel    ports.ChannelPublisher
	Imager     ports.ImageGenerator
	Profile    func(sourceID string) string
	StuckAfter time.Duration
	Logger     *slog.Logger
}

// Orchestrator owns every draft mutation after creation. The per-draft
// version compare-and-swap on the store is the only serialization mechanism;
// no lock is held across collaborator calls except the PUBLISHING claim,
// which ties the record write to the successful send.
type Orchestrator struct {
	store      ports.DraftStore
	redrafter  ports.Redrafter
	bot        ports.ReviewBot
	channel    ports.ChannelPublisher
	imager     ports.ImageGenerator
	profile    func(sourceID string) string
	stuckAfter time.Duration
	logger     *slog.Logger
}

// NewOrchestrator constructs the state machine component.
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	profile := deps.Profile
	if profile == nil {
		profile = func(string) string { return "" }
	}
	stuckAfter := deps.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = 10 * time.Minute
	}
	return &Orchestrator{
		store:      deps.Store,
		redrafter:  deps.Redrafter,
		bot:        deps.Bot,
		channel:    deps.Channel,
		imager:     deps.Imager,
		profile:    profile,
		stuckAfter: stuckAfter,
		logger:     deps.Logger,
	}
}

// HandleNewDraft reacts to a new-draft hint by running the automatic
// redraft. Drafts that already progressed are left alone.
func (o *Orchestrator) HandleNewDraft(ctx context.Context, draftID string) (Ack, error) {
	draft, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return failed("load draft"), fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft.State != domain.StateIngested {
		return alreadyHandled(), nil
	}
	return o.Redraft(ctx, draftID)
}

// Redraft invokes the AI collaborator and stores the rewritten text. An AI
// failure on a draft without reviewable text flips it to FAILED so the
// operator sees it; from IN_REVIEW the prior text stays and only the error
// field is set.
func (o *Orchestrator) Redraft(ctx context.Context, draftID string) (Ack, error) {
	draft, ack, ok, err := o.loadFor(ctx, draftID, domain.ActionRedraft)
	if !ok {
		return ack, err
	}

	// The AI call runs without any lock held; the version read above guards
	// the write after it.
	result, aiErr := o.redrafter.Redraft(ctx, draft.Text, o.profile(draft.SourceID))
	if aiErr != nil {
		return o.recordRedraftFailure(ctx, draft, aiErr)
	}

	draft.Text = result.Text
	draft.State = domain.StateInReview
	draft.Error = ""
	draft.ImagePrompt = result.ImagePrompt
	draft.Model = result.Model
	draft.Tokens = result.Tokens

	updated, err := o.store.UpdateDraft(ctx, draft)
	if errors.Is(err, storage.ErrVersionConflict) {
		return alreadyHandled(), nil
	}
	if err != nil {
		return failed("store draft"), fmt.Errorf("store redraft %s: %w", draftID, err)
	}

	o.renderSurface(ctx, updated)
	return done("Redrafted"), nil
}

func (o *Orchestrator) recordRedraftFailure(ctx context.Context, draft domain.Draft, aiErr error) (Ack, error) {
	o.warn("redraft failed", "draft_id", draft.ID, "error", aiErr)

	if draft.State == domain.StateIngested {
		draft.State = domain.StateFailed
	}
	draft.Error = fmt.Sprintf("redraft failed: %v", aiErr)

	updated, err := o.store.UpdateDraft(ctx, draft)
	if errors.Is(err, storage.ErrVersionConflict) {
		return alreadyHandled(), nil
	}
	if err != nil {
		return failed("store draft"), fmt.Errorf("store redraft failure %s: %w", draft.ID, err)
	}

	// Failure must never be silent: surface it on the review chat.
	o.renderSurface(ctx, updated)
	return failed(draft.Error), nil
}

// Edit replaces the draft text with operator-provided copy and moves it into
// review. The state label stays IN_REVIEW on repeat edits; the version still
// increments.
func (o *Orchestrator) Edit(ctx context.Context, draftID, newText string) (Ack, error) {
	draft, ack, ok, err := o.loadFor(ctx, draftID, domain.ActionEdit)
	if !ok {
		return ack, err
	}
	if newText == "" {
		return rejected("empty text"), nil
	}

	draft.Text = newText
	draft.State = domain.StateInReview
	draft.Error = ""

	updated, err := o.store.UpdateDraft(ctx, draft)
	if errors.Is(err, storage.ErrVersionConflict) {
		return alreadyHandled(), nil
	}
	if err != nil {
		return failed("store draft"), fmt.Errorf("store edit %s: %w", draftID, err)
	}

	o.renderSurface(ctx, updated)
	return done("Edited"), nil
}

// Skip retires the draft without publishing.
func (o *Orchestrator) Skip(ctx context.Context, draftID string) (Ack, error) {
	draft, ack, ok, err := o.loadFor(ctx, draftID, domain.ActionSkip)
	if !ok {
		return ack, err
	}

	draft.State = domain.StateSkipped

	updated, err := o.store.UpdateDraft(ctx, draft)
	if errors.Is(err, storage.ErrVersionConflict) {
		return alreadyHandled(), nil
	}
	if err != nil {
		return failed("store draft"), fmt.Errorf("store skip %s: %w", draftID, err)
	}

	o.renderSurface(ctx, updated)
	return done("Skipped"), nil
}

// Publish performs the at-most-once channel publish. The PUBLISHING claim is
// acquired by compare-and-swap before the outbound send; exactly one caller
// wins, every other concurrent request observes a version mismatch or the
// claim itself and takes the no-op path.
func (o *Orchestrator) Publish(ctx context.Context, draftID string) (Ack, error) {
	draft, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return failed("load draft"), fmt.Errorf("load draft %s: %w", draftID, err)
	}

	if draft.State == domain.StatePublishing {
		return alreadyHandled(), nil
	}
	if draft.State.Terminal() {
		o.checkRecordIntegrity(ctx, draft)
		return alreadyFinalized(), nil
	}

	if _, ok := domain.Next(draft.State, domain.ActionPublish); !ok {
		return rejected(fmt.Sprintf("cannot publish from %s", draft.State)), nil
	}

	claim := draft
	claim.State = domain.StatePublishing
	claimed, err := o.store.UpdateDraft(ctx, claim)
	if errors.Is(err, storage.ErrVersionConflict) {
		return alreadyHandled(), nil
	}
	if err != nil {
		return failed("claim draft"), fmt.Errorf("claim publish %s: %w", draftID, err)
	}

	// The illustration is generated fresh at publish time from the stored
	// prompt. Generation failure releases the claim the same way a failed
	// send does: the draft never goes out without its image.
	imageURL, genErr := o.generateImage(ctx, claimed)
	if genErr != nil {
		o.warn("image generation failed", "draft_id", draftID, "error", genErr)
		return o.releaseClaim(ctx, claimed, fmt.Sprintf("image generation failed: %v", genErr)), nil
	}

	channelID, messageID, sendErr := o.channel.Publish(ctx, claimed, imageURL)
	if sendErr != nil {
		o.warn("publish send failed", "draft_id", draftID, "error", sendErr)
		return o.releaseClaim(ctx, claimed, fmt.Sprintf("publish failed: %v", sendErr)), nil
	}

	rec := domain.PublishRecord{DraftID: draftID, ChannelID: channelID, ChannelMessageID: messageID}
	final, err := o.store.FinalizePublish(ctx, claimed.ID, claimed.Version, rec)
	if err != nil {
		// The send happened; retry the record write rather than the send.
		o.warn("finalize publish failed, retrying", "draft_id", draftID, "error", err)
		final, err = o.store.FinalizePublish(ctx, claimed.ID, claimed.Version, rec)
		if err != nil {
			o.warn("publish record missing after send", "draft_id", draftID,
				"channel_message_id", messageID, "error", err)
			return failed("published but record write failed"), fmt.Errorf("finalize publish %s: %w", draftID, err)
		}
	}

	o.renderSurface(ctx, final)
	return done("Published"), nil
}

// Reconcile is the fallback for lost notify hints and interrupted publish
// attempts. Drafts stuck in INGESTED are re-driven through the automatic
// redraft; drafts stuck in PUBLISHING are handed back to the operator, who
// must verify the channel before retrying, since the send may or may not
// have happened.
func (o *Orchestrator) Reconcile(ctx context.Context) {
	cutoff := time.Now().Add(-o.stuckAfter)

	stuck, err := o.store.ListStale(ctx, domain.StateIngested, cutoff, 50)
	if err != nil {
		o.warn("list stuck ingested", "error", err)
	}
	for _, draft := range stuck {
		if _, err := o.Redraft(ctx, draft.ID); err != nil {
			o.warn("reconcile redraft", "draft_id", draft.ID, "error", err)
		}
	}

	claimed, err := o.store.ListStale(ctx, domain.StatePublishing, cutoff, 50)
	if err != nil {
		o.warn("list stuck publishing", "error", err)
	}
	for _, draft := range claimed {
		draft.State = domain.StateInReview
		draft.Error = "publish attempt interrupted; verify the channel before retrying"
		reverted, err := o.store.UpdateDraft(ctx, draft)
		if err != nil {
			if !errors.Is(err, storage.ErrVersionConflict) {
				o.warn("release stale claim", "draft_id", draft.ID, "error", err)
			}
			continue
		}
		o.renderSurface(ctx, reverted)
	}
}

// generateImage produces the publish illustration from the draft's stored
// prompt. Without a generator the publish goes out as plain text.
func (o *Orchestrator) generateImage(ctx context.Context, draft domain.Draft) (string, error) {
	if o.imager == nil {
		return "", nil
	}
	prompt := draft.ImagePrompt
	if prompt == "" {
		prompt = "Editorial photo"
	}
	return o.imager.GenerateImage(ctx, prompt)
}

// releaseClaim rolls a held PUBLISHING claim back to IN_REVIEW so a retry
// stays possible; the claim version makes the rollback race-free.
func (o *Orchestrator) releaseClaim(ctx context.Context, claimed domain.Draft, reason string) Ack {
	rollback := claimed
	rollback.State = domain.StateInReview
	rollback.Error = reason
	if reverted, err := o.store.UpdateDraft(ctx, rollback); err != nil {
		o.warn("publish rollback failed", "draft_id", claimed.ID, "error", err)
	} else {
		o.renderSurface(ctx, reverted)
	}
	return failed(reason)
}

// loadFor loads the draft and applies the terminal/transition-table gates
// shared by every action. ok=false means the returned ack is the answer.
func (o *Orchestrator) loadFor(ctx context.Context, draftID string, action domain.Action) (domain.Draft, Ack, bool, error) {
	draft, err := o.store.GetDraft(ctx, draftID)
	if err != nil {
		return domain.Draft{}, failed("load draft"), false, fmt.Errorf("load draft %s: %w", draftID, err)
	}
	if draft.State.Terminal() {
		return domain.Draft{}, alreadyFinalized(), false, nil
	}
	if _, ok := domain.Next(draft.State, action); !ok {
		return domain.Draft{}, rejected(fmt.Sprintf("cannot %s from %s", action, draft.State)), false, nil
	}
	return draft, Ack{}, true, nil
}

// renderSurface sends or edits the review message for the draft's current
// content. Surface failures are logged, never propagated: the store is the
// source of truth and the next render catches up.
func (o *Orchestrator) renderSurface(ctx context.Context, draft domain.Draft) {
	if o.bot == nil {
		return
	}

	if draft.ReviewMessageID != 0 {
		if err := o.bot.EditReview(ctx, draft); err != nil {
			o.warn("edit review message", "draft_id", draft.ID, "error", err)
		}
		return
	}

	chatID, messageID, err := o.bot.SendReview(ctx, draft)
	if err != nil {
		o.warn("send review message", "draft_id", draft.ID, "error", err)
		return
	}

	draft.ReviewChatID = chatID
	draft.ReviewMessageID = messageID
	if _, err := o.store.UpdateDraft(ctx, draft); err != nil && !errors.Is(err, storage.ErrVersionConflict) {
		o.warn("store review message ids", "draft_id", draft.ID, "error", err)
	}
}

// checkRecordIntegrity logs the "PUBLISHED without record" inconsistency
// when observed. Repair never re-sends; the record write is atomic with the
// state flip, so this indicates outside interference worth an operator look.
func (o *Orchestrator) checkRecordIntegrity(ctx context.Context, draft domain.Draft) {
	if draft.State != domain.StatePublished {
		return
	}
	if _, err := o.store.GetPublishRecord(ctx, draft.ID); errors.Is(err, storage.ErrNotFound) {
		o.warn("draft published without publish record", "draft_id", draft.ID)
	}
}

func (o *Orchestrator) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
