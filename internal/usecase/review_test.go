package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/infrastructure/storage"
)

type fakeRedrafter struct {
	mu     sync.Mutex
	calls  int
	result domain.Redraft
	err    error
}

func (f *fakeRedrafter) Redraft(_ context.Context, text, _ string) (domain.Redraft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.Redraft{}, f.err
	}
	res := f.result
	if res.Text == "" {
		res.Text = "rewritten: " + text
	}
	return res, nil
}

func (f *fakeRedrafter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBot struct {
	mu     sync.Mutex
	sends  int
	edits  int
	nextID int64
}

func (f *fakeBot) SendReview(_ context.Context, _ domain.Draft) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	f.nextID++
	return 10, f.nextID, nil
}

func (f *fakeBot) EditReview(_ context.Context, _ domain.Draft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits++
	return nil
}

func (f *fakeBot) AnswerCallback(_ context.Context, _, _ string) error { return nil }

type fakeChannel struct {
	mu        sync.Mutex
	sends     int
	lastText  string
	lastImage string
	err       error
}

func (f *fakeChannel) Publish(_ context.Context, draft domain.Draft, imageURL string) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	f.sends++
	f.lastText = draft.Text
	f.lastImage = imageURL
	return -100500, int64(f.sends), nil
}

func (f *fakeChannel) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type fakeImager struct {
	mu      sync.Mutex
	prompts []string
	url     string
	err     error
}

func (f *fakeImager) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type reviewFixture struct {
	store     *storage.MemoryStore
	redrafter *fakeRedrafter
	bot       *fakeBot
	channel   *fakeChannel
	imager    *fakeImager
	orch      *Orchestrator
}

func newReviewFixture(t *testing.T) *reviewFixture {
	t.Helper()
	f := &reviewFixture{
		store:     storage.NewMemoryStore(),
		redrafter: &fakeRedrafter{},
		bot:       &fakeBot{},
		channel:   &fakeChannel{},
		imager:    &fakeImager{url: "https://img.example/illustration.png"},
	}
	f.orch = NewOrchestrator(OrchestratorDeps{
		Store:     f.store,
		Redrafter: f.redrafter,
		Bot:       f.bot,
		Channel:   f.channel,
		Imager:    f.imager,
		Profile:   func(string) string { return "be brief" },
	})
	return f
}

func (f *reviewFixture) seed(t *testing.T, id string, state domain.State, text string) domain.Draft {
	t.Helper()
	draft, created, err := f.store.CreateDraft(context.Background(), domain.Draft{
		ID:        id,
		SourceID:  "s",
		MessageID: int64(len(f.mustList(t)) + 1),
		State:     state,
		Text:      text,
		Version:   1,
	})
	if err != nil || !created {
		t.Fatalf("seed draft %s: created=%v err=%v", id, created, err)
	}
	return draft
}

func (f *reviewFixture) mustList(t *testing.T) []domain.Draft {
	t.Helper()
	var all []domain.Draft
	for _, state := range []domain.State{
		domain.StateIngested, domain.StateInReview, domain.StatePublishing,
		domain.StatePublished, domain.StateSkipped, domain.StateFailed,
	} {
		drafts, err := f.store.ListStale(context.Background(), state, time.Now().Add(time.Hour), 0)
		if err != nil {
			t.Fatalf("list drafts: %v", err)
		}
		all = append(all, drafts...)
	}
	return all
}

func (f *reviewFixture) get(t *testing.T, id string) domain.Draft {
	t.Helper()
	draft, err := f.store.GetDraft(context.Background(), id)
	if err != nil {
		t.Fatalf("get draft %s: %v", id, err)
	}
	return draft
}

func TestHandleNewDraftRunsRedraft(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.redrafter.result = domain.Redraft{Text: "clean copy", ImagePrompt: "a calm newsroom", Model: "gpt-4o-mini", Tokens: 42}
	f.seed(t, "d1", domain.StateIngested, "raw text")

	ack, err := f.orch.HandleNewDraft(context.Background(), "d1")
	if err != nil {
		t.Fatalf("handle new draft: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("ack %v, want done", ack.Status)
	}

	got := f.get(t, "d1")
	if got.State != domain.StateInReview {
		t.Fatalf("state %s, want %s", got.State, domain.StateInReview)
	}
	if got.Text != "clean copy" || got.Model != "gpt-4o-mini" || got.Tokens != 42 {
		t.Fatalf("redraft fields not stored: %+v", got)
	}
	if got.ImagePrompt != "a calm newsroom" {
		t.Fatalf("image prompt not stored: %q", got.ImagePrompt)
	}
	if got.ReviewMessageID == 0 || got.ReviewChatID != 10 {
		t.Fatalf("review surface ids not stored: %+v", got)
	}
	if f.bot.sends != 1 {
		t.Fatalf("review sends %d, want 1", f.bot.sends)
	}
}

func TestHandleNewDraftIgnoresProgressed(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "already reviewed")

	ack, err := f.orch.HandleNewDraft(context.Background(), "d1")
	if err != nil {
		t.Fatalf("handle new draft: %v", err)
	}
	if ack.Status != AckAlreadyHandled {
		t.Fatalf("ack %v, want already_handled", ack.Status)
	}
	if f.redrafter.callCount() != 0 {
		t.Fatal("redrafter called for progressed draft")
	}
}

func TestRedraftFailureFlipsNewDraftToFailed(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.redrafter.err = errors.New("model overloaded")
	f.seed(t, "d1", domain.StateIngested, "raw")

	ack, err := f.orch.Redraft(context.Background(), "d1")
	if err != nil {
		t.Fatalf("redraft: %v", err)
	}
	if ack.Status != AckFailed {
		t.Fatalf("ack %v, want failed", ack.Status)
	}

	got := f.get(t, "d1")
	if got.State != domain.StateFailed {
		t.Fatalf("state %s, want %s", got.State, domain.StateFailed)
	}
	if !strings.Contains(got.Error, "model overloaded") {
		t.Fatalf("error field %q", got.Error)
	}
	if f.bot.sends != 1 {
		t.Fatal("failure was not surfaced to review chat")
	}
}

func TestRedraftFailureKeepsReviewableText(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.redrafter.err = errors.New("timeout")
	f.seed(t, "d1", domain.StateInReview, "previous good copy")

	if _, err := f.orch.Redraft(context.Background(), "d1"); err != nil {
		t.Fatalf("redraft: %v", err)
	}

	got := f.get(t, "d1")
	if got.State != domain.StateInReview {
		t.Fatalf("state %s, want %s", got.State, domain.StateInReview)
	}
	if got.Text != "previous good copy" {
		t.Fatalf("prior text lost: %q", got.Text)
	}
	if got.Error == "" {
		t.Fatal("error field empty")
	}
}

func TestRedraftRecoversFailedDraft(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateFailed, "raw")

	ack, err := f.orch.Redraft(context.Background(), "d1")
	if err != nil {
		t.Fatalf("redraft: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("ack %v, want done", ack.Status)
	}
	got := f.get(t, "d1")
	if got.State != domain.StateInReview || got.Error != "" {
		t.Fatalf("failed draft not recovered: %+v", got)
	}
}

func TestEditedTextReachesTheChannel(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "machine copy")

	ack, err := f.orch.Edit(context.Background(), "d1", "operator copy")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("edit ack %v, want done", ack.Status)
	}

	ack, err = f.orch.Publish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("publish ack %v, want done", ack.Status)
	}

	if f.channel.lastText != "operator copy" {
		t.Fatalf("channel got %q, want the edited text", f.channel.lastText)
	}

	rec, err := f.store.GetPublishRecord(context.Background(), "d1")
	if err != nil {
		t.Fatalf("publish record: %v", err)
	}
	if rec.ChannelID != -100500 || rec.ChannelMessageID == 0 {
		t.Fatalf("record incomplete: %+v", rec)
	}
}

func TestEditRejectsEmptyText(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "copy")

	ack, err := f.orch.Edit(context.Background(), "d1", "")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if ack.Status != AckRejected {
		t.Fatalf("ack %v, want rejected", ack.Status)
	}
	if got := f.get(t, "d1"); got.Version != 1 {
		t.Fatalf("rejected edit still wrote: version %d", got.Version)
	}
}

func TestTerminalDraftRefusesEverything(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "copy")

	if ack, _ := f.orch.Skip(context.Background(), "d1"); ack.Status != AckDone {
		t.Fatalf("skip ack %v", ack.Status)
	}

	for name, act := range map[string]func(context.Context, string) (Ack, error){
		"publish": f.orch.Publish,
		"redraft": f.orch.Redraft,
		"skip":    f.orch.Skip,
	} {
		ack, err := act(context.Background(), "d1")
		if err != nil {
			t.Fatalf("%s after skip: %v", name, err)
		}
		if ack.Status != AckAlreadyFinalized {
			t.Fatalf("%s after skip: ack %v, want already_finalized", name, ack.Status)
		}
	}
	if f.channel.sendCount() != 0 {
		t.Fatal("skipped draft reached the channel")
	}
}

func TestPublishRejectedOutsideReview(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateIngested, "raw")
	f.seed(t, "d2", domain.StateFailed, "raw")

	for _, id := range []string{"d1", "d2"} {
		ack, err := f.orch.Publish(context.Background(), id)
		if err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
		if ack.Status != AckRejected {
			t.Fatalf("publish %s: ack %v, want rejected", id, ack.Status)
		}
	}
	if f.channel.sendCount() != 0 {
		t.Fatal("unreviewed draft reached the channel")
	}
}

func TestPublishSendFailureRollsBackClaim(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.channel.err = errors.New("channel unavailable")
	f.seed(t, "d1", domain.StateInReview, "copy")

	ack, err := f.orch.Publish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ack.Status != AckFailed {
		t.Fatalf("ack %v, want failed", ack.Status)
	}

	got := f.get(t, "d1")
	if got.State != domain.StateInReview {
		t.Fatalf("claim not rolled back: state %s", got.State)
	}
	if got.Error == "" {
		t.Fatal("send failure not recorded on the draft")
	}
	if _, err := f.store.GetPublishRecord(context.Background(), "d1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("publish record written for a failed send")
	}

	// The operator can retry once the channel recovers.
	f.channel.err = nil
	ack, err = f.orch.Publish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("retry publish: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("retry ack %v, want done", ack.Status)
	}
	if f.channel.sendCount() != 1 {
		t.Fatalf("channel sends %d, want 1", f.channel.sendCount())
	}
}

func TestPublishSendsGeneratedImage(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	if _, created, err := f.store.CreateDraft(context.Background(), domain.Draft{
		ID: "d1", SourceID: "s", MessageID: 1, State: domain.StateInReview,
		Text: "copy", ImagePrompt: "a calm newsroom", Version: 1,
	}); err != nil || !created {
		t.Fatalf("seed draft: created=%v err=%v", created, err)
	}

	ack, err := f.orch.Publish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ack.Status != AckDone {
		t.Fatalf("ack %v, want done", ack.Status)
	}

	if len(f.imager.prompts) != 1 || f.imager.prompts[0] != "a calm newsroom" {
		t.Fatalf("imager prompts %v", f.imager.prompts)
	}
	if f.channel.lastImage != "https://img.example/illustration.png" {
		t.Fatalf("channel got image %q", f.channel.lastImage)
	}
}

func TestPublishFallsBackToDefaultImagePrompt(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "copy")

	if ack, _ := f.orch.Publish(context.Background(), "d1"); ack.Status != AckDone {
		t.Fatalf("ack %v", ack.Status)
	}
	if len(f.imager.prompts) != 1 || f.imager.prompts[0] != "Editorial photo" {
		t.Fatalf("imager prompts %v", f.imager.prompts)
	}
}

func TestPublishImageFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.imager.err = errors.New("image quota exceeded")
	f.seed(t, "d1", domain.StateInReview, "copy")

	ack, err := f.orch.Publish(context.Background(), "d1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if ack.Status != AckFailed {
		t.Fatalf("ack %v, want failed", ack.Status)
	}
	if f.channel.sendCount() != 0 {
		t.Fatal("draft reached the channel without its image")
	}

	got := f.get(t, "d1")
	if got.State != domain.StateInReview {
		t.Fatalf("claim not released: state %s", got.State)
	}
	if !strings.Contains(got.Error, "image quota exceeded") {
		t.Fatalf("error field %q", got.Error)
	}
	if _, err := f.store.GetPublishRecord(context.Background(), "d1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("publish record written for a failed attempt")
	}

	f.imager.err = nil
	if ack, _ := f.orch.Publish(context.Background(), "d1"); ack.Status != AckDone {
		t.Fatalf("retry ack %v, want done", ack.Status)
	}
	if f.channel.sendCount() != 1 {
		t.Fatalf("channel sends %d, want 1", f.channel.sendCount())
	}
}

func TestConcurrentPublishSendsExactlyOnce(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.seed(t, "d1", domain.StateInReview, "copy")

	const callers = 8
	acks := make([]Ack, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack, err := f.orch.Publish(context.Background(), "d1")
			if err != nil {
				t.Errorf("publish %d: %v", i, err)
			}
			acks[i] = ack
		}(i)
	}
	wg.Wait()

	if f.channel.sendCount() != 1 {
		t.Fatalf("channel sends %d, want exactly 1", f.channel.sendCount())
	}

	wins := 0
	for _, ack := range acks {
		switch ack.Status {
		case AckDone:
			wins++
		case AckAlreadyHandled, AckAlreadyFinalized:
		default:
			t.Fatalf("unexpected ack %v", ack.Status)
		}
	}
	if wins != 1 {
		t.Fatalf("done acks %d, want exactly 1", wins)
	}

	got := f.get(t, "d1")
	if got.State != domain.StatePublished {
		t.Fatalf("state %s, want %s", got.State, domain.StatePublished)
	}
	if _, err := f.store.GetPublishRecord(context.Background(), "d1"); err != nil {
		t.Fatalf("publish record missing: %v", err)
	}
}

func TestReconcileRecoversStuckDrafts(t *testing.T) {
	t.Parallel()

	f := newReviewFixture(t)
	f.orch.stuckAfter = time.Nanosecond
	f.seed(t, "d1", domain.StateIngested, "lost hint")
	f.seed(t, "d2", domain.StatePublishing, "interrupted publish")
	time.Sleep(5 * time.Millisecond)

	f.orch.Reconcile(context.Background())

	d1 := f.get(t, "d1")
	if d1.State != domain.StateInReview {
		t.Fatalf("stuck ingested draft not redrafted: state %s", d1.State)
	}
	if f.redrafter.callCount() != 1 {
		t.Fatalf("redrafter calls %d, want 1", f.redrafter.callCount())
	}

	d2 := f.get(t, "d2")
	if d2.State != domain.StateInReview {
		t.Fatalf("stale claim not released: state %s", d2.State)
	}
	if d2.Error == "" {
		t.Fatal("released claim carries no operator warning")
	}
	// Reconciliation must never retry the send itself.
	if f.channel.sendCount() != 0 {
		t.Fatal("reconcile re-sent to the channel")
	}
}
