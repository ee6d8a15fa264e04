package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"NewsDesk/internal/domain"
)

func TestMemoryStoreCursorMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetSource(ctx, "minfin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.SaveCursor(ctx, "minfin", 103, true); err != nil {
		t.Fatalf("save cursor: %v", err)
	}
	// A concurrent run with an older watermark must not regress the cursor.
	if err := store.SaveCursor(ctx, "minfin", 100, true); err != nil {
		t.Fatalf("save older cursor: %v", err)
	}

	src, err := store.GetSource(ctx, "minfin")
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.LastSeenID != 103 {
		t.Fatalf("cursor regressed to %d", src.LastSeenID)
	}
}

func TestMemoryStoreCreateDraftIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	first, created, err := store.CreateDraft(ctx, domain.Draft{
		ID: "d1", SourceID: "minfin", MessageID: 101,
		State: domain.StateIngested, Version: 1,
	})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	second, created, err := store.CreateDraft(ctx, domain.Draft{
		ID: "d2", SourceID: "minfin", MessageID: 101,
		State: domain.StateIngested, Version: 1,
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created {
		t.Fatal("duplicate origin key created a second draft")
	}
	if second.ID != first.ID {
		t.Fatalf("expected existing draft %s, got %s", first.ID, second.ID)
	}
}

func TestMemoryStoreUpdateDraftVersionGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	draft, _, err := store.CreateDraft(ctx, domain.Draft{
		ID: "d1", SourceID: "minfin", MessageID: 101,
		State: domain.StateIngested, Text: "raw", Version: 1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	winner := draft
	winner.State = domain.StateInReview
	winner.Text = "rewritten"
	updated, err := store.UpdateDraft(ctx, winner)
	if err != nil {
		t.Fatalf("winner update: %v", err)
	}
	if updated.Version != draft.Version+1 {
		t.Fatalf("version not incremented: %d", updated.Version)
	}

	loser := draft
	loser.State = domain.StateSkipped
	if _, err := store.UpdateDraft(ctx, loser); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, err := store.GetDraft(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.StateInReview || got.Text != "rewritten" {
		t.Fatalf("loser overwrote winner: %+v", got)
	}
}

func TestMemoryStoreFinalizePublish(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	draft, _, err := store.CreateDraft(ctx, domain.Draft{
		ID: "d1", SourceID: "minfin", MessageID: 101,
		State: domain.StatePublishing, Version: 3,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	final, err := store.FinalizePublish(ctx, draft.ID, draft.Version, domain.PublishRecord{
		ChannelID: -100, ChannelMessageID: 555,
	})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.State != domain.StatePublished {
		t.Fatalf("state not flipped: %s", final.State)
	}

	rec, err := store.GetPublishRecord(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ChannelMessageID != 555 {
		t.Fatalf("unexpected channel message id: %d", rec.ChannelMessageID)
	}

	// A second finalize against the stale version must lose.
	if _, err := store.FinalizePublish(ctx, draft.ID, draft.Version, domain.PublishRecord{}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemoryStoreListStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()

	for i, id := range []string{"d1", "d2"} {
		if _, _, err := store.CreateDraft(ctx, domain.Draft{
			ID: id, SourceID: "minfin", MessageID: int64(i) + 101,
			State: domain.StateIngested, Version: 1,
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	stale, err := store.ListStale(ctx, domain.StateIngested, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale drafts, got %d", len(stale))
	}

	none, err := store.ListStale(ctx, domain.StateIngested, time.Now().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("list none: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no stale drafts, got %d", len(none))
	}

	// Limit zero means no limit, for every store implementation.
	all, err := store.ListStale(ctx, domain.StateIngested, time.Now().Add(time.Minute), 0)
	if err != nil {
		t.Fatalf("list unlimited: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("zero limit returned %d drafts, want 2", len(all))
	}
}
