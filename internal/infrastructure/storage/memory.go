package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// MemoryStore is an in-process store with the same conditional-write
// semantics as PostgresStore. It backs tests and local runs without a
// database.
type MemoryStore struct {
	mu      sync.Mutex
	sources map[string]domain.Source
	origins map[string]domain.OriginMessage
	drafts  map[string]domain.Draft
	records map[string]domain.PublishRecord
}

var (
	_ ports.OffsetStore = (*MemoryStore)(nil)
	_ ports.DraftStore  = (*MemoryStore)(nil)
)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: map[string]domain.Source{},
		origins: map[string]domain.OriginMessage{},
		drafts:  map[string]domain.Draft{},
		records: map[string]domain.PublishRecord{},
	}
}

// GetSource loads a source cursor row.
func (s *MemoryStore) GetSource(_ context.Context, id string) (domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return domain.Source{}, ErrNotFound
	}
	return src, nil
}

// SaveCursor upserts the cursor, never letting it move backwards.
func (s *MemoryStore) SaveCursor(_ context.Context, id string, lastSeenID int64, bootstrapped bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if ok && src.LastSeenID > lastSeenID {
		return nil
	}
	s.sources[id] = domain.Source{
		ID:           id,
		Enabled:      true,
		LastSeenID:   lastSeenID,
		Bootstrapped: bootstrapped,
		UpdatedAt:    time.Now().UTC(),
	}
	return nil
}

// SaveOrigin records the upstream message, deduped on origin key.
func (s *MemoryStore) SaveOrigin(_ context.Context, msg domain.OriginMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.origins[msg.Key()]; ok {
		return false, nil
	}
	s.origins[msg.Key()] = msg
	return true, nil
}

// CreateDraft inserts the draft unless its origin key already has one.
func (s *MemoryStore) CreateDraft(_ context.Context, draft domain.Draft) (domain.Draft, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.drafts {
		if existing.SourceID == draft.SourceID && existing.MessageID == draft.MessageID {
			return existing, false, nil
		}
	}

	now := time.Now().UTC()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	s.drafts[draft.ID] = draft
	return draft, true, nil
}

// GetDraft loads one draft by id.
func (s *MemoryStore) GetDraft(_ context.Context, id string) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	draft, ok := s.drafts[id]
	if !ok {
		return domain.Draft{}, ErrNotFound
	}
	return draft, nil
}

// UpdateDraft performs the conditional write guarded by draft.Version.
func (s *MemoryStore) UpdateDraft(_ context.Context, draft domain.Draft) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.drafts[draft.ID]
	if !ok {
		return domain.Draft{}, ErrNotFound
	}
	if stored.Version != draft.Version {
		return domain.Draft{}, ErrVersionConflict
	}

	draft.Version++
	draft.CreatedAt = stored.CreatedAt
	draft.UpdatedAt = time.Now().UTC()
	s.drafts[draft.ID] = draft
	return draft, nil
}

// FinalizePublish flips the draft and writes the record in one step.
func (s *MemoryStore) FinalizePublish(_ context.Context, draftID string, version int64, rec domain.PublishRecord) (domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.drafts[draftID]
	if !ok {
		return domain.Draft{}, ErrNotFound
	}
	if stored.Version != version {
		return domain.Draft{}, ErrVersionConflict
	}

	stored.State = domain.StatePublished
	stored.Error = ""
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	s.drafts[draftID] = stored

	rec.DraftID = draftID
	rec.CreatedAt = time.Now().UTC()
	s.records[draftID] = rec
	return stored, nil
}

// GetPublishRecord loads the publish proof for a draft.
func (s *MemoryStore) GetPublishRecord(_ context.Context, draftID string) (domain.PublishRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[draftID]
	if !ok {
		return domain.PublishRecord{}, ErrNotFound
	}
	return rec, nil
}

// ListStale returns drafts resting in the given state since before cutoff.
func (s *MemoryStore) ListStale(_ context.Context, state domain.State, cutoff time.Time, limit int) ([]domain.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []domain.Draft
	for _, draft := range s.drafts {
		if draft.State == state && draft.UpdatedAt.Before(cutoff) {
			stale = append(stale, draft)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}
