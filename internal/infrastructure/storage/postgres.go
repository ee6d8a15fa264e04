package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"NewsDesk/internal/domain"
	"NewsDesk/internal/ports"
)

// PostgresStore implements the offset and draft stores on Postgres. Draft
// mutations are conditional updates on the version column; the publish flip
// and the publish-record insert share one transaction.
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var (
	_ ports.OffsetStore = (*PostgresStore)(nil)
	_ ports.DraftStore  = (*PostgresStore)(nil)
)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Open connects to Postgres and pings it within the given context.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// GetSource loads a source cursor row.
func (s *PostgresStore) GetSource(ctx context.Context, id string) (domain.Source, error) {
	query, args, err := s.sb.
		Select("id", "enabled", "last_seen_id", "bootstrapped", "updated_at").
		From("sources").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Source{}, fmt.Errorf("build source query: %w", err)
	}

	var src domain.Source
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&src.ID, &src.Enabled, &src.LastSeenID, &src.Bootstrapped, &src.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Source{}, ErrNotFound
		}
		return domain.Source{}, fmt.Errorf("scan source: %w", err)
	}
	return src, nil
}

// SaveCursor upserts the source cursor. The WHERE guard keeps the cursor
// monotonic even when two runs of the same source race.
func (s *PostgresStore) SaveCursor(ctx context.Context, id string, lastSeenID int64, bootstrapped bool) error {
	query := `INSERT INTO sources (id, enabled, last_seen_id, bootstrapped, updated_at)
              VALUES ($1, TRUE, $2, $3, NOW())
              ON CONFLICT (id) DO UPDATE
              SET last_seen_id = EXCLUDED.last_seen_id,
                  bootstrapped = EXCLUDED.bootstrapped,
                  updated_at = NOW()
              WHERE sources.last_seen_id <= EXCLUDED.last_seen_id`

	if _, err := s.db.ExecContext(ctx, query, id, lastSeenID, bootstrapped); err != nil {
		return fmt.Errorf("save cursor %s: %w", id, err)
	}
	return nil
}

// SaveOrigin inserts the immutable upstream message, deduped on origin key.
func (s *PostgresStore) SaveOrigin(ctx context.Context, msg domain.OriginMessage) (bool, error) {
	query, args, err := s.sb.
		Insert("origin_messages").
		Columns("source_id", "message_id", "posted_at", "text").
		Values(msg.SourceID, msg.MessageID, msg.PostedAt, msg.Text).
		Suffix("ON CONFLICT (source_id, message_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build origin insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert origin %s: %w", msg.Key(), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("origin rows affected: %w", err)
	}
	return affected > 0, nil
}

// CreateDraft inserts a draft unless its origin key already has one; the
// existing draft is returned untouched in that case.
func (s *PostgresStore) CreateDraft(ctx context.Context, draft domain.Draft) (domain.Draft, bool, error) {
	query, args, err := s.sb.
		Insert("drafts").
		Columns("id", "source_id", "message_id", "state", "text", "error", "image_prompt",
			"model", "tokens", "review_chat_id", "review_message_id", "version").
		Values(draft.ID, draft.SourceID, draft.MessageID, draft.State, draft.Text, draft.Error,
			draft.ImagePrompt, draft.Model, draft.Tokens, draft.ReviewChatID, draft.ReviewMessageID,
			draft.Version).
		Suffix("ON CONFLICT (source_id, message_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return domain.Draft{}, false, fmt.Errorf("build draft insert: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == nil {
		created, getErr := s.GetDraft(ctx, id)
		return created, true, getErr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Draft{}, false, fmt.Errorf("insert draft %s: %w", draft.OriginKey(), err)
	}

	existing, err := s.getDraftByOrigin(ctx, draft.SourceID, draft.MessageID)
	if err != nil {
		return domain.Draft{}, false, err
	}
	return existing, false, nil
}

// GetDraft loads one draft by id.
func (s *PostgresStore) GetDraft(ctx context.Context, id string) (domain.Draft, error) {
	return s.queryDraft(ctx, sq.Eq{"id": id})
}

func (s *PostgresStore) getDraftByOrigin(ctx context.Context, sourceID string, messageID int64) (domain.Draft, error) {
	return s.queryDraft(ctx, sq.Eq{"source_id": sourceID, "message_id": messageID})
}

func (s *PostgresStore) queryDraft(ctx context.Context, where sq.Eq) (domain.Draft, error) {
	query, args, err := s.draftSelect().Where(where).ToSql()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("build draft query: %w", err)
	}

	draft, err := scanDraft(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Draft{}, ErrNotFound
		}
		return domain.Draft{}, fmt.Errorf("scan draft: %w", err)
	}
	return draft, nil
}

// UpdateDraft performs the conditional write guarded by draft.Version.
func (s *PostgresStore) UpdateDraft(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	query, args, err := s.sb.
		Update("drafts").
		Set("state", draft.State).
		Set("text", draft.Text).
		Set("error", draft.Error).
		Set("image_prompt", draft.ImagePrompt).
		Set("model", draft.Model).
		Set("tokens", draft.Tokens).
		Set("review_chat_id", draft.ReviewChatID).
		Set("review_message_id", draft.ReviewMessageID).
		Set("version", draft.Version+1).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": draft.ID, "version": draft.Version}).
		ToSql()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("build draft update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("update draft %s: %w", draft.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("draft rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetDraft(ctx, draft.ID); errors.Is(getErr, ErrNotFound) {
			return domain.Draft{}, ErrNotFound
		}
		return domain.Draft{}, ErrVersionConflict
	}

	return s.GetDraft(ctx, draft.ID)
}

// FinalizePublish flips the draft to PUBLISHED and writes the publish record
// inside one transaction, guarded by the claimed version.
func (s *PostgresStore) FinalizePublish(ctx context.Context, draftID string, version int64, rec domain.PublishRecord) (domain.Draft, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE drafts SET state = $1, error = '', version = version + 1, updated_at = NOW()
         WHERE id = $2 AND version = $3`,
		domain.StatePublished, draftID, version)
	if err != nil {
		return domain.Draft{}, fmt.Errorf("flip draft %s published: %w", draftID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Draft{}, fmt.Errorf("publish rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Draft{}, ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO publish_records (draft_id, channel_id, channel_message_id, created_at)
         VALUES ($1, $2, $3, NOW())`,
		draftID, rec.ChannelID, rec.ChannelMessageID); err != nil {
		return domain.Draft{}, fmt.Errorf("insert publish record %s: %w", draftID, err)
	}

	if err := tx.Commit(); err != nil {
		return domain.Draft{}, fmt.Errorf("commit publish tx: %w", err)
	}

	return s.GetDraft(ctx, draftID)
}

// GetPublishRecord loads the publish proof for a draft.
func (s *PostgresStore) GetPublishRecord(ctx context.Context, draftID string) (domain.PublishRecord, error) {
	query, args, err := s.sb.
		Select("draft_id", "channel_id", "channel_message_id", "created_at").
		From("publish_records").
		Where(sq.Eq{"draft_id": draftID}).
		ToSql()
	if err != nil {
		return domain.PublishRecord{}, fmt.Errorf("build record query: %w", err)
	}

	var rec domain.PublishRecord
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&rec.DraftID, &rec.ChannelID, &rec.ChannelMessageID, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PublishRecord{}, ErrNotFound
		}
		return domain.PublishRecord{}, fmt.Errorf("scan record: %w", err)
	}
	return rec, nil
}

// ListStale returns drafts resting in the given state since before cutoff.
// A limit of zero or less means no limit, matching MemoryStore.
func (s *PostgresStore) ListStale(ctx context.Context, state domain.State, cutoff time.Time, limit int) ([]domain.Draft, error) {
	builder := s.draftSelect().
		Where(sq.Eq{"state": state}).
		Where(sq.Lt{"updated_at": cutoff}).
		OrderBy("updated_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build stale query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stale drafts: %w", err)
	}
	defer rows.Close()

	var drafts []domain.Draft
	for rows.Next() {
		draft, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale draft: %w", err)
		}
		drafts = append(drafts, draft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stale rows iteration: %w", err)
	}
	return drafts, nil
}

func (s *PostgresStore) draftSelect() sq.SelectBuilder {
	return s.sb.
		Select("id", "source_id", "message_id", "state", "text", "error", "image_prompt",
			"model", "tokens", "review_chat_id", "review_message_id", "version",
			"created_at", "updated_at").
		From("drafts")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (domain.Draft, error) {
	var d domain.Draft
	err := row.Scan(&d.ID, &d.SourceID, &d.MessageID, &d.State, &d.Text, &d.Error, &d.ImagePrompt,
		&d.Model, &d.Tokens, &d.ReviewChatID, &d.ReviewMessageID, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}
