package db

import (
	"context"
	"encoding/json"
	"time"

	"redelivery/internal/types"
)

// Schema creates the archive table. It is safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS dead_letters (
	id             BIGSERIAL PRIMARY KEY,
	message_id     TEXT,
	routing_key    TEXT NOT NULL,
	death_reason   TEXT NOT NULL,
	death_time     TIMESTAMPTZ,
	retry_count    INTEGER,
	correlation_id TEXT,
	headers        JSONB NOT NULL DEFAULT '{}'::jsonb,
	body           BYTEA NOT NULL,
	archived_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS dead_letters_routing_key_idx ON dead_letters (routing_key, archived_at DESC);
`

// ArchivedDeadLetter is a row of dead_letters.
type ArchivedDeadLetter struct {
	ID            int64
	MessageID     string
	RoutingKey    string
	DeathReason   string
	DeathTime     *time.Time
	RetryCount    *int
	CorrelationID string
	Body          []byte
	ArchivedAt    time.Time
}

// DeadLetterRepository stores drained dead-letter records so the queue can
// be emptied without losing them.
type DeadLetterRepository struct {
	db DBTX
}

// NewDeadLetterRepository creates a DeadLetterRepository backed by the given
// database connection (pool or transaction).
func NewDeadLetterRepository(db DBTX) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// EnsureSchema creates the table if it does not exist.
func (r *DeadLetterRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create dead_letters table", err)
	}
	return nil
}

// Archive inserts rec and returns the generated id.
func (r *DeadLetterRepository) Archive(ctx context.Context, rec types.DeadLetterRecord) (int64, error) {
	headers, err := json.Marshal(rec.Message.Headers.Clone())
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to encode headers", err)
	}

	var deathTime *time.Time
	if !rec.DeathTime.IsZero() {
		t := rec.DeathTime.UTC()
		deathTime = &t
	}
	var retryCount *int
	if rec.HasRetryCount {
		n := rec.RetryCountAtDeath
		retryCount = &n
	}

	var id int64
	row := r.db.QueryRow(ctx,
		`INSERT INTO dead_letters
		 (message_id, routing_key, death_reason, death_time, retry_count,
		  correlation_id, headers, body)
		 VALUES (NULLIF($1, ''), $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		 RETURNING id`,
		rec.Message.MessageID,
		rec.OriginalRoutingKey,
		rec.DeathReason,
		deathTime,
		retryCount,
		rec.Message.CorrelationID,
		headers,
		rec.Message.Body,
	)
	if err := row.Scan(&id); err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to archive dead letter", err)
	}
	return id, nil
}

// ListRecent returns the newest archived records, optionally filtered by
// routing key.
func (r *DeadLetterRepository) ListRecent(ctx context.Context, routingKey string, limit int) ([]ArchivedDeadLetter, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, COALESCE(message_id, ''), routing_key, death_reason, death_time,
		        retry_count, COALESCE(correlation_id, ''), body, archived_at
		 FROM dead_letters
		 WHERE ($1 = '' OR routing_key = $1)
		 ORDER BY archived_at DESC, id DESC
		 LIMIT $2`,
		routingKey, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list dead letters", err)
	}
	defer rows.Close()

	var out []ArchivedDeadLetter
	for rows.Next() {
		var a ArchivedDeadLetter
		if err := rows.Scan(&a.ID, &a.MessageID, &a.RoutingKey, &a.DeathReason, &a.DeathTime,
			&a.RetryCount, &a.CorrelationID, &a.Body, &a.ArchivedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan dead letter", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate dead letters", err)
	}
	return out, nil
}
