package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotDead is returned when the targeted event is not awaiting
// reconciliation.
var ErrNotDead = errors.New("reconcile: event is not dead")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns dead change events, oldest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT id, kind, doc_id, attempts, last_error, created_at, last_attempt
FROM change_events
WHERE status = 'dead'
ORDER BY created_at
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list dead events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.DocID, &rec.Attempts,
			&rec.LastError, &rec.CreatedAt, &rec.LastAttempt); err != nil {
			return nil, fmt.Errorf("reconcile: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reconcile: iterate records: %w", err)
	}
	return records, nil
}

// Requeue puts a dead event back on the pending queue with a fresh attempt
// budget, for use after the underlying data problem has been repaired.
func (r *Repository) Requeue(ctx context.Context, id int64) error {
	const q = `
UPDATE change_events
SET status = 'pending', attempts = 0, last_error = NULL
WHERE id = $1 AND status = 'dead'
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("reconcile: requeue %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDead
	}
	return nil
}

// Resolve acknowledges a dead event without replaying it, for cases
// reconciled entirely by hand.
func (r *Repository) Resolve(ctx context.Context, id int64) error {
	const q = `
UPDATE change_events
SET status = 'resolved'
WHERE id = $1 AND status = 'dead'
`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("reconcile: resolve %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDead
	}
	return nil
}

// Get loads one reconciliation record.
func (r *Repository) Get(ctx context.Context, id int64) (Record, error) {
	const q = `
SELECT id, kind, doc_id, attempts, last_error, created_at, last_attempt
FROM change_events
WHERE id = $1 AND status = 'dead'
`
	var rec Record
	err := r.pool.QueryRow(ctx, q, id).Scan(&rec.ID, &rec.Kind, &rec.DocID,
		&rec.Attempts, &rec.LastError, &rec.CreatedAt, &rec.LastAttempt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotDead
		}
		return Record{}, fmt.Errorf("reconcile: get %d: %w", id, err)
	}
	return rec, nil
}
