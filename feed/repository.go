package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Append records a change event inside the caller's transaction so the event
// is captured atomically with the document write it describes.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, kind Kind, docID string, before, after any) error {
	beforeJSON, err := marshalDoc(before)
	if err != nil {
		return fmt.Errorf("feed: marshal before snapshot: %w", err)
	}
	afterJSON, err := marshalDoc(after)
	if err != nil {
		return fmt.Errorf("feed: marshal after snapshot: %w", err)
	}

	const q = `
INSERT INTO change_events (kind, doc_id, before_doc, after_doc)
VALUES ($1, $2, $3, $4)
`
	if _, err := tx.Exec(ctx, q, string(kind), docID, beforeJSON, afterJSON); err != nil {
		return fmt.Errorf("feed: append change event: %w", err)
	}
	return nil
}

// Claim locks up to limit pending events for the duration of the caller's
// transaction. Concurrent claimers skip each other's locked rows, so two
// dispatcher workers never process the same event simultaneously; a crashed
// claim rolls back to pending and is redelivered.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error) {
	const q = `
SELECT id, kind, doc_id, before_doc, after_doc, status, attempts, last_error, created_at, last_attempt
FROM change_events
WHERE status = 'pending'
ORDER BY created_at, id
FOR UPDATE SKIP LOCKED
LIMIT $1
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("feed: claim events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &kind, &ev.DocID, &ev.Before, &ev.After,
			&ev.Status, &ev.Attempts, &ev.LastError, &ev.CreatedAt, &ev.LastAttempt); err != nil {
			return nil, fmt.Errorf("feed: scan event: %w", err)
		}
		ev.Kind = Kind(kind)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("feed: iterate events: %w", err)
	}
	return events, nil
}

// MarkProcessed finalizes a successfully handled event.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64) error {
	const q = `
UPDATE change_events
SET status = 'processed', attempts = attempts + 1, last_attempt = now(), last_error = NULL
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("feed: mark processed: %w", err)
	}
	return nil
}

// MarkFailed records a handler failure. Once the attempt budget is spent the
// event goes dead and stops being delivered; dead events surface through the
// reconcile package for out-of-band repair.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, maxAttempts int, cause string) (dead bool, err error) {
	const q = `
UPDATE change_events
SET attempts = attempts + 1,
    last_attempt = now(),
    last_error = $2,
    status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE 'pending' END
WHERE id = $1
RETURNING status
`
	var status string
	if err := tx.QueryRow(ctx, q, id, cause, maxAttempts).Scan(&status); err != nil {
		return false, fmt.Errorf("feed: mark failed: %w", err)
	}
	return status == StatusDead, nil
}

func marshalDoc(doc any) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	if raw, ok := doc.([]byte); ok {
		return raw, nil
	}
	return json.Marshal(doc)
}
