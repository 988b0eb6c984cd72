package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Dispatcher is the external collaborator that turns facts into user-facing
// notifications. Implementations format and deliver; the core does neither.
type Dispatcher interface {
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// Relay drains pending outbox rows and hands them to the dispatcher. Rows
// are locked with SKIP LOCKED so concurrent relays never double-deliver a
// committed mark; a crash mid-batch rolls back to pending, so delivery to
// the dispatcher is at-least-once.
type Relay struct {
	pool       *pgxpool.Pool
	dispatcher Dispatcher
	logger     *slog.Logger

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewRelay(pool *pgxpool.Pool, dispatcher Dispatcher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		pool:         pool,
		dispatcher:   dispatcher,
		logger:       logger,
		BatchSize:    32,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  5,
	}
}

// Run polls until the context is canceled.
func (r *Relay) Run(ctx context.Context) error {
	for {
		n, err := r.relayBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("notify: relay batch failed", "error", err)
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.PollInterval):
		}
	}
}

func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("notify: begin relay tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
SELECT id, topic, payload, attempts
FROM outbox
WHERE status = 'pending'
ORDER BY created_at
FOR UPDATE SKIP LOCKED
LIMIT $1
`
	rows, err := tx.Query(ctx, claimSQL, r.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("notify: claim outbox: %w", err)
	}

	type row struct {
		id       string
		topic    string
		payload  []byte
		attempts int
	}
	var claimed []row
	for rows.Next() {
		var m row
		if err := rows.Scan(&m.id, &m.topic, &m.payload, &m.attempts); err != nil {
			rows.Close()
			return 0, fmt.Errorf("notify: scan outbox row: %w", err)
		}
		claimed = append(claimed, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("notify: iterate outbox: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	for _, m := range claimed {
		if err := r.dispatcher.Deliver(ctx, m.topic, m.payload); err != nil {
			status := "pending"
			if m.attempts+1 >= r.MaxAttempts {
				status = "dead"
				r.logger.Error("notify: fact dead after retries",
					"outbox_id", m.id, "topic", m.topic, "error", err)
			} else {
				r.logger.Warn("notify: delivery failed, will retry",
					"outbox_id", m.id, "topic", m.topic, "attempt", m.attempts+1, "error", err)
			}
			if _, err := tx.Exec(ctx,
				`UPDATE outbox SET attempts = attempts + 1, last_attempt = now(), status = $2 WHERE id = $1`,
				m.id, status); err != nil {
				return 0, fmt.Errorf("notify: mark failed: %w", err)
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`UPDATE outbox SET status = 'processed', attempts = attempts + 1, last_attempt = now() WHERE id = $1`,
			m.id); err != nil {
			return 0, fmt.Errorf("notify: mark processed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("notify: commit relay tx: %w", err)
	}
	return len(claimed), nil
}
