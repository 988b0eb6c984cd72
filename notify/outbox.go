package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Outbox writes notification facts transactionally alongside the document
// mutation that caused them, so a committed sync always has its facts and a
// rolled-back one never does.
type Outbox struct{}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// Enqueue inserts one fact inside the caller's transaction.
func (o *Outbox) Enqueue(ctx context.Context, tx pgx.Tx, fact Fact) error {
	if fact.Topic == "" {
		return fmt.Errorf("notify: fact missing topic")
	}
	body, err := json.Marshal(fact.Payload)
	if err != nil {
		return fmt.Errorf("notify: marshal fact payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, q, fact.Topic, body); err != nil {
		return fmt.Errorf("notify: enqueue fact: %w", err)
	}
	return nil
}

// EnqueueAll inserts a batch of facts inside the caller's transaction.
func (o *Outbox) EnqueueAll(ctx context.Context, tx pgx.Tx, facts []Fact) error {
	for _, f := range facts {
		if err := o.Enqueue(ctx, tx, f); err != nil {
			return err
		}
	}
	return nil
}
