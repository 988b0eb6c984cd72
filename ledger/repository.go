package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"splitsync/feed"
)

// ErrNotFound is returned when no transaction exists for the identifier.
var ErrNotFound = errors.New("ledger: transaction not found")

type Repository struct {
	events *feed.Repository
}

func NewRepository(events *feed.Repository) *Repository {
	if events == nil {
		events = feed.NewRepository()
	}
	return &Repository{events: events}
}

// Insert appends a new ledger entry and captures its transaction_created
// change event atomically. The entry is terminal after this call.
func (r *Repository) Insert(ctx context.Context, pool *pgxpool.Pool, t *Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	payersJSON, err := json.Marshal(t.PayerIDs)
	if err != nil {
		return fmt.Errorf("ledger: marshal payer ids: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
INSERT INTO transactions (id, payee_id, payer_ids, cost, amount_per_payer, split_policy, entry_type, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at
`
	if err := tx.QueryRow(ctx, insertSQL,
		t.ID, t.PayeeID, payersJSON, t.Cost, t.AmountPerPayer,
		string(t.SplitPolicy), string(t.Type), t.CreatedBy,
	).Scan(&t.CreatedAt); err != nil {
		return fmt.Errorf("ledger: insert transaction: %w", err)
	}

	if err := r.events.Append(ctx, tx, feed.KindTransactionCreated, t.ID, nil, t.eventDoc()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit: %w", err)
	}
	return nil
}

// Get loads a transaction by ID.
func (r *Repository) Get(ctx context.Context, pool *pgxpool.Pool, id string) (*Transaction, error) {
	const sql = `
SELECT id, payee_id, payer_ids, cost, amount_per_payer, split_policy, entry_type, created_by, created_at
FROM transactions
WHERE id = $1
`
	var (
		t          Transaction
		payersJSON []byte
		policy     string
		entryType  string
	)
	err := pool.QueryRow(ctx, sql, id).Scan(&t.ID, &t.PayeeID, &payersJSON, &t.Cost,
		&t.AmountPerPayer, &policy, &entryType, &t.CreatedBy, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ledger: get %s: %w", id, err)
	}
	if err := json.Unmarshal(payersJSON, &t.PayerIDs); err != nil {
		return nil, fmt.Errorf("ledger: unmarshal payer ids: %w", err)
	}
	t.SplitPolicy = SplitPolicy(policy)
	t.Type = EntryType(entryType)
	return &t, nil
}

// Doc is the change-event payload shape for a ledger entry. The aggregator
// decodes this from the event rather than re-reading the transactions table.
type Doc struct {
	ID             string      `json:"id"`
	PayeeID        string      `json:"payee_id"`
	PayerIDs       []string    `json:"payer_ids"`
	Cost           float64     `json:"cost"`
	AmountPerPayer float64     `json:"amount_per_payer"`
	SplitPolicy    SplitPolicy `json:"split_policy"`
	Type           EntryType   `json:"type"`
	CreatedBy      string      `json:"created_by"`
}

func (t *Transaction) eventDoc() Doc {
	return Doc{
		ID:             t.ID,
		PayeeID:        t.PayeeID,
		PayerIDs:       t.PayerIDs,
		Cost:           t.Cost,
		AmountPerPayer: t.AmountPerPayer,
		SplitPolicy:    t.SplitPolicy,
		Type:           t.Type,
		CreatedBy:      t.CreatedBy,
	}
}

// FromDoc rebuilds a Transaction from its change-event payload.
func FromDoc(d Doc) *Transaction {
	return &Transaction{
		ID:             d.ID,
		PayeeID:        d.PayeeID,
		PayerIDs:       d.PayerIDs,
		Cost:           d.Cost,
		AmountPerPayer: d.AmountPerPayer,
		SplitPolicy:    d.SplitPolicy,
		Type:           d.Type,
		CreatedBy:      d.CreatedBy,
	}
}
