package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"splitsync/ledger"
	"splitsync/party"
)

// Spender appends random trip entries between the seeded parties. Entries
// land regardless of relationship state; the aggregator creates missing
// edges defensively.
func Spender(ctx context.Context, pool *pgxpool.Pool, repo *ledger.Repository, partyIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		payee := partyIDs[rand.Intn(len(partyIDs))]
		var payers []string
		for _, id := range partyIDs {
			if id != payee && rand.Intn(2) == 0 {
				payers = append(payers, id)
			}
		}
		if len(payers) == 0 {
			continue
		}

		amount := float64(100+rand.Intn(2000)) / 100
		t := &ledger.Transaction{
			PayeeID:        payee,
			PayerIDs:       payers,
			Cost:           amount * float64(len(payers)+1),
			AmountPerPayer: amount,
			SplitPolicy:    ledger.SplitEveryoneIncludingPayee,
			Type:           ledger.TypeTrip,
			CreatedBy:      payee,
		}
		if err := repo.Insert(ctx, pool, t); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("spender insert: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Settler appends settle entries paying back fixed slices of debt. Settles
// ride the same pipeline as trips with negated amounts, so they keep the
// zero-sum oracle honest without any balance reads.
func Settler(ctx context.Context, pool *pgxpool.Pool, repo *ledger.Repository, partyIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		payee := partyIDs[rand.Intn(len(partyIDs))]
		payer := partyIDs[rand.Intn(len(partyIDs))]
		if payer == payee {
			continue
		}
		amount := -float64(50+rand.Intn(500)) / 100
		t := &ledger.Transaction{
			PayeeID:        payee,
			PayerIDs:       []string{payer},
			Cost:           amount,
			AmountPerPayer: amount,
			SplitPolicy:    ledger.SplitPayersOnly,
			Type:           ledger.TypeSettle,
			CreatedBy:      payer,
		}
		if err := repo.Insert(ctx, pool, t); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("settler insert: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Befriender drives the relationship handshake from the client side: it
// requests edges toward random counterparts, accepts whatever incoming
// requests it finds, and occasionally drops an edge. Version conflicts with
// the engine's own writes are expected and simply retried on a later round.
func Befriender(ctx context.Context, pool *pgxpool.Pool, repo *party.Repository, partyIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		self := partyIDs[rand.Intn(len(partyIDs))]
		other := partyIDs[rand.Intn(len(partyIDs))]
		if self == other {
			continue
		}

		if err := mutateOnce(ctx, pool, repo, self, func(p *party.Party) {
			edge, ok := p.Edge(other)
			switch {
			case !ok:
				p.SetEdge(other, party.Edge{Status: party.StatusOutgoing})
			case edge.Status == party.StatusIncoming:
				edge.Status = party.StatusAccepted
				p.SetEdge(other, edge)
			case rand.Intn(20) == 0:
				p.RemoveEdge(other)
			}
		}); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("befriender: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(60)) * time.Millisecond)
	}
}

// Redeliverer flips random processed change events back to pending,
// simulating the duplicate and out-of-order deliveries the handlers must
// absorb.
func Redeliverer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := pool.Exec(ctx, `
UPDATE change_events SET status = 'pending', attempts = 0
WHERE id IN (
    SELECT id FROM change_events WHERE status = 'processed'
    ORDER BY random() LIMIT 1
)`)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redeliverer: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// mutateOnce is one optimistic read-modify-write round against a party
// document. A lost version race returns nil: the caller loops anyway.
func mutateOnce(ctx context.Context, pool *pgxpool.Pool, repo *party.Repository, id string, fn func(p *party.Party)) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	p, err := repo.Get(ctx, tx, id)
	if err != nil {
		return err
	}
	before := party.CloneRelationships(p.Relationships)
	fn(p)

	if err := repo.Save(ctx, tx, p, before); err != nil {
		if errors.Is(err, party.ErrContention) {
			return nil
		}
		return err
	}
	return tx.Commit(ctx)
}
