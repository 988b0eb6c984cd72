// Package engine implements the two synchronization handlers: the balance
// aggregator and the relationship mirror. Both run against the Store
// contract below: bounded read-modify-write transactions over at most two
// party documents with optimistic concurrency and contention retry.
package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"splitsync/notify"
	"splitsync/party"
)

// PairMutator mutates fresh reads of two party documents. Returned facts are
// enqueued for the notification dispatcher in the same transaction; they are
// written only if the mutator actually changed a document.
type PairMutator func(a, b *party.Party) ([]notify.Fact, error)

// Mutator is PairMutator for a single document.
type Mutator func(p *party.Party) ([]notify.Fact, error)

// Store is the record-store contract the engine runs on: the minimal
// transactional surface the handlers need, so their logic stays independent
// of the backing database.
type Store interface {
	// UpdatePair re-reads both parties, applies fn, and commits any changed
	// document with an optimistic version guard, retrying contention with
	// backoff up to a bounded attempt count.
	UpdatePair(ctx context.Context, aID, bID string, fn PairMutator) error
	// UpdateParty is UpdatePair for mutations touching a single document.
	UpdateParty(ctx context.Context, id string, fn Mutator) error
	// FindByEmail resolves a party by email for placeholder resolution.
	FindByEmail(ctx context.Context, email string) (*party.Party, error)
}

// PGStore implements Store on PostgreSQL via the party repository's
// version-guarded writes.
type PGStore struct {
	pool    *pgxpool.Pool
	parties *party.Repository
	outbox  *notify.Outbox

	// MaxRetries bounds contention retries per logical operation; exhaustion
	// surfaces the conflict to the caller as a fatal processing error.
	MaxRetries uint64
}

func NewPGStore(pool *pgxpool.Pool, parties *party.Repository, outbox *notify.Outbox) *PGStore {
	if parties == nil {
		parties = party.NewRepository(nil)
	}
	if outbox == nil {
		outbox = notify.NewOutbox()
	}
	return &PGStore{
		pool:       pool,
		parties:    parties,
		outbox:     outbox,
		MaxRetries: 5,
	}
}

func (s *PGStore) UpdatePair(ctx context.Context, aID, bID string, fn PairMutator) error {
	if aID == bID {
		return fmt.Errorf("engine: pair update needs two distinct parties, got %s twice", aID)
	}
	return s.retry(ctx, func() error {
		return s.applyOnce(ctx, []string{aID, bID}, func(docs []*party.Party) ([]notify.Fact, error) {
			return fn(docs[0], docs[1])
		})
	})
}

func (s *PGStore) UpdateParty(ctx context.Context, id string, fn Mutator) error {
	return s.retry(ctx, func() error {
		return s.applyOnce(ctx, []string{id}, func(docs []*party.Party) ([]notify.Fact, error) {
			return fn(docs[0])
		})
	})
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*party.Party, error) {
	return s.parties.GetByEmail(ctx, s.pool, email)
}

// retry wraps one optimistic attempt with exponential backoff. Only
// contention is retried; every other failure is permanent for this
// invocation and left to the at-least-once delivery layer.
func (s *PGStore) retry(ctx context.Context, attempt func() error) error {
	op := func() error {
		err := attempt()
		if err == nil {
			return nil
		}
		if isContention(err) {
			contentionRetries.Inc()
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.MaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if isContention(err) {
			return fmt.Errorf("engine: retry budget exhausted: %w", err)
		}
		return err
	}
	return nil
}

// applyOnce is a single optimistic attempt: read fresh documents, run the
// mutator, persist whatever changed, and enqueue facts, all in one database
// transaction. If nothing changed the transaction commits no writes, making
// duplicate deliveries clean no-ops.
func (s *PGStore) applyOnce(ctx context.Context, ids []string, fn func(docs []*party.Party) ([]notify.Fact, error)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("engine: begin pair tx: %w", err)
	}
	defer tx.Rollback(ctx)

	docs := make([]*party.Party, len(ids))
	beforeRel := make([]map[string]party.Edge, len(ids))
	beforeRefs := make([][]string, len(ids))
	for i, id := range ids {
		p, err := s.parties.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		docs[i] = p
		beforeRel[i] = party.CloneRelationships(p.Relationships)
		beforeRefs[i] = slices.Clone(p.LedgerRefs)
	}

	facts, err := fn(docs)
	if err != nil {
		return err
	}

	var wrote bool
	for i, p := range docs {
		if reflect.DeepEqual(beforeRel[i], party.CloneRelationships(p.Relationships)) &&
			slices.Equal(beforeRefs[i], p.LedgerRefs) {
			continue
		}
		if err := s.parties.Save(ctx, tx, p, beforeRel[i]); err != nil {
			return err
		}
		wrote = true
	}
	if !wrote {
		return nil
	}

	if err := s.outbox.EnqueueAll(ctx, tx, facts); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("engine: commit pair tx: %w", err)
	}
	return nil
}

func isContention(err error) bool {
	if errors.Is(err, party.ErrContention) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
