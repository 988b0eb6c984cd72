package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"splitsync/feed"
	"splitsync/notify"
	"splitsync/party"
)

// Mirror propagates one party's relationship-map mutations to the
// counterpart's record. It handles party_updated and party_deleted change
// events. Every mirrored write re-enters this handler through the change
// feed; the state guards below are what make the propagation converge
// instead of ping-ponging forever.
type Mirror struct {
	store  Store
	logger *slog.Logger
}

func NewMirror(store Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{store: store, logger: logger}
}

// HandleUpdated implements feed.Handler for party_updated events.
func (m *Mirror) HandleUpdated(ctx context.Context, ev feed.Event) error {
	before, err := decodeRelationships(ev.Before)
	if err != nil {
		return fmt.Errorf("decode before snapshot of %s: %v: %w", ev.DocID, err, feed.ErrDiscard)
	}
	after, err := decodeRelationships(ev.After)
	if err != nil {
		return fmt.Errorf("decode after snapshot of %s: %v: %w", ev.DocID, err, feed.ErrDiscard)
	}
	return m.Propagate(ctx, ev.DocID, before, after)
}

// HandleDeleted implements feed.Handler for party_deleted events. Deleting a
// party mirrors as removal of every edge it held.
func (m *Mirror) HandleDeleted(ctx context.Context, ev feed.Event) error {
	before, err := decodeRelationships(ev.Before)
	if err != nil {
		return fmt.Errorf("decode final snapshot of %s: %v: %w", ev.DocID, err, feed.ErrDiscard)
	}
	return m.Propagate(ctx, ev.DocID, before, nil)
}

// Propagate diffs two snapshots of party A's relationships map and mirrors
// each change class onto the affected counterparts. Diffs are processed
// independently: they touch disjoint counterpart keys, so one failing does
// not hold back the others, and redelivery re-runs them all behind their
// guards.
func (m *Mirror) Propagate(ctx context.Context, aID string, before, after map[string]party.Edge) error {
	d := diffRelationships(before, after)
	if d.empty() {
		return nil
	}

	var failed []error
	for _, key := range d.addedOutgoing {
		if err := m.mirrorRequest(ctx, aID, key, after[key]); err != nil {
			failed = append(failed, fmt.Errorf("request %s: %w", key, err))
		}
	}
	for _, key := range d.addedAccepted {
		if err := m.mirrorAccept(ctx, aID, key); err != nil {
			failed = append(failed, fmt.Errorf("accept %s: %w", key, err))
		}
	}
	for _, key := range d.removed {
		if err := m.mirrorRemoval(ctx, aID, key); err != nil {
			failed = append(failed, fmt.Errorf("removal %s: %w", key, err))
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("mirror: propagate %s: %w", aID, errors.Join(failed...))
	}
	return nil
}

// mirrorRequest handles a new outgoing edge on A: resolve the counterpart B
// (directly, or by email when the key is a placeholder), rewrite the
// placeholder key to B's real ID, and create B's incoming edge unless B
// already holds a same-or-further-advanced edge toward A.
func (m *Mirror) mirrorRequest(ctx context.Context, aID, key string, edge party.Edge) error {
	bID := key
	if party.IsPlaceholder(key) {
		email, _ := party.PlaceholderEmail(key)
		if email == "" {
			email = edge.Email
		}
		counterpart, err := m.store.FindByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, party.ErrNotFound) {
				// A request to an address no party owns. Benign: drop it.
				unresolvedCounterparts.Inc()
				m.logger.Info("mirror: friend request to unknown address dropped",
					"party_id", aID, "email", email)
				return nil
			}
			return err
		}
		bID = counterpart.ID
	}
	if bID == aID {
		m.logger.Warn("mirror: self-referencing request ignored", "party_id", aID)
		return nil
	}

	err := m.store.UpdatePair(ctx, aID, bID, func(a, b *party.Party) ([]notify.Fact, error) {
		// Rewrite the placeholder key to the resolved ID, preserving the
		// edge's fields. The whole map is persisted in one guarded write, so
		// the key swap is atomic.
		if key != bID {
			if pending, ok := a.Edge(key); ok {
				a.RemoveEdge(key)
				if existing, held := a.Edge(bID); !held || existing.Status.Rank() < pending.Status.Rank() {
					pending.Email = ""
					a.SetEdge(bID, pending)
				}
			}
		}

		// Stale-event guard: the transaction re-reads A, so a request that
		// was removed after this event was captured must not resurrect an
		// edge on B with no counterpart on A.
		if _, held := a.Edge(bID); !held {
			return nil, nil
		}

		// Re-entrancy guard: duplicate delivery, a simultaneous request from
		// B, or an already-accepted relationship all leave B untouched.
		if existing, ok := b.Edge(aID); ok && existing.Status.Rank() >= party.StatusIncoming.Rank() {
			return nil, nil
		}

		b.SetEdge(aID, party.Edge{Status: party.StatusIncoming, Balance: 0})
		mirrorWrites.Inc()
		return []notify.Fact{notify.FriendRequested(b.ID, a.DisplayName, a.ID)}, nil
	})
	if errors.Is(err, party.ErrNotFound) {
		// Counterpart vanished between resolution and the transaction, or
		// the key named a party that never existed. Same benign case.
		unresolvedCounterparts.Inc()
		m.logger.Info("mirror: counterpart not found, request dropped", "party_id", aID, "counterpart", bID)
		return nil
	}
	return err
}

// mirrorAccept handles A marking B's request accepted: B's own copy moves to
// accepted too. The accepted-already guard is what stops the accept from
// bouncing between the two records indefinitely.
func (m *Mirror) mirrorAccept(ctx context.Context, aID, bID string) error {
	if party.IsPlaceholder(bID) {
		// An accepted edge under an unresolved key cannot be mirrored.
		m.logger.Warn("mirror: accepted edge with placeholder key ignored", "party_id", aID, "key", bID)
		return nil
	}

	err := m.store.UpdatePair(ctx, aID, bID, func(a, b *party.Party) ([]notify.Fact, error) {
		// Stale-event guard: only mirror while A's own copy is still
		// accepted. A delivery reordered past A's removal would otherwise
		// push a one-sided accepted edge onto B.
		if own, held := a.Edge(bID); !held || own.Status != party.StatusAccepted {
			return nil, nil
		}

		current, ok := b.Edge(aID)
		if ok && current.Status == party.StatusAccepted {
			return nil, nil
		}
		b.SetEdge(aID, party.Edge{Status: party.StatusAccepted, Balance: current.Balance})
		mirrorWrites.Inc()
		return []notify.Fact{notify.FriendAccepted(b.ID, a.DisplayName)}, nil
	})
	if errors.Is(err, party.ErrNotFound) {
		m.logger.Info("mirror: counterpart gone before accept mirrored", "party_id", aID, "counterpart", bID)
		return nil
	}
	return err
}

// mirrorRemoval handles A dropping its edge toward B: B's edge toward A is
// deleted as well, guarded on existence so a redelivered removal is a no-op.
func (m *Mirror) mirrorRemoval(ctx context.Context, aID, key string) error {
	if party.IsPlaceholder(key) {
		// The counterpart was never resolved; there is nothing to mirror.
		return nil
	}

	err := m.store.UpdateParty(ctx, key, func(b *party.Party) ([]notify.Fact, error) {
		if b.RemoveEdge(aID) {
			mirrorWrites.Inc()
		}
		return nil, nil
	})
	if errors.Is(err, party.ErrNotFound) {
		return nil
	}
	return err
}

func decodeRelationships(raw []byte) (map[string]party.Edge, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]party.Edge
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
