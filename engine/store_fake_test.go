package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"slices"
	"testing"

	"splitsync/notify"
	"splitsync/party"
)

// fakeStore implements Store over an in-memory party map. It records the
// change events a real record store would capture, so tests can replay the
// mirror's propagation loop and assert it settles.
type fakeStore struct {
	parties map[string]*party.Party
	facts   []notify.Fact
	changes []fakeChange
	writes  int
}

type fakeChange struct {
	docID  string
	before map[string]party.Edge
	after  map[string]party.Edge
}

func newFakeStore(parties ...*party.Party) *fakeStore {
	s := &fakeStore{parties: make(map[string]*party.Party)}
	for _, p := range parties {
		if p.Relationships == nil {
			p.Relationships = make(map[string]party.Edge)
		}
		s.parties[p.ID] = p
	}
	return s
}

func (s *fakeStore) UpdatePair(ctx context.Context, aID, bID string, fn PairMutator) error {
	a, err := s.get(aID)
	if err != nil {
		return err
	}
	b, err := s.get(bID)
	if err != nil {
		return err
	}
	ca, cb := cloneParty(a), cloneParty(b)
	facts, err := fn(ca, cb)
	if err != nil {
		return err
	}
	changedA, changedB := docChanged(a, ca), docChanged(b, cb)
	if !changedA && !changedB {
		return nil
	}
	if changedA {
		s.commit(a, ca)
	}
	if changedB {
		s.commit(b, cb)
	}
	s.facts = append(s.facts, facts...)
	return nil
}

func (s *fakeStore) UpdateParty(ctx context.Context, id string, fn Mutator) error {
	p, err := s.get(id)
	if err != nil {
		return err
	}
	cp := cloneParty(p)
	facts, err := fn(cp)
	if err != nil {
		return err
	}
	if !docChanged(p, cp) {
		return nil
	}
	s.commit(p, cp)
	s.facts = append(s.facts, facts...)
	return nil
}

func (s *fakeStore) FindByEmail(ctx context.Context, email string) (*party.Party, error) {
	for _, p := range s.parties {
		if p.Email == email {
			return cloneParty(p), nil
		}
	}
	return nil, fmt.Errorf("fake: email %s: %w", email, party.ErrNotFound)
}

func (s *fakeStore) get(id string) (*party.Party, error) {
	p, ok := s.parties[id]
	if !ok {
		return nil, fmt.Errorf("fake: party %s: %w", id, party.ErrNotFound)
	}
	return p, nil
}

func (s *fakeStore) commit(stored, next *party.Party) {
	s.changes = append(s.changes, fakeChange{
		docID:  stored.ID,
		before: party.CloneRelationships(stored.Relationships),
		after:  party.CloneRelationships(next.Relationships),
	})
	stored.Relationships = next.Relationships
	stored.LedgerRefs = next.LedgerRefs
	stored.Version++
	s.writes++
}

func docChanged(stored, next *party.Party) bool {
	return !reflect.DeepEqual(stored.Relationships, next.Relationships) ||
		!slices.Equal(stored.LedgerRefs, next.LedgerRefs)
}

func cloneParty(p *party.Party) *party.Party {
	cp := *p
	cp.Relationships = party.CloneRelationships(p.Relationships)
	cp.LedgerRefs = slices.Clone(p.LedgerRefs)
	return &cp
}

// mutate drives a client-side write through the store so a change record is
// captured, the same way the application tier would.
func (s *fakeStore) mutate(t *testing.T, id string, fn func(p *party.Party)) {
	t.Helper()
	err := s.UpdateParty(context.Background(), id, func(p *party.Party) ([]notify.Fact, error) {
		fn(p)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("mutate %s: %v", id, err)
	}
}

// drainMirror replays every captured change through the mirror until the
// system quiesces, failing the test if propagation never settles.
func drainMirror(t *testing.T, m *Mirror, s *fakeStore) {
	t.Helper()
	for rounds := 0; len(s.changes) > 0; rounds++ {
		if rounds > 50 {
			t.Fatalf("mirror propagation did not settle after 50 rounds")
		}
		ch := s.changes[0]
		s.changes = s.changes[1:]
		if err := m.Propagate(context.Background(), ch.docID, ch.before, ch.after); err != nil {
			t.Fatalf("propagate %s: %v", ch.docID, err)
		}
	}
}

func factTopics(facts []notify.Fact) []string {
	topics := make([]string, 0, len(facts))
	for _, f := range facts {
		topics = append(topics, f.Topic)
	}
	return topics
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
