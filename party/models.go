// Package party holds the Party document model and its half of the
// bidirectional relationship state: one Edge per counterpart, keyed by the
// counterpart's party ID (or a pending:<email> placeholder until the
// counterpart is resolved).
package party

import (
	"strings"
	"time"
)

// Party is one user's record: their view of every relationship and the
// append-only log of ledger entries already applied to them. Version is the
// optimistic-concurrency token; every relationships/ledger write must carry
// the version it read.
type Party struct {
	ID            string
	Email         string
	DisplayName   string
	NotifyAddress *string
	Relationships map[string]Edge
	LedgerRefs    []string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Edge is one party's half of a friendship/debt relationship with a specific
// counterpart. Balance is signed: positive means the counterpart owes this
// party. Accepted duplicates Status==StatusAccepted for legacy readers and is
// kept in lockstep by every writer. Email is populated only while the map key
// is a placeholder awaiting identity resolution.
type Edge struct {
	Status   Status  `json:"status"`
	Accepted bool    `json:"accepted"`
	Balance  float64 `json:"balance"`
	Email    string  `json:"email,omitempty"`
}

// Edge returns the party's edge toward the given counterpart.
func (p *Party) Edge(counterpartID string) (Edge, bool) {
	e, ok := p.Relationships[counterpartID]
	return e, ok
}

// SetEdge replaces the edge toward the given counterpart, allocating the map
// on first use and keeping the legacy accepted flag consistent.
func (p *Party) SetEdge(counterpartID string, e Edge) {
	if p.Relationships == nil {
		p.Relationships = make(map[string]Edge)
	}
	e.Accepted = e.Status == StatusAccepted
	p.Relationships[counterpartID] = e
}

// RemoveEdge deletes the edge toward the given counterpart. It reports
// whether an edge was present.
func (p *Party) RemoveEdge(counterpartID string) bool {
	if _, ok := p.Relationships[counterpartID]; !ok {
		return false
	}
	delete(p.Relationships, counterpartID)
	return true
}

// HasLedgerRef reports whether the transaction has already been applied to
// this party. LedgerRefs is the idempotency record for at-least-once
// delivery of ledger entries.
func (p *Party) HasLedgerRef(transactionID string) bool {
	for _, id := range p.LedgerRefs {
		if id == transactionID {
			return true
		}
	}
	return false
}

// AppendLedgerRef records the transaction as applied.
func (p *Party) AppendLedgerRef(transactionID string) {
	p.LedgerRefs = append(p.LedgerRefs, transactionID)
}

// CloneRelationships returns a deep copy of the relationships map, suitable
// as a before-snapshot for change events.
func CloneRelationships(m map[string]Edge) map[string]Edge {
	out := make(map[string]Edge, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

const placeholderPrefix = "pending:"

// PlaceholderKey builds the temporary relationships key used when a request
// is addressed to an email before the counterpart's party ID is known.
func PlaceholderKey(email string) string {
	return placeholderPrefix + strings.ToLower(strings.TrimSpace(email))
}

// IsPlaceholder reports whether the relationships key is a pending-by-email
// placeholder rather than a real party ID.
func IsPlaceholder(key string) bool {
	return strings.HasPrefix(key, placeholderPrefix)
}

// PlaceholderEmail extracts the email from a placeholder key.
func PlaceholderEmail(key string) (string, bool) {
	if !IsPlaceholder(key) {
		return "", false
	}
	email := strings.TrimPrefix(key, placeholderPrefix)
	if email == "" {
		return "", false
	}
	return email, true
}
