// Package feed implements the record store's change-notification contract:
// application-level change capture with at-least-once delivery. Writers
// append change events in the same database transaction as the document
// write; the dispatcher drains pending events and invokes handlers, marking
// an event processed only after its handler returns.
package feed

import "time"

// Kind identifies which document mutation a change event describes.
type Kind string

const (
	// KindPartyUpdated carries before/after snapshots of a party's
	// relationships map.
	KindPartyUpdated Kind = "party_updated"
	// KindPartyDeleted carries the final relationships map of a deleted
	// party.
	KindPartyDeleted Kind = "party_deleted"
	// KindTransactionCreated carries the new ledger entry.
	KindTransactionCreated Kind = "transaction_created"
)

// Delivery states of a change event.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	// StatusDead marks an event whose retry budget is exhausted. Dead events
	// are the manual-reconciliation surface; see the reconcile package.
	StatusDead = "dead"
)

// Event is one captured document mutation. Before and After hold the raw
// jsonb payloads; which is populated depends on Kind.
type Event struct {
	ID          int64
	Kind        Kind
	DocID       string
	Before      []byte
	After       []byte
	Status      string
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	LastAttempt *time.Time
}
