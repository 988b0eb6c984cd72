// Package reconcile is the operator surface over dead change events: the
// entries whose retry budget ran out and which must be repaired by hand
// instead of silently lost.
package reconcile

import "time"

// Status represents the lifecycle of a reconciliation item.
type Status string

const (
	// StatusDead means the event exhausted its retries and awaits an
	// operator.
	StatusDead Status = "dead"
	// StatusResolved means an operator acknowledged the event after fixing
	// the data out of band.
	StatusResolved Status = "resolved"
)

// Record is a dead change event as presented to operators.
type Record struct {
	ID          int64
	Kind        string
	DocID       string
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	LastAttempt *time.Time
}
