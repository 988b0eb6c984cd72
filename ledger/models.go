// Package ledger defines the immutable cost-splitting ledger entries and the
// arithmetic shared by their consumers. Entries are append-only: once
// written they are only ever read by the balance aggregator.
package ledger

import (
	"fmt"
	"math"
	"time"
)

// SplitPolicy selects who the declared per-payer amount is divided across.
type SplitPolicy string

const (
	// SplitEveryoneIncludingPayee divides cost across payers plus the payee.
	SplitEveryoneIncludingPayee SplitPolicy = "everyone_including_payee"
	// SplitPayersOnly divides cost across the payers alone.
	SplitPayersOnly SplitPolicy = "payers_only"
)

// EntryType distinguishes cost events from settle-up payments. Settle
// entries carry a negative cost and flow through the identical balance
// update; no branch is needed.
type EntryType string

const (
	TypeTrip   EntryType = "trip"
	TypeSettle EntryType = "settle"
)

// Transaction is one ledger entry: the payee covered Cost up front and each
// payer owes AmountPerPayer. Immutable once created.
type Transaction struct {
	ID             string
	PayeeID        string
	PayerIDs       []string
	Cost           float64
	AmountPerPayer float64
	SplitPolicy    SplitPolicy
	Type           EntryType
	CreatedBy      string
	CreatedAt      time.Time
}

// splitEpsilon absorbs float rounding when checking the declared split
// against the computed one.
const splitEpsilon = 0.01

// ShareCount returns how many shares the cost divides into under the
// transaction's split policy.
func (t *Transaction) ShareCount() int {
	n := len(t.PayerIDs)
	if t.SplitPolicy == SplitEveryoneIncludingPayee {
		n++
	}
	return n
}

// Validate rejects structurally broken entries: these are never applied.
func (t *Transaction) Validate() error {
	if t.PayeeID == "" {
		return fmt.Errorf("ledger: payee required")
	}
	if len(t.PayerIDs) == 0 {
		return fmt.Errorf("ledger: at least one payer required")
	}
	switch t.SplitPolicy {
	case SplitEveryoneIncludingPayee, SplitPayersOnly:
	default:
		return fmt.Errorf("ledger: unknown split policy %q", t.SplitPolicy)
	}
	switch t.Type {
	case TypeTrip, TypeSettle:
	default:
		return fmt.Errorf("ledger: unknown entry type %q", t.Type)
	}
	for _, id := range t.PayerIDs {
		if id == t.PayeeID {
			return fmt.Errorf("ledger: payee %s listed as payer", id)
		}
	}
	return nil
}

// CheckDeclaredSplit verifies AmountPerPayer*n against Cost within epsilon.
// A mismatch is a data-integrity warning only: the client's declared amount
// stays authoritative and the entry is applied regardless, so the error is
// for logging, never for control flow.
func (t *Transaction) CheckDeclaredSplit() error {
	n := t.ShareCount()
	declared := t.AmountPerPayer * float64(n)
	if math.Abs(declared-t.Cost) > splitEpsilon {
		return fmt.Errorf("ledger: declared split %0.2f*%d=%0.2f does not match cost %0.2f",
			t.AmountPerPayer, n, declared, t.Cost)
	}
	return nil
}
