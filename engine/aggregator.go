package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"splitsync/feed"
	"splitsync/ledger"
	"splitsync/notify"
	"splitsync/party"
)

// Aggregator applies new ledger entries to both parties' balances. It is the
// handler for transaction_created change events. Delivery is at-least-once,
// so every application is guarded by the parties' ledger reference logs.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, logger: logger}
}

// Handle implements feed.Handler for transaction_created events.
func (a *Aggregator) Handle(ctx context.Context, ev feed.Event) error {
	var doc ledger.Doc
	if err := json.Unmarshal(ev.After, &doc); err != nil {
		return fmt.Errorf("decode transaction %s: %v: %w", ev.DocID, err, feed.ErrDiscard)
	}
	return a.Apply(ctx, ledger.FromDoc(doc))
}

// Apply distributes one ledger entry across its payers. Each payer is its
// own independent pair transaction: one payer failing does not block the
// others, and redelivery re-attempts only the payers whose application never
// committed (the rest skip on the ledger-ref check).
func (a *Aggregator) Apply(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		a.logger.Error("aggregator: rejecting malformed ledger entry", "transaction_id", t.ID, "error", err)
		return fmt.Errorf("%v: %w", err, feed.ErrDiscard)
	}

	// Data-integrity check only. The client's declared per-payer amount is
	// authoritative, so a mismatch warns and processing continues.
	if err := t.CheckDeclaredSplit(); err != nil {
		splitMismatches.Inc()
		a.logger.Warn("aggregator: declared split mismatch", "transaction_id", t.ID, "warning", err)
	}

	var retryable []error
	var dropped []error
	for _, payerID := range t.PayerIDs {
		err := a.applyPayer(ctx, t, payerID)
		switch {
		case err == nil:
		case errors.Is(err, party.ErrNotFound):
			// Retrying cannot materialize a missing party record.
			unresolvedCounterparts.Inc()
			a.logger.Error("aggregator: party missing for ledger entry",
				"transaction_id", t.ID, "payer_id", payerID, "error", err)
			dropped = append(dropped, err)
		default:
			retryable = append(retryable, fmt.Errorf("payer %s: %w", payerID, err))
		}
	}

	if len(retryable) > 0 {
		return fmt.Errorf("aggregator: apply %s: %w", t.ID, errors.Join(retryable...))
	}
	if len(dropped) > 0 {
		return fmt.Errorf("aggregator: apply %s: %v: %w", t.ID, errors.Join(dropped...), feed.ErrDiscard)
	}
	return nil
}

func (a *Aggregator) applyPayer(ctx context.Context, t *ledger.Transaction, payerID string) error {
	amount := t.AmountPerPayer

	return a.store.UpdatePair(ctx, t.PayeeID, payerID, func(payee, payer *party.Party) ([]notify.Fact, error) {
		// Idempotency: the payer's ledger log records whether this entry
		// already landed on this pair. The payee's log cannot serve here:
		// it gains the ref on the first payer's application.
		if payer.HasLedgerRef(t.ID) {
			duplicateDeliveries.Inc()
			a.logger.Debug("aggregator: duplicate delivery skipped",
				"transaction_id", t.ID, "payer_id", payerID)
			return nil, nil
		}

		ensureEdge(payee, payer.ID)
		ensureEdge(payer, payee.ID)

		payeeEdge := payee.Relationships[payer.ID]
		payeeEdge.Balance += amount
		payee.SetEdge(payer.ID, payeeEdge)

		payerEdge := payer.Relationships[payee.ID]
		payerEdge.Balance -= amount
		payer.SetEdge(payee.ID, payerEdge)

		payer.AppendLedgerRef(t.ID)
		if !payee.HasLedgerRef(t.ID) {
			payee.AppendLedgerRef(t.ID)
		}

		ledgerApplied.Inc()
		return []notify.Fact{
			notify.LedgerApplied(payee.ID, payer.ID, payer.DisplayName, amount, t.ID),
			notify.LedgerApplied(payer.ID, payee.ID, payee.DisplayName, -amount, t.ID),
		}, nil
	})
}

// ensureEdge defensively creates a zero-balance accepted edge when a ledger
// entry arrives for a pair with no recorded relationship. The entry is
// evidence the relationship exists; failing the whole application over a
// missing edge would lose the ledger update.
func ensureEdge(p *party.Party, counterpartID string) {
	if _, ok := p.Edge(counterpartID); ok {
		return
	}
	p.SetEdge(counterpartID, party.Edge{Status: party.StatusAccepted, Balance: 0})
}
