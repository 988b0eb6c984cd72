// Package notify is the boundary with the external notification dispatcher.
// The engine emits structured facts into a transactional outbox; the relay
// drains them. No human-readable text is formatted here.
package notify

// Outbox topics consumed by the external dispatcher.
const (
	TopicLedgerApplied   = "ledger.applied"
	TopicFriendRequested = "friend.requested"
	TopicFriendAccepted  = "friend.accepted"
)

// Fact is one structured notification payload bound for the outbox.
type Fact struct {
	Topic   string
	Payload map[string]any
}

// LedgerApplied reports a balance update landing on a party's record. Amount
// is signed from the party's perspective: positive means the counterpart now
// owes them more.
func LedgerApplied(partyID, counterpartID, counterpartName string, amount float64, transactionID string) Fact {
	return Fact{
		Topic: TopicLedgerApplied,
		Payload: map[string]any{
			"party_id":         partyID,
			"counterpart_id":   counterpartID,
			"counterpart_name": counterpartName,
			"amount":           amount,
			"transaction_id":   transactionID,
		},
	}
}

// FriendRequested reports an incoming friend request mirrored onto a party.
func FriendRequested(partyID, counterpartName, requestingPartyID string) Fact {
	return Fact{
		Topic: TopicFriendRequested,
		Payload: map[string]any{
			"party_id":            partyID,
			"counterpart_name":    counterpartName,
			"requesting_party_id": requestingPartyID,
		},
	}
}

// FriendAccepted reports that a party's outgoing request was accepted.
func FriendAccepted(partyID, counterpartName string) Fact {
	return Fact{
		Topic: TopicFriendAccepted,
		Payload: map[string]any{
			"party_id":         partyID,
			"counterpart_name": counterpartName,
		},
	}
}
