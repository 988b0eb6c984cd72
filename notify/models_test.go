package notify

import "testing"

func TestFactPayloadShapes(t *testing.T) {
	f := LedgerApplied("a", "b", "Bob", -12.5, "t1")
	if f.Topic != TopicLedgerApplied {
		t.Errorf("unexpected topic %q", f.Topic)
	}
	for _, key := range []string{"party_id", "counterpart_id", "counterpart_name", "amount", "transaction_id"} {
		if _, ok := f.Payload[key]; !ok {
			t.Errorf("ledger.applied missing %q", key)
		}
	}
	if f.Payload["amount"] != -12.5 {
		t.Errorf("expected signed amount preserved, got %v", f.Payload["amount"])
	}

	f = FriendRequested("b", "Alice", "a")
	if f.Topic != TopicFriendRequested {
		t.Errorf("unexpected topic %q", f.Topic)
	}
	if f.Payload["requesting_party_id"] != "a" || f.Payload["party_id"] != "b" {
		t.Errorf("friend.requested misdirected: %v", f.Payload)
	}

	f = FriendAccepted("a", "Bob")
	if f.Topic != TopicFriendAccepted {
		t.Errorf("unexpected topic %q", f.Topic)
	}
	if f.Payload["counterpart_name"] != "Bob" {
		t.Errorf("friend.accepted payload: %v", f.Payload)
	}
}
