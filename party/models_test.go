package party

import "testing"

func TestSetEdgeKeepsAcceptedFlagConsistent(t *testing.T) {
	var p Party
	p.SetEdge("b", Edge{Status: StatusAccepted})
	if e, _ := p.Edge("b"); !e.Accepted {
		t.Errorf("expected accepted flag set for accepted status")
	}

	p.SetEdge("b", Edge{Status: StatusOutgoing, Accepted: true})
	if e, _ := p.Edge("b"); e.Accepted {
		t.Errorf("expected accepted flag cleared for non-accepted status")
	}
}

func TestRemoveEdge(t *testing.T) {
	var p Party
	if p.RemoveEdge("b") {
		t.Errorf("expected removal of absent edge to report false")
	}
	p.SetEdge("b", Edge{Status: StatusIncoming})
	if !p.RemoveEdge("b") {
		t.Errorf("expected removal of present edge to report true")
	}
	if _, ok := p.Edge("b"); ok {
		t.Errorf("expected edge gone after removal")
	}
}

func TestLedgerRefs(t *testing.T) {
	var p Party
	if p.HasLedgerRef("t1") {
		t.Errorf("expected empty log to miss")
	}
	p.AppendLedgerRef("t1")
	p.AppendLedgerRef("t2")
	if !p.HasLedgerRef("t1") || !p.HasLedgerRef("t2") {
		t.Errorf("expected appended refs to be found")
	}
	if p.HasLedgerRef("t3") {
		t.Errorf("expected unknown ref to miss")
	}
}

func TestCloneRelationshipsIsIndependent(t *testing.T) {
	orig := map[string]Edge{"b": {Status: StatusAccepted, Balance: 3}}
	cp := CloneRelationships(orig)
	cp["b"] = Edge{Status: StatusOutgoing}
	cp["c"] = Edge{Status: StatusIncoming}

	if orig["b"].Status != StatusAccepted {
		t.Errorf("expected original untouched by clone mutation")
	}
	if _, ok := orig["c"]; ok {
		t.Errorf("expected clone addition to not leak into original")
	}
}

func TestPlaceholderKeys(t *testing.T) {
	key := PlaceholderKey("  Bob@Example.COM ")
	if key != "pending:bob@example.com" {
		t.Errorf("expected normalized placeholder key, got %q", key)
	}
	if !IsPlaceholder(key) {
		t.Errorf("expected %q to be recognized as placeholder", key)
	}
	if IsPlaceholder("8f14e45f-ceea-4a21-9d8f-000000000000") {
		t.Errorf("expected a plain ID to not be a placeholder")
	}

	email, ok := PlaceholderEmail(key)
	if !ok || email != "bob@example.com" {
		t.Errorf("expected email extracted from placeholder, got %q ok=%v", email, ok)
	}
	if _, ok := PlaceholderEmail("pending:"); ok {
		t.Errorf("expected empty placeholder to be rejected")
	}
	if _, ok := PlaceholderEmail("bob@example.com"); ok {
		t.Errorf("expected non-placeholder key to be rejected")
	}
}
