package party

// Status is the closed set of relationship edge states. Unknown strings are
// rejected at parse time and never propagated.
type Status string

const (
	// StatusOutgoing marks a friend request this party has sent.
	StatusOutgoing Status = "outgoing"
	// StatusIncoming marks a friend request this party has received.
	StatusIncoming Status = "incoming"
	// StatusAccepted marks a confirmed relationship on both sides.
	StatusAccepted Status = "accepted"
)

// ParseStatus validates a stored status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusOutgoing, StatusIncoming, StatusAccepted:
		return Status(s), true
	default:
		return "", false
	}
}

// Known reports whether the status is a member of the closed set.
func (s Status) Known() bool {
	_, ok := ParseStatus(string(s))
	return ok
}

// Rank orders statuses by how far the handshake has advanced. A missing edge
// ranks 0, either pending direction ranks 1, accepted ranks 2. Mirror guards
// skip any write that would not advance the counterpart's edge.
func (s Status) Rank() int {
	switch s {
	case StatusOutgoing, StatusIncoming:
		return 1
	case StatusAccepted:
		return 2
	default:
		return 0
	}
}

// ValidTransition reports whether an edge may move from one status to
// another. Removal is not modeled here: deleting an edge is always allowed
// from any state.
func ValidTransition(from, to Status) bool {
	if !to.Known() {
		return false
	}
	switch from {
	case StatusOutgoing:
		return to == StatusAccepted
	case StatusIncoming:
		return to == StatusAccepted
	case StatusAccepted:
		return false
	default:
		// No edge yet: any initial state may be written.
		return from == ""
	}
}
