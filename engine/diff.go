package engine

import (
	"sort"

	"splitsync/party"
)

// relationshipDiff is the decomposition of one relationships-map update into
// the three mirrorable change classes. A typical client write produces
// exactly one entry in one class; batched writes produce several, which are
// processed independently because they touch disjoint counterpart keys.
type relationshipDiff struct {
	addedOutgoing []string
	addedAccepted []string
	removed       []string
}

// diffRelationships compares before/after snapshots of a party's
// relationships map. Edges with unknown statuses are ignored entirely:
// they are neither mirrored nor treated as removals of known state.
func diffRelationships(before, after map[string]party.Edge) relationshipDiff {
	var d relationshipDiff

	for key, edge := range after {
		prev, had := before[key]
		switch edge.Status {
		case party.StatusOutgoing:
			if !had || prev.Status != party.StatusOutgoing {
				d.addedOutgoing = append(d.addedOutgoing, key)
			}
		case party.StatusAccepted:
			if !had || prev.Status != party.StatusAccepted {
				d.addedAccepted = append(d.addedAccepted, key)
			}
		}
	}

	for key := range before {
		if _, still := after[key]; !still {
			d.removed = append(d.removed, key)
		}
	}

	sort.Strings(d.addedOutgoing)
	sort.Strings(d.addedAccepted)
	sort.Strings(d.removed)
	return d
}

func (d relationshipDiff) empty() bool {
	return len(d.addedOutgoing) == 0 && len(d.addedAccepted) == 0 && len(d.removed) == 0
}
