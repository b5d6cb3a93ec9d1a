package history

import (
	"cmp"
	"slices"

	"github.com/yairfalse/snaptag/internal/reconciler"
)

// ChangeType classifies how a snapshot's outcome moved between two runs.
type ChangeType string

const (
	// ChangeAdded means the snapshot was flagged for the first time.
	ChangeAdded ChangeType = "added"
	// ChangeResolved means the snapshot is no longer flagged.
	ChangeResolved ChangeType = "resolved"
	// ChangeModified means the snapshot was flagged in both runs with a
	// different state or unresolved key set.
	ChangeModified ChangeType = "modified"
)

// OutcomeChange is one snapshot's difference between two runs.
type OutcomeChange struct {
	Type       ChangeType          `json:"type"`
	SnapshotID string              `json:"snapshot_id"`
	Previous   *reconciler.Outcome `json:"previous,omitempty"`
	Current    *reconciler.Outcome `json:"current,omitempty"`
}

// Diff compares the outcomes of two runs. Returns nil when prev is nil
// (no baseline yet) and an empty slice when nothing changed. The result is
// ordered by snapshot ID.
func Diff(prev, curr *reconciler.Report) []OutcomeChange {
	if prev == nil || curr == nil {
		return nil
	}

	prevMap := indexOutcomes(prev.Outcomes)
	currMap := indexOutcomes(curr.Outcomes)

	changes := make([]OutcomeChange, 0)
	for id, p := range prevMap {
		c, exists := currMap[id]
		switch {
		case !exists:
			changes = append(changes, OutcomeChange{Type: ChangeResolved, SnapshotID: id, Previous: &p})
		case outcomeChanged(p, c):
			changes = append(changes, OutcomeChange{Type: ChangeModified, SnapshotID: id, Previous: &p, Current: &c})
		}
	}
	for id, c := range currMap {
		if _, exists := prevMap[id]; !exists {
			changes = append(changes, OutcomeChange{Type: ChangeAdded, SnapshotID: id, Current: &c})
		}
	}

	slices.SortFunc(changes, func(a, b OutcomeChange) int {
		return cmp.Compare(a.SnapshotID, b.SnapshotID)
	})
	return changes
}

func indexOutcomes(outcomes []reconciler.Outcome) map[string]reconciler.Outcome {
	m := make(map[string]reconciler.Outcome, len(outcomes))
	for _, o := range outcomes {
		m[o.SnapshotID] = o
	}
	return m
}

// outcomeChanged ignores the per-run details (applied tags, errors) and
// compares only where the snapshot ended up.
func outcomeChanged(prev, curr reconciler.Outcome) bool {
	return prev.State != curr.State || !slices.Equal(prev.Unresolved, curr.Unresolved)
}

// LatestPair returns the two most recent non-dry runs, newest second.
// prev is nil when fewer than two such runs exist.
func (s *Store) LatestPair() (prev, curr *reconciler.Report, err error) {
	runs, err := s.Runs(0)
	if err != nil {
		return nil, nil, err
	}

	var kept []*reconciler.Report
	for _, r := range runs {
		if r.DryRun {
			continue
		}
		kept = append(kept, r)
		if len(kept) == 2 {
			break
		}
	}

	switch len(kept) {
	case 0:
		return nil, nil, nil
	case 1:
		return nil, kept[0], nil
	default:
		return kept[1], kept[0], nil
	}
}
