package reconciler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yairfalse/snaptag/internal/tagging"
)

// State is the per-snapshot result of a run.
type State string

const (
	// StatePropagated means every missing key was copied from the parent.
	StatePropagated State = "propagated"
	// StatePlaceholdered means missing keys received placeholder values.
	StatePlaceholdered State = "placeholdered"
	// StatePartiallyUnresolved means some keys were missing on the parent too.
	StatePartiallyUnresolved State = "partially_unresolved"
	// StateCompliant means no key was missing when the snapshot was re-read.
	StateCompliant State = "compliant"
	StateFailed    State = "failed"
	StateDeferred  State = "deferred"
	StateSkipped   State = "skipped"
)

// States lists every state in report order.
var States = []State{
	StatePropagated,
	StatePlaceholdered,
	StatePartiallyUnresolved,
	StateCompliant,
	StateSkipped,
	StateDeferred,
	StateFailed,
}

// Outcome records what happened to one snapshot.
type Outcome struct {
	SnapshotID   string               `json:"snapshot_id"`
	State        State                `json:"state"`
	ParentID     string               `json:"parent_id,omitempty"`
	ParentStatus tagging.LookupStatus `json:"parent_status,omitempty"`
	Present      []string             `json:"present,omitempty"`
	Applied      []tagging.AppliedTag `json:"applied,omitempty"`
	Unresolved   []string             `json:"unresolved,omitempty"`
	Failed       []tagging.FailedTag  `json:"failed,omitempty"`
	// Reason explains skipped and deferred outcomes.
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID        string    `json:"run_id"`
	RuleName     string    `json:"rule_name"`
	RequiredKeys []string  `json:"required_keys"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DryRun       bool      `json:"dry_run,omitempty"`
	// Outcomes are sorted by snapshot ID.
	Outcomes []Outcome `json:"outcomes"`
	// ComplianceError is set when paging the non-compliant set failed part way.
	ComplianceError string `json:"compliance_error,omitempty"`
	Cancelled       bool   `json:"cancelled,omitempty"`
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome returns the outcome for a snapshot, if it was processed.
func (r *Report) Outcome(snapshotID string) (Outcome, bool) {
	i := sort.Search(len(r.Outcomes), func(i int) bool {
		return r.Outcomes[i].SnapshotID >= snapshotID
	})
	if i < len(r.Outcomes) && r.Outcomes[i].SnapshotID == snapshotID {
		return r.Outcomes[i], true
	}
	return Outcome{}, false
}

// Counts returns the number of outcomes per state.
func (r *Report) Counts() map[State]int {
	counts := make(map[State]int, len(States))
	for _, o := range r.Outcomes {
		counts[o.State]++
	}
	return counts
}

// Status summarizes the run for metrics: "success", "partial" or "cancelled".
func (r *Report) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.ComplianceError != "":
		return "partial"
	default:
		return "success"
	}
}

// Summary renders the per-state counts, e.g. "2 propagated, 1 placeholdered".
func (r *Report) Summary() string {
	counts := r.Counts()
	var parts []string
	for _, s := range States {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	if len(parts) == 0 {
		return "no non-compliant snapshots"
	}
	return strings.Join(parts, ", ")
}

// Completion is the signal returned to the invoker when a run finishes.
type Completion struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Completion builds the completion signal. A run that got as far as
// producing a report always completes with 200.
func (r *Report) Completion() Completion {
	body := fmt.Sprintf("RDS snapshot tag check completed: %d snapshots (%s)", len(r.Outcomes), r.Summary())
	if r.ComplianceError != "" {
		body += "; compliance listing incomplete: " + r.ComplianceError
	}
	return Completion{StatusCode: 200, Body: body}
}

func sortOutcomes(outcomes []Outcome) {
	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].SnapshotID < outcomes[j].SnapshotID
	})
}
