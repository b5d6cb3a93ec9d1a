// Package reconciler drives one snapshot tag reconciliation pass: it walks
// the non-compliant snapshot set, classifies each snapshot's parent and
// dispatches it to the propagation or placeholder engine.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/snaptag/internal/audit"
	"github.com/yairfalse/snaptag/internal/compliance"
	"github.com/yairfalse/snaptag/internal/tagging"
	"github.com/yairfalse/snaptag/internal/telemetry"
)

// ResourceStore resolves snapshot metadata and parent instances.
type ResourceStore interface {
	DescribeSnapshot(ctx context.Context, snapshotID string) (tagging.Snapshot, error)
	LookupInstance(ctx context.Context, instanceID string) tagging.ParentLookup
}

// Guard decides whether a snapshot may be reconciled at all.
type Guard interface {
	Allow(ctx context.Context, snapshot tagging.Snapshot, parent tagging.ParentLookup) (bool, string, error)
}

// Journal records reconciliation decisions.
type Journal interface {
	Append(entryType audit.EntryType, resourceID string, data any) error
	AppendError(entryType audit.EntryType, resourceID string, data any, err error) error
}

// Recorder persists finished run reports.
type Recorder interface {
	RecordRun(ctx context.Context, report *Report) error
}

// Metrics receives spans and counters for a run.
type Metrics interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordRun(ctx context.Context, status string, d time.Duration)
	RecordSnapshot(ctx context.Context, state string)
	RecordTagWrite(ctx context.Context, source string, ok bool)
	RecordUnresolved(ctx context.Context, count int)
	RecordComplianceError(ctx context.Context)
}

// Options configures a reconciler.
type Options struct {
	RuleName string
	// Workers bounds concurrent snapshot processing. Values below 2 run
	// snapshots one at a time in the order they are reported.
	Workers int
	// DryRun marks outcomes as simulated. Suppressing the writes is the
	// engine's store's job.
	DryRun bool
	// LookupErrorsAsMissing treats an inconclusive parent lookup as a
	// deleted parent instead of deferring the snapshot.
	LookupErrorsAsMissing bool
}

// Reconciler runs reconciliation passes.
type Reconciler struct {
	opts      Options
	rules     tagging.RuleStore
	source    compliance.Source
	resources ResourceStore
	engine    *tagging.Engine

	guards   []Guard
	journal  Journal
	recorder Recorder
	metrics  Metrics
	logger   *telemetry.Logger
	now      func() time.Time
}

// New creates a reconciler.
func New(opts Options, rules tagging.RuleStore, source compliance.Source, resources ResourceStore, engine *tagging.Engine) *Reconciler {
	return &Reconciler{
		opts:      opts,
		rules:     rules,
		source:    source,
		resources: resources,
		engine:    engine,
		journal:   nopJournal{},
		metrics:   nopMetrics{},
		logger:    telemetry.NopLogger(),
		now:       time.Now,
	}
}

// WithGuard adds a skip guard. Guards run in the order added and the
// first one to deny wins.
func (r *Reconciler) WithGuard(g Guard) *Reconciler {
	if g != nil {
		r.guards = append(r.guards, g)
	}
	return r
}

// WithJournal sets the audit journal
func (r *Reconciler) WithJournal(j Journal) *Reconciler {
	if j != nil {
		r.journal = j
	}
	return r
}

// WithRecorder sets the run history recorder
func (r *Reconciler) WithRecorder(rec Recorder) *Reconciler {
	r.recorder = rec
	return r
}

// WithMetrics sets the span and metric sink
func (r *Reconciler) WithMetrics(m Metrics) *Reconciler {
	if m != nil {
		r.metrics = m
	}
	return r
}

// WithLogger sets the logger
func (r *Reconciler) WithLogger(l *telemetry.Logger) *Reconciler {
	if l != nil {
		r.logger = l
	}
	return r
}

// Run performs one reconciliation pass. It returns an error only when the
// required tag set cannot be resolved; every per-snapshot problem is
// recorded in the report instead.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		RunID:     uuid.Must(uuid.NewV7()).String(),
		RuleName:  r.opts.RuleName,
		StartedAt: r.now(),
		DryRun:    r.opts.DryRun,
	}

	ctx, span := r.metrics.StartSpan(ctx, "reconcile.run",
		attribute.String("run.id", report.RunID),
		attribute.String("rule.name", r.opts.RuleName),
		attribute.Bool("dry_run", r.opts.DryRun))
	defer span.End()

	log := r.logger.WithContext(ctx)
	log.Info().
		Str("run_id", report.RunID).
		Str("rule", r.opts.RuleName).
		Bool("dry_run", r.opts.DryRun).
		Msg("starting snapshot tag reconciliation")

	required, err := tagging.ResolveRequired(ctx, r.rules, r.opts.RuleName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve required tags")
		r.journalError(ctx, audit.EntryRunFailed, "", report, err)
		r.metrics.RecordRun(ctx, "failed", r.now().Sub(report.StartedAt))
		return nil, fmt.Errorf("resolve required tags: %w", err)
	}
	report.RequiredKeys = required.Keys()

	log.Info().
		Strs("required_tags", report.RequiredKeys).
		Msg("resolved required tags")
	r.journalAppend(ctx, audit.EntryRunStarted, "", report)

	if r.opts.Workers > 1 {
		report.Outcomes = r.runConcurrent(ctx, required, report)
	} else {
		report.Outcomes = r.runSequential(ctx, required, report)
	}
	sortOutcomes(report.Outcomes)

	return r.finishRun(ctx, span, report), nil
}

// snapshotIDs yields each non-compliant snapshot ID once. A listing error is
// recorded on the report and ends the sequence.
func (r *Reconciler) snapshotIDs(ctx context.Context, report *Report, yield func(string) bool) {
	seen := make(map[string]bool)
	for page, err := range compliance.Snapshots(ctx, r.source, r.opts.RuleName) {
		if err != nil {
			r.recordListingError(ctx, report, err)
			return
		}
		for _, id := range page {
			if seen[id] {
				continue
			}
			seen[id] = true
			if ctx.Err() != nil {
				report.Cancelled = true
				return
			}
			if !yield(id) {
				return
			}
		}
	}
}

func (r *Reconciler) recordListingError(ctx context.Context, report *Report, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		report.Cancelled = true
		return
	}
	report.ComplianceError = err.Error()
	r.metrics.RecordComplianceError(ctx)
	r.logger.WithContext(ctx).Error().
		Err(err).
		Msg("failed to list non-compliant resources, keeping outcomes processed so far")
}

func (r *Reconciler) runSequential(ctx context.Context, required tagging.RequiredTags, report *Report) []Outcome {
	var outcomes []Outcome
	r.snapshotIDs(ctx, report, func(id string) bool {
		outcomes = append(outcomes, r.reconcileSnapshot(ctx, id, required))
		return true
	})
	return outcomes
}

func (r *Reconciler) runConcurrent(ctx context.Context, required tagging.RequiredTags, report *Report) []Outcome {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		outcomes []Outcome
	)

	jobs := make(chan string)
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				outcome := r.reconcileSnapshot(ctx, id, required)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				mu.Unlock()
			}
		}()
	}

	r.snapshotIDs(ctx, report, func(id string) bool {
		select {
		case jobs <- id:
			return true
		case <-ctx.Done():
			report.Cancelled = true
			return false
		}
	})
	close(jobs)
	wg.Wait()

	return outcomes
}

func (r *Reconciler) reconcileSnapshot(ctx context.Context, snapshotID string, required tagging.RequiredTags) Outcome {
	ctx, span := r.metrics.StartSpan(ctx, "reconcile.snapshot", attribute.String("snapshot.id", snapshotID))
	defer span.End()

	log := r.logger.ForSnapshot(ctx, snapshotID)
	log.Info().Msg("beginning snapshot")

	outcome := Outcome{SnapshotID: snapshotID, DryRun: r.opts.DryRun}

	snapshot, err := r.resources.DescribeSnapshot(ctx, snapshotID)
	if err != nil {
		log.Error().Err(err).Msg("failed to describe snapshot")
		outcome.State = StateFailed
		outcome.Error = err.Error()
		r.journalError(ctx, audit.EntrySnapshotFailed, snapshotID, outcome, err)
		return r.finishSnapshot(ctx, span, outcome)
	}
	outcome.ParentID = snapshot.ParentInstanceID

	lookup := r.resources.LookupInstance(ctx, snapshot.ParentInstanceID)
	outcome.ParentStatus = lookup.Status

	for _, guard := range r.guards {
		allowed, reason, err := guard.Allow(ctx, snapshot, lookup)
		if err != nil {
			log.Error().Err(err).Msg("skip policy evaluation failed")
			outcome.State = StateFailed
			outcome.Error = err.Error()
			r.journalError(ctx, audit.EntrySnapshotFailed, snapshotID, outcome, err)
			return r.finishSnapshot(ctx, span, outcome)
		}
		if !allowed {
			log.Info().Str("reason", reason).Msg("snapshot excluded by skip policy")
			outcome.State = StateSkipped
			outcome.Reason = reason
			r.journalAppend(ctx, audit.EntrySnapshotSkipped, snapshotID, outcome)
			return r.finishSnapshot(ctx, span, outcome)
		}
	}

	status := lookup.Status
	if status == tagging.ParentFailed && r.opts.LookupErrorsAsMissing {
		log.Warn().
			Err(lookup.Err).
			Str("parent", snapshot.ParentInstanceID).
			Msg("parent instance lookup failed, treating it as deleted")
		status = tagging.ParentMissing
	}

	var result tagging.Result
	var source tagging.Source
	switch status {
	case tagging.ParentFound:
		log.Info().
			Str("parent", snapshot.ParentInstanceID).
			Msg("parent instance exists, copying down missing tags")
		result = r.engine.Propagate(ctx, snapshot, lookup.Instance, required)
		source = tagging.SourceParent
	case tagging.ParentMissing:
		log.Info().
			Str("parent", snapshot.ParentInstanceID).
			Msg("parent instance does not exist, adding placeholder tags")
		result = r.engine.Placehold(ctx, snapshot, required)
		source = tagging.SourcePlaceholder
	default:
		log.Warn().
			Err(lookup.Err).
			Str("parent", snapshot.ParentInstanceID).
			Msg("parent instance lookup failed, deferring snapshot to a later run")
		outcome.State = StateDeferred
		outcome.Reason = "parent lookup failed"
		if lookup.Err != nil {
			outcome.Error = lookup.Err.Error()
		}
		r.journalError(ctx, audit.EntrySnapshotDeferred, snapshotID, outcome, lookup.Err)
		return r.finishSnapshot(ctx, span, outcome)
	}

	if result.ReadError != "" {
		outcome.State = StateDeferred
		outcome.Reason = "snapshot tag read failed"
		outcome.Error = result.ReadError
		r.journalError(ctx, audit.EntrySnapshotDeferred, snapshotID, outcome, errors.New(result.ReadError))
		return r.finishSnapshot(ctx, span, outcome)
	}

	outcome.Present = result.Present
	outcome.Applied = result.Applied
	outcome.Unresolved = result.Unresolved
	outcome.Failed = result.Failed
	outcome.State = classify(result, source)

	r.recordResult(ctx, snapshotID, snapshot.ParentInstanceID, result)
	if outcome.State == StateCompliant {
		r.journalAppend(ctx, audit.EntrySnapshotCompliant, snapshotID, outcome)
	}

	return r.finishSnapshot(ctx, span, outcome)
}

// classify maps an engine result to a snapshot state. Write failures win
// over unresolved keys since they need attention first.
func classify(result tagging.Result, source tagging.Source) State {
	switch {
	case len(result.Failed) > 0:
		return StateFailed
	case len(result.Unresolved) > 0:
		return StatePartiallyUnresolved
	case len(result.Applied) == 0:
		return StateCompliant
	case source == tagging.SourceParent:
		return StatePropagated
	default:
		return StatePlaceholdered
	}
}

type unresolvedTag struct {
	Key    string `json:"key"`
	Parent string `json:"parent"`
}

func (r *Reconciler) recordResult(ctx context.Context, snapshotID, parentID string, result tagging.Result) {
	for _, applied := range result.Applied {
		r.metrics.RecordTagWrite(ctx, string(applied.Source), true)
		r.journalAppend(ctx, audit.EntryTagApplied, snapshotID, applied)
	}
	for _, failed := range result.Failed {
		r.metrics.RecordTagWrite(ctx, string(failed.Source), false)
		r.journalError(ctx, audit.EntryTagFailed, snapshotID, failed, errors.New(failed.Error))
	}
	for _, key := range result.Unresolved {
		r.journalAppend(ctx, audit.EntryTagUnresolved, snapshotID, unresolvedTag{Key: key, Parent: parentID})
	}
	r.metrics.RecordUnresolved(ctx, len(result.Unresolved))
}

func (r *Reconciler) finishSnapshot(ctx context.Context, span trace.Span, outcome Outcome) Outcome {
	span.SetAttributes(attribute.String("snapshot.state", string(outcome.State)))
	if outcome.State == StateFailed {
		span.SetStatus(codes.Error, string(outcome.State))
	}
	r.metrics.RecordSnapshot(ctx, string(outcome.State))

	r.logger.ForSnapshot(ctx, outcome.SnapshotID).Info().
		Str("state", string(outcome.State)).
		Int("applied", len(outcome.Applied)).
		Int("unresolved", len(outcome.Unresolved)).
		Int("failed", len(outcome.Failed)).
		Msg("finished snapshot")

	return outcome
}

type runCompleted struct {
	RunID           string        `json:"run_id"`
	Snapshots       int           `json:"snapshots"`
	Counts          map[State]int `json:"counts"`
	ComplianceError string        `json:"compliance_error,omitempty"`
	Cancelled       bool          `json:"cancelled,omitempty"`
}

func (r *Reconciler) finishRun(ctx context.Context, span trace.Span, report *Report) *Report {
	report.FinishedAt = r.now()
	counts := report.Counts()

	if report.ComplianceError != "" {
		span.SetStatus(codes.Error, "compliance listing incomplete")
	}
	span.SetAttributes(attribute.Int("snapshots", len(report.Outcomes)))

	if r.recorder != nil {
		if err := r.recorder.RecordRun(ctx, report); err != nil {
			r.logger.WithContext(ctx).Error().
				Err(err).
				Str("run_id", report.RunID).
				Msg("failed to record run history")
		}
	}

	r.journalAppend(ctx, audit.EntryRunCompleted, "", runCompleted{
		RunID:           report.RunID,
		Snapshots:       len(report.Outcomes),
		Counts:          counts,
		ComplianceError: report.ComplianceError,
		Cancelled:       report.Cancelled,
	})
	r.metrics.RecordRun(ctx, report.Status(), report.Duration())

	r.logger.WithContext(ctx).Info().
		Str("run_id", report.RunID).
		Int("snapshots", len(report.Outcomes)).
		Int("propagated", counts[StatePropagated]).
		Int("placeholdered", counts[StatePlaceholdered]).
		Int("partially_unresolved", counts[StatePartiallyUnresolved]).
		Int("compliant", counts[StateCompliant]).
		Int("skipped", counts[StateSkipped]).
		Int("deferred", counts[StateDeferred]).
		Int("failed", counts[StateFailed]).
		Dur("duration", report.Duration()).
		Str("status", report.Status()).
		Msg("snapshot tag reconciliation complete")

	return report
}

// Journal failures never fail the run.
func (r *Reconciler) journalAppend(ctx context.Context, entryType audit.EntryType, resourceID string, data any) {
	if err := r.journal.Append(entryType, resourceID, data); err != nil {
		r.logger.WithContext(ctx).Warn().
			Err(err).
			Str("entry", string(entryType)).
			Msg("failed to write audit entry")
	}
}

func (r *Reconciler) journalError(ctx context.Context, entryType audit.EntryType, resourceID string, data any, cause error) {
	if cause == nil {
		r.journalAppend(ctx, entryType, resourceID, data)
		return
	}
	if err := r.journal.AppendError(entryType, resourceID, data, cause); err != nil {
		r.logger.WithContext(ctx).Warn().
			Err(err).
			Str("entry", string(entryType)).
			Msg("failed to write audit entry")
	}
}
