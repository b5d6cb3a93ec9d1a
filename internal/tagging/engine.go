package tagging

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yairfalse/snaptag/internal/telemetry"
)

// Source says where an applied tag value came from.
type Source string

const (
	SourceParent      Source = "parent"
	SourcePlaceholder Source = "placeholder"
)

// AppliedTag is a tag written to a snapshot.
type AppliedTag struct {
	Tag
	Source Source `json:"source"`
}

// FailedTag is a tag whose write was rejected.
type FailedTag struct {
	Tag
	Source Source `json:"source"`
	Error  string `json:"error"`
}

// Result describes what one engine call did to a snapshot.
type Result struct {
	// Present lists required keys the snapshot already carried.
	Present []string `json:"present,omitempty"`
	Applied []AppliedTag `json:"applied,omitempty"`
	// Unresolved lists keys missing on both the snapshot and its parent.
	Unresolved []string    `json:"unresolved,omitempty"`
	Failed     []FailedTag `json:"failed,omitempty"`
	// ReadError is set when the snapshot's own tags could not be read and
	// nothing was written.
	ReadError string `json:"read_error,omitempty"`
}

// Complete reports whether every required key is now on the snapshot.
func (r Result) Complete() bool {
	return r.ReadError == "" && len(r.Unresolved) == 0 && len(r.Failed) == 0
}

// Engine applies missing required tags to snapshots. Tags are only ever
// appended one key at a time; existing values are never touched.
type Engine struct {
	store        TagStore
	placeholders *Placeholders
	logger       *telemetry.Logger

	readErrorsAsEmpty bool
}

// NewEngine creates an engine writing through store.
func NewEngine(store TagStore, placeholders *Placeholders, logger *telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Engine{
		store:        store,
		placeholders: placeholders,
		logger:       logger,
	}
}

// WithReadErrorsAsEmpty makes a failed snapshot tag read count as "no tags"
// instead of aborting the call. AddTagsToResource overwrites existing keys,
// so with this set a transient read failure can replace a real value.
func (e *Engine) WithReadErrorsAsEmpty(enabled bool) *Engine {
	e.readErrorsAsEmpty = enabled
	return e
}

// Propagate copies required tags missing on snapshot from its parent.
// Keys the parent lacks too are left absent and reported as unresolved;
// they are picked up again once the parent itself is fixed.
func (e *Engine) Propagate(ctx context.Context, snapshot Snapshot, parent ParentInstance, required RequiredTags) Result {
	log := e.logger.ForSnapshot(ctx, snapshot.ID)

	var result Result
	snapshotTags, ok := e.readSnapshotTags(ctx, log, snapshot, &result)
	if !ok {
		return result
	}
	parentTags := e.readParentTags(ctx, log, parent)

	for _, key := range required.Keys() {
		if snapshotTags.Has(key) {
			result.Present = append(result.Present, key)
			continue
		}

		value, ok := parentTags.Get(key)
		if !ok {
			log.Info().
				Str("tag", key).
				Str("parent", parent.ID).
				Msg("tag missing on snapshot and parent instance, leaving blank until the parent is tagged")
			result.Unresolved = append(result.Unresolved, key)
			continue
		}

		log.Info().
			Str("tag", key).
			Str("value", value).
			Str("parent", parent.ID).
			Msg("copying tag from parent instance")
		e.apply(ctx, log, snapshot, Tag{Key: key, Value: value}, SourceParent, &result)
	}

	return result
}

// Placehold assigns placeholder values to required tags missing on a
// snapshot whose parent instance no longer exists.
func (e *Engine) Placehold(ctx context.Context, snapshot Snapshot, required RequiredTags) Result {
	log := e.logger.ForSnapshot(ctx, snapshot.ID)

	var result Result
	snapshotTags, ok := e.readSnapshotTags(ctx, log, snapshot, &result)
	if !ok {
		return result
	}

	for _, key := range required.Keys() {
		if snapshotTags.Has(key) {
			result.Present = append(result.Present, key)
			continue
		}

		value := e.placeholders.Resolve(key)
		log.Info().
			Str("tag", key).
			Str("value", value).
			Bool("per_key_default", e.placeholders.HasDefault(key)).
			Msg("applying placeholder tag")
		e.apply(ctx, log, snapshot, Tag{Key: key, Value: value}, SourcePlaceholder, &result)
	}

	return result
}

// readSnapshotTags returns false when the read failed and the caller must
// not write anything.
func (e *Engine) readSnapshotTags(ctx context.Context, log *zerolog.Logger, snapshot Snapshot, result *Result) (Tags, bool) {
	tags, err := e.store.ListTags(ctx, snapshot.ARN)
	if err != nil {
		if e.readErrorsAsEmpty {
			log.Warn().
				Err(err).
				Str("arn", snapshot.ARN).
				Msg("failed to read snapshot tags, continuing as if it has none")
			return Tags{}, true
		}
		log.Warn().
			Err(err).
			Str("arn", snapshot.ARN).
			Msg("failed to read snapshot tags, leaving it untouched")
		result.ReadError = err.Error()
		return nil, false
	}
	if tags == nil {
		return Tags{}, true
	}
	return tags, true
}

// readParentTags treats a failed read as "no tags". The worst case is a
// key reported unresolved, so no snapshot value is at risk.
func (e *Engine) readParentTags(ctx context.Context, log *zerolog.Logger, parent ParentInstance) Tags {
	tags, err := e.store.ListTags(ctx, parent.ARN)
	if err != nil {
		log.Warn().
			Err(err).
			Str("arn", parent.ARN).
			Msg("failed to read parent instance tags, continuing as if it has none")
		return Tags{}
	}
	if tags == nil {
		return Tags{}
	}
	return tags
}

func (e *Engine) apply(ctx context.Context, log *zerolog.Logger, snapshot Snapshot, tag Tag, source Source, result *Result) {
	if err := e.store.AddTags(ctx, snapshot.ARN, []Tag{tag}); err != nil {
		log.Error().
			Err(err).
			Str("tag", tag.Key).
			Str("arn", snapshot.ARN).
			Msg("failed to apply tag")
		result.Failed = append(result.Failed, FailedTag{Tag: tag, Source: source, Error: err.Error()})
		return
	}
	result.Applied = append(result.Applied, AppliedTag{Tag: tag, Source: source})
}
