package tagging

import (
	"context"
	"fmt"
	"sync"

	"github.com/yairfalse/snaptag/internal/telemetry"
)

// DryRunStore reads through to a real store but only logs writes.
type DryRunStore struct {
	TagStore
	logger *telemetry.Logger
}

// NewDryRunStore wraps store so AddTags becomes a no-op.
func NewDryRunStore(store TagStore, logger *telemetry.Logger) *DryRunStore {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &DryRunStore{TagStore: store, logger: logger}
}

// AddTags logs the tags that would have been written.
func (d *DryRunStore) AddTags(ctx context.Context, arn string, tags []Tag) error {
	for _, t := range tags {
		d.logger.WithContext(ctx).Info().
			Str("arn", arn).
			Str("tag", t.Key).
			Str("value", t.Value).
			Msg("dry-run: would apply tag")
	}
	return nil
}

// MemoryStore is an in-memory TagStore keyed by ARN.
// Safe for concurrent use.
type MemoryStore struct {
	mu        sync.Mutex
	tags      map[string]Tags
	readErrs  map[string]error
	writeErrs map[string]error
	writes    int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tags:      make(map[string]Tags),
		readErrs:  make(map[string]error),
		writeErrs: make(map[string]error),
	}
}

// Set replaces the tags stored for arn.
func (m *MemoryStore) Set(arn string, tags Tags) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[arn] = tags.Clone()
}

// FailReads makes ListTags on arn return err.
func (m *MemoryStore) FailReads(arn string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrs[arn] = err
}

// FailWrites makes AddTags of key (on any resource) return err.
func (m *MemoryStore) FailWrites(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrs[key] = err
}

// Snapshot returns a copy of the tags stored for arn.
func (m *MemoryStore) Snapshot(arn string) Tags {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags[arn].Clone()
}

// Writes returns how many tags were written successfully.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// ListTags implements TagStore.
func (m *MemoryStore) ListTags(_ context.Context, arn string) (Tags, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.readErrs[arn]; err != nil {
		return nil, err
	}
	return m.tags[arn].Clone(), nil
}

// AddTags implements TagStore. Existing keys are overwritten, mirroring the
// RDS API; callers are responsible for never sending a present key.
func (m *MemoryStore) AddTags(_ context.Context, arn string, tags []Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tags {
		if err := m.writeErrs[t.Key]; err != nil {
			return fmt.Errorf("add tag %s: %w", t.Key, err)
		}
	}
	if m.tags[arn] == nil {
		m.tags[arn] = Tags{}
	}
	for _, t := range tags {
		m.tags[arn][t.Key] = t.Value
		m.writes++
	}
	return nil
}
