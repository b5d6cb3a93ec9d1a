// Package filter excludes snapshots from reconciliation by type or identifier.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/yairfalse/snaptag/internal/tagging"
)

// Filter controls which snapshots are reconciled.
type Filter struct {
	excludeTypes    map[string]bool
	excludePrefixes []string
}

// New creates a new Filter. Types are RDS snapshot types such as
// "automated", "manual" or "awsbackup".
func New(excludeTypes, excludePrefixes []string) *Filter {
	excludeMap := make(map[string]bool)
	for _, t := range excludeTypes {
		excludeMap[strings.ToLower(t)] = true
	}

	var prefixes []string
	for _, p := range excludePrefixes {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}

	return &Filter{
		excludeTypes:    excludeMap,
		excludePrefixes: prefixes,
	}
}

// ShouldProcessType returns true if snapshots of the given type are reconciled.
func (f *Filter) ShouldProcessType(typ string) bool {
	return !f.excludeTypes[strings.ToLower(typ)]
}

// ShouldIncludeSnapshot returns true if the snapshot passes the filter,
// or false with the reason it was excluded.
func (f *Filter) ShouldIncludeSnapshot(s tagging.Snapshot) (bool, string) {
	if s.Type != "" && !f.ShouldProcessType(s.Type) {
		return false, fmt.Sprintf("snapshot type %s excluded", s.Type)
	}

	for _, p := range f.excludePrefixes {
		if strings.HasPrefix(s.ID, p) {
			return false, fmt.Sprintf("identifier prefix %s excluded", p)
		}
	}

	return true, ""
}

// Allow makes the filter usable as a reconciler guard. It never fails.
func (f *Filter) Allow(_ context.Context, s tagging.Snapshot, _ tagging.ParentLookup) (bool, string, error) {
	ok, reason := f.ShouldIncludeSnapshot(s)
	return ok, reason, nil
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeTypes) == 0 && len(f.excludePrefixes) == 0
}
