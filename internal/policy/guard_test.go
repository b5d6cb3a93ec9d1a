package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snaptag/internal/reconciler"
	"github.com/yairfalse/snaptag/internal/tagging"
)

const skipPolicy = `package snaptag

import rego.v1

default skip := false

skip if input.snapshot.type == "automated"

skip if startswith(input.snapshot.id, "keep-")

reason := "automated snapshots are tagged by their instance" if input.snapshot.type == "automated"
`

func snap(id, typ string) tagging.Snapshot {
	return tagging.Snapshot{ID: id, ARN: "arn:snapshot:" + id, Type: typ, ParentInstanceID: "db-1"}
}

func TestGuard_Allow(t *testing.T) {
	g, err := New(context.Background(), "skip.rego", skipPolicy, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		snapshot   tagging.Snapshot
		wantAllow  bool
		wantReason string
	}{
		{"manual snapshot allowed", snap("snap-1", "manual"), true, ""},
		{"automated snapshot skipped", snap("snap-2", "automated"), false, "automated snapshots are tagged by their instance"},
		{"prefix skipped with default reason", snap("keep-1", "manual"), false, "excluded by skip policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, reason, err := g.Allow(context.Background(), tt.snapshot, tagging.Missing())
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllow, allow)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestGuard_ParentInput(t *testing.T) {
	const module = `package snaptag

import rego.v1

skip if input.parent.status == "found"
`
	g, err := New(context.Background(), "parent.rego", module, nil)
	require.NoError(t, err)

	allow, _, err := g.Allow(context.Background(), snap("snap-1", "manual"),
		tagging.Found(tagging.ParentInstance{ID: "db-1", ARN: "arn:db:db-1"}))
	require.NoError(t, err)
	assert.False(t, allow)

	allow, _, err = g.Allow(context.Background(), snap("snap-1", "manual"), tagging.Failed(errors.New("x")))
	require.NoError(t, err)
	assert.True(t, allow)
}

func TestGuard_UndefinedSkipAllows(t *testing.T) {
	g, err := New(context.Background(), "empty.rego", "package snaptag\n", nil)
	require.NoError(t, err)

	allow, reason, err := g.Allow(context.Background(), snap("snap-1", "manual"), tagging.Missing())
	require.NoError(t, err)
	assert.True(t, allow)
	assert.Empty(t, reason)
}

func TestNew_InvalidPolicy(t *testing.T) {
	_, err := New(context.Background(), "bad.rego", "package snaptag\n\nskip if {", nil)
	assert.ErrorContains(t, err, "failed to compile policy bad.rego")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip.rego")
	require.NoError(t, os.WriteFile(path, []byte(skipPolicy), 0o644))

	g, err := LoadFile(context.Background(), path, nil)
	require.NoError(t, err)

	allow, _, err := g.Allow(context.Background(), snap("snap-1", "automated"), tagging.Missing())
	require.NoError(t, err)
	assert.False(t, allow)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.rego"), nil)
	assert.ErrorContains(t, err, "failed to read policy")
}

func TestBuildInput(t *testing.T) {
	in := BuildInput(snap("snap-1", "manual"), tagging.Found(tagging.ParentInstance{ID: "db-1", ARN: "arn:db:db-1"}))
	assert.Equal(t, "found", in.Parent.Status)
	assert.Equal(t, "db-1", in.Parent.ID)
	assert.Equal(t, "manual", in.Snapshot.Type)

	in = BuildInput(snap("snap-1", "manual"), tagging.Missing())
	assert.Equal(t, "missing", in.Parent.Status)
	assert.Empty(t, in.Parent.ID)
}

func TestGuard_ImplementsReconcilerGuard(t *testing.T) {
	var _ reconciler.Guard = (*Guard)(nil)
}
