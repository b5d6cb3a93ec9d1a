package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snaptag/internal/reconciler"
	"github.com/yairfalse/snaptag/internal/tagging"
)

func TestShouldProcessType_NoExclusions(t *testing.T) {
	f := New(nil, nil)
	assert.True(t, f.ShouldProcessType("manual"))
	assert.True(t, f.ShouldProcessType("automated"))
	assert.True(t, f.IsEmpty())
}

func TestShouldProcessType_WithExclusions(t *testing.T) {
	f := New([]string{"automated", "AWSBackup"}, nil)
	assert.True(t, f.ShouldProcessType("manual"))
	assert.False(t, f.ShouldProcessType("automated"))
	assert.False(t, f.ShouldProcessType("awsbackup"))
	assert.False(t, f.IsEmpty())
}

func TestShouldIncludeSnapshot(t *testing.T) {
	f := New([]string{"automated"}, []string{"rds:", "keep-"})

	tests := []struct {
		name       string
		snapshot   tagging.Snapshot
		wantOK     bool
		wantReason string
	}{
		{"manual snapshot", tagging.Snapshot{ID: "snap-1", Type: "manual"}, true, ""},
		{"unknown type", tagging.Snapshot{ID: "snap-2"}, true, ""},
		{"excluded type", tagging.Snapshot{ID: "snap-3", Type: "automated"}, false, "snapshot type automated excluded"},
		{"excluded prefix", tagging.Snapshot{ID: "keep-forever", Type: "manual"}, false, "identifier prefix keep- excluded"},
		{"prefix must lead", tagging.Snapshot{ID: "snap-keep-1", Type: "manual"}, true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := f.ShouldIncludeSnapshot(tt.snapshot)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestNew_IgnoresEmptyPrefixes(t *testing.T) {
	f := New(nil, []string{""})
	assert.True(t, f.IsEmpty())

	ok, _ := f.ShouldIncludeSnapshot(tagging.Snapshot{ID: "snap-1"})
	assert.True(t, ok)
}

func TestAllow(t *testing.T) {
	var guard reconciler.Guard = New([]string{"automated"}, nil)

	ok, reason, err := guard.Allow(context.Background(), tagging.Snapshot{ID: "rds:db-1-2026", Type: "automated"}, tagging.Missing())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "snapshot type automated excluded", reason)
}
