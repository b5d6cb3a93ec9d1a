package tagging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaceholders_Resolve(t *testing.T) {
	p := NewPlaceholders("unknown", map[string]string{
		"Owner": "orphaned",
		"Env":   "",
	})

	assert.Equal(t, "orphaned", p.Resolve("Owner"))
	assert.Equal(t, "", p.Resolve("Env"), "empty per-key default still wins")
	assert.Equal(t, "unknown", p.Resolve("CostCenter"))
	assert.Equal(t, "unknown", p.CatchAll())
}

func TestPlaceholders_CopiesDefaults(t *testing.T) {
	defaults := map[string]string{"Owner": "orphaned"}
	p := NewPlaceholders("unknown", defaults)

	defaults["Owner"] = "changed"

	assert.Equal(t, "orphaned", p.Resolve("Owner"))
	assert.True(t, p.HasDefault("Owner"))
	assert.False(t, p.HasDefault("Env"))
}
