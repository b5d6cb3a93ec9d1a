package tagging

// DefaultValueSuffix is appended to a tag key to name its per-key default.
const DefaultValueSuffix = "_DefaultValue"

// Placeholders maps tag keys to synthetic values for snapshots whose parent
// instance no longer exists.
type Placeholders struct {
	catchAll string
	defaults map[string]string
}

// NewPlaceholders creates a provider. defaults is keyed by tag key, not by
// the "<key>_DefaultValue" configuration name.
func NewPlaceholders(catchAll string, defaults map[string]string) *Placeholders {
	d := make(map[string]string, len(defaults))
	for k, v := range defaults {
		d[k] = v
	}
	return &Placeholders{catchAll: catchAll, defaults: d}
}

// Resolve returns the configured default for key, or the catch-all value.
// A per-key default that is set but empty still wins.
func (p *Placeholders) Resolve(key string) string {
	if v, ok := p.defaults[key]; ok {
		return v
	}
	return p.catchAll
}

// CatchAll returns the catch-all value.
func (p *Placeholders) CatchAll() string {
	return p.catchAll
}

// HasDefault reports whether key has its own default.
func (p *Placeholders) HasDefault(key string) bool {
	_, ok := p.defaults[key]
	return ok
}
