package tagging

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyParamMarker marks a rule input parameter whose value names a required
// tag key ("tag1Key"), as opposed to a required value ("tag1Value").
const KeyParamMarker = "Key"

// RuleStore returns the raw input parameter blob of a compliance rule.
type RuleStore interface {
	DescribeRule(ctx context.Context, ruleName string) (string, error)
}

// RequiredTags is the immutable set of tag keys a snapshot must carry.
type RequiredTags struct {
	keys []string
}

// NewRequiredTags builds a set from keys, dropping blanks and duplicates.
func NewRequiredTags(keys ...string) RequiredTags {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return RequiredTags{keys: out}
}

// Keys returns a sorted copy of the required keys.
func (r RequiredTags) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of required keys.
func (r RequiredTags) Len() int {
	return len(r.keys)
}

// Contains reports whether key is required.
func (r RequiredTags) Contains(key string) bool {
	i := sort.SearchStrings(r.keys, key)
	return i < len(r.keys) && r.keys[i] == key
}

// Missing returns the required keys absent from tags.
func (r RequiredTags) Missing(tags Tags) []string {
	var missing []string
	for _, k := range r.keys {
		if !tags.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// ParseRequiredTags extracts required tag keys from a rule's input
// parameter JSON object. Only parameters whose name contains
// KeyParamMarker are used; their string values are the tag keys.
func ParseRequiredTags(blob string) (RequiredTags, error) {
	if strings.TrimSpace(blob) == "" {
		return RequiredTags{}, ErrNoRuleParameters
	}

	var params map[string]any
	if err := json.Unmarshal([]byte(blob), &params); err != nil {
		return RequiredTags{}, fmt.Errorf("parse rule parameters: %w", err)
	}

	keys := make([]string, 0, len(params))
	for name, value := range params {
		if !strings.Contains(name, KeyParamMarker) {
			continue
		}
		key, ok := value.(string)
		if !ok {
			return RequiredTags{}, fmt.Errorf("parse rule parameters: %s is %T, want string", name, value)
		}
		keys = append(keys, strings.TrimSpace(key))
	}

	return NewRequiredTags(keys...), nil
}

// ResolveRequired fetches ruleName from store and returns its required keys.
// Any failure here leaves nothing to reconcile against.
func ResolveRequired(ctx context.Context, store RuleStore, ruleName string) (RequiredTags, error) {
	blob, err := store.DescribeRule(ctx, ruleName)
	if err != nil {
		return RequiredTags{}, fmt.Errorf("describe rule %s: %w", ruleName, err)
	}

	required, err := ParseRequiredTags(blob)
	if err != nil {
		return RequiredTags{}, fmt.Errorf("rule %s: %w", ruleName, err)
	}
	return required, nil
}
