// Package tagging holds the snapshot tag reconciliation core: the required
// tag set, placeholder values and the propagation and placeholder engines.
package tagging

import "context"

// Tag is a single key/value pair attached to a resource.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Tags maps tag keys to values for one resource.
// Keys are unique per resource, so a map is the natural shape here.
type Tags map[string]string

// Has reports whether key is present, including keys with empty values.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Get returns the value for key and whether it is present.
func (t Tags) Get(key string) (string, bool) {
	v, ok := t[key]
	return v, ok
}

// Clone returns an independent copy.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Snapshot is a DB snapshot as seen by the reconciler.
type Snapshot struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
	// ParentInstanceID is empty when the snapshot has no parent reference.
	ParentInstanceID string `json:"parent_instance_id,omitempty"`
	// Type is the RDS snapshot type, e.g. "manual" or "automated".
	Type string `json:"type,omitempty"`
}

// ParentInstance is the DB instance a snapshot was taken from.
type ParentInstance struct {
	ID  string `json:"id"`
	ARN string `json:"arn"`
}

// LookupStatus classifies the result of a parent instance lookup.
type LookupStatus string

const (
	ParentFound   LookupStatus = "found"
	ParentMissing LookupStatus = "missing"
	ParentFailed  LookupStatus = "failed"
)

// ParentLookup is the tagged result of looking up a snapshot's parent.
// Instance is set only when Status is ParentFound; Err only when ParentFailed.
type ParentLookup struct {
	Status   LookupStatus
	Instance ParentInstance
	Err      error
}

// Found returns a lookup result for an existing instance.
func Found(instance ParentInstance) ParentLookup {
	return ParentLookup{Status: ParentFound, Instance: instance}
}

// Missing returns a lookup result for a definitively absent instance.
func Missing() ParentLookup {
	return ParentLookup{Status: ParentMissing}
}

// Failed returns a lookup result for an inconclusive lookup.
func Failed(err error) ParentLookup {
	return ParentLookup{Status: ParentFailed, Err: err}
}

// TagStore reads and appends tags on a resource identified by ARN.
type TagStore interface {
	ListTags(ctx context.Context, arn string) (Tags, error)
	AddTags(ctx context.Context, arn string, tags []Tag) error
}
