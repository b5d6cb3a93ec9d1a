// Package compliance models the non-compliant resource set reported by the
// compliance evaluator as a lazy sequence of result pages.
package compliance

import (
	"context"
	"iter"
)

// ResourceTypeDBSnapshot is the evaluator's resource type for RDS DB snapshots.
const ResourceTypeDBSnapshot = "AWS::RDS::DBSnapshot"

// Result is one non-compliant evaluation result.
type Result struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

// Source yields the non-compliant results of a rule, one page at a time.
// Each call starts a fresh traversal; iteration stops at the first error.
type Source interface {
	NonCompliant(ctx context.Context, ruleName string) iter.Seq2[[]Result, error]
}

// Snapshots narrows a source's pages to DB snapshot resource IDs.
// Empty pages after filtering are skipped.
func Snapshots(ctx context.Context, src Source, ruleName string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for page, err := range src.NonCompliant(ctx, ruleName) {
			if err != nil {
				yield(nil, err)
				return
			}

			ids := make([]string, 0, len(page))
			for _, r := range page {
				if r.ResourceType == ResourceTypeDBSnapshot && r.ResourceID != "" {
					ids = append(ids, r.ResourceID)
				}
			}
			if len(ids) == 0 {
				continue
			}
			if !yield(ids, nil) {
				return
			}
		}
	}
}

// StaticSource serves fixed pages from memory.
type StaticSource struct {
	Pages [][]Result
	// Err, when set, is returned after all pages have been served.
	Err error
}

// NonCompliant implements Source.
func (s StaticSource) NonCompliant(ctx context.Context, _ string) iter.Seq2[[]Result, error] {
	return func(yield func([]Result, error) bool) {
		for _, page := range s.Pages {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
		if s.Err != nil {
			yield(nil, s.Err)
		}
	}
}
