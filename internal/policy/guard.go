// Package policy evaluates an operator-supplied Rego policy that can exclude
// snapshots from reconciliation.
package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/snaptag/internal/tagging"
	"github.com/yairfalse/snaptag/internal/telemetry"
)

// Query is the document every skip policy must populate. A policy sets
// "skip" to true to exclude a snapshot and may set "reason".
const Query = "data.snaptag"

// Input is the document a policy sees as "input".
type Input struct {
	Snapshot SnapshotInput `json:"snapshot"`
	Parent   ParentInput   `json:"parent"`
}

// SnapshotInput describes the snapshot under evaluation.
type SnapshotInput struct {
	ID               string `json:"id"`
	ARN              string `json:"arn"`
	Type             string `json:"type"`
	ParentInstanceID string `json:"parent_instance_id"`
}

// ParentInput describes the parent lookup result.
type ParentInput struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
	ARN    string `json:"arn,omitempty"`
}

// Guard evaluates a compiled skip policy.
type Guard struct {
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
}

// LoadFile compiles the Rego module at path.
func LoadFile(ctx context.Context, path string, logger *telemetry.Logger) (*Guard, error) {
	src, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read policy %s: %w", path, err)
	}
	return New(ctx, filepath.Base(path), string(src), logger)
}

// New compiles a Rego module named name.
func New(ctx context.Context, name, module string, logger *telemetry.Logger) (*Guard, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}

	prepared, err := rego.New(
		rego.Query(Query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	logger.WithContext(ctx).Info().
		Str("policy_name", name).
		Msg("skip policy loaded")

	return &Guard{query: prepared, logger: logger}, nil
}

// BuildInput builds the policy input for a snapshot.
func BuildInput(snapshot tagging.Snapshot, parent tagging.ParentLookup) Input {
	in := Input{
		Snapshot: SnapshotInput{
			ID:               snapshot.ID,
			ARN:              snapshot.ARN,
			Type:             snapshot.Type,
			ParentInstanceID: snapshot.ParentInstanceID,
		},
		Parent: ParentInput{Status: string(parent.Status)},
	}
	if parent.Status == tagging.ParentFound {
		in.Parent.ID = parent.Instance.ID
		in.Parent.ARN = parent.Instance.ARN
	}
	return in
}

// Allow reports whether the snapshot may be reconciled. When it may not,
// the policy's reason is returned.
func (g *Guard) Allow(ctx context.Context, snapshot tagging.Snapshot, parent tagging.ParentLookup) (bool, string, error) {
	results, err := g.query.Eval(ctx, rego.EvalInput(BuildInput(snapshot, parent)))
	if err != nil {
		return false, "", fmt.Errorf("evaluation failed: %w", err)
	}

	skip, reason := parseResults(results)
	if skip {
		g.logger.ForSnapshot(ctx, snapshot.ID).Debug().
			Str("reason", reason).
			Msg("skip policy matched")
		return false, reason, nil
	}
	return true, "", nil
}

// parseResults reads "skip" and "reason" from the query document. Values of
// the wrong type are ignored.
func parseResults(results rego.ResultSet) (bool, string) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, ""
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return false, ""
	}

	skip, _ := doc["skip"].(bool)
	reason, _ := doc["reason"].(string)
	if skip && reason == "" {
		reason = "excluded by skip policy"
	}
	return skip, reason
}
