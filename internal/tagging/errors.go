package tagging

import "errors"

var (
	// ErrRuleNotFound is returned when the compliance rule does not exist.
	ErrRuleNotFound = errors.New("compliance rule not found")

	// ErrNoRuleParameters is returned when the rule carries no input parameters.
	ErrNoRuleParameters = errors.New("compliance rule has no input parameters")

	// ErrSnapshotNotFound is returned when a flagged snapshot no longer exists.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
