package features

import "errors"

// Lookup errors.
var (
	ErrFeatureNotFound = errors.New("feature not found")
)

// Structural errors reported by FeatureList.Validate.
var (
	ErrDuplicateID       = errors.New("duplicate feature id")
	ErrInvalidID         = errors.New("feature id must be positive")
	ErrUnknownDependency = errors.New("dependency references unknown feature")
	ErrSelfDependency    = errors.New("feature depends on itself")
	ErrCycle             = errors.New("dependency cycle")
	ErrCompletedMismatch = errors.New("completed count does not match passing features")
	ErrTotalMismatch     = errors.New("total count does not match feature count")
)
