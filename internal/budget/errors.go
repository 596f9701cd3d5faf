package budget

import "errors"

var (
	ErrInvalidBudget    = errors.New("invalid budget amount")
	ErrInvalidThreshold = errors.New("warning threshold must be in (0, 1]")
	ErrNegativeCharge   = errors.New("token charge cannot be negative")
	ErrOverRelease      = errors.New("release exceeds tokens used")
)
