package session

import "errors"

var (
	ErrFrozen          = errors.New("session is frozen")
	ErrEmptyPath       = errors.New("file path is required")
	ErrEmptyDecision   = errors.New("decision description is required")
	ErrDecisionMissing = errors.New("decision not found")
	ErrErrorMissing    = errors.New("session error not found")
	ErrInvalidOutcome  = errors.New("invalid decision outcome")
)
