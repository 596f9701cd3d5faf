package store

import "errors"

var (
	// ErrNotInitialized means the project has no feature list yet.
	ErrNotInitialized = errors.New("project is not initialized")

	ErrInvalidDocument = errors.New("invalid document")
)
