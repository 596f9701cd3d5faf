package validation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCheck means no executable check covers a step. Such steps fail.
	ErrNoCheck = errors.New("no check registered for step")

	// ErrNoSteps means a feature has nothing to validate.
	ErrNoSteps = errors.New("feature has no validation steps")

	ErrMalformedStep = errors.New("malformed validation step")
	ErrNoMatch       = errors.New("no file matches")
	ErrUnexpected    = errors.New("unexpected file matches")
	ErrNotContained  = errors.New("text not found")
	ErrStepTimeout   = errors.New("step timed out")
)

// StepError is the first failing step of a validation run.
type StepError struct {
	Index int
	Step  string
	Err   error
}

func (e *StepError) Error() string {
	if e.Step == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("step %d (%s): %v", e.Index+1, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
