package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/store"
)

var (
	// ErrNotInitialized is returned before Initialize or Resume succeeded.
	ErrNotInitialized = errors.New("harness is not initialized")

	// ErrAlreadyInitialized is returned by Initialize when a feature list exists.
	ErrAlreadyInitialized = errors.New("harness is already initialized")

	// ErrSessionRunning is returned when a session is started while another runs.
	ErrSessionRunning = errors.New("a session is already running")
)

// Step is one stage of the session protocol.
type Step string

const (
	StepGetBearings    Step = "get_bearings"
	StepStartApp       Step = "start_app"
	StepRegressionTest Step = "regression_test"
	StepPickTask       Step = "pick_task"
	StepImplement      Step = "implement"
	StepValidate       Step = "validate"
	StepMarkOutcome    Step = "mark_outcome"
	StepCommit         Step = "commit"
	StepUpdateProgress Step = "update_progress"
	StepPersist        Step = "persist"
)

// AllSteps returns the steps in execution order.
func AllSteps() []Step {
	return []Step{
		StepGetBearings, StepStartApp, StepRegressionTest, StepPickTask, StepImplement,
		StepValidate, StepMarkOutcome, StepCommit, StepUpdateProgress, StepPersist,
	}
}

func stepIndex(s Step) int {
	for i, st := range AllSteps() {
		if st == s {
			return i
		}
	}
	return -1
}

// StepProgress reports a step starting.
type StepProgress struct {
	SessionNumber int    `json:"sessionNumber"`
	Step          Step   `json:"step"`
	Message       string `json:"message"`
	Percentage    int    `json:"percentage"`
}

// StepCallback receives step progress.
type StepCallback func(StepProgress)

// ProgressFunc receives the progress record of every finished session.
type ProgressFunc func(store.Progress)

// Summary is the aggregate result of RunContinuous.
type Summary struct {
	Success           bool          `json:"success"`
	TotalSessions     int           `json:"totalSessions"`
	TotalFeatures     int           `json:"totalFeatures"`
	CompletedFeatures int           `json:"completedFeatures"`
	Duration          time.Duration `json:"duration"`
	Faults            int           `json:"faults"`
	Stopped           bool          `json:"stopped"`
}

// Status is a point-in-time view of the harness.
type Status struct {
	Project           string            `json:"project"`
	Initialized       bool              `json:"initialized"`
	Running           bool              `json:"running"`
	Step              Step              `json:"step,omitempty"`
	SessionNumber     int               `json:"sessionNumber"`
	TotalFeatures     int               `json:"totalFeatures"`
	CompletedFeatures int               `json:"completedFeatures"`
	Percent           float64           `json:"percent"`
	CurrentFeature    *store.FeatureRef `json:"currentFeature,omitempty"`
	NextFeature       *store.FeatureRef `json:"nextFeature,omitempty"`
	Budget            *budget.Status    `json:"budget,omitempty"`
	Skipped           []features.Skip   `json:"skipped,omitempty"`
	LastOutcome       store.Outcome     `json:"lastOutcome,omitempty"`
	KnownIssues       []string          `json:"knownIssues,omitempty"`
}

// HarnessFault is a panic or unexpected error caught at the session
// boundary. The session's progress has been written by the time it is
// returned.
type HarnessFault struct {
	SessionNumber int
	Step          Step
	Err           error
	Panic         bool
}

func (f *HarnessFault) Error() string {
	kind := "error"
	if f.Panic {
		kind = "panic"
	}
	return fmt.Sprintf("session %d: %s during %s: %v", f.SessionNumber, kind, f.Step, f.Err)
}

func (f *HarnessFault) Unwrap() error {
	return f.Err
}
