// Package validation runs a feature's validation steps and the regression
// checks replayed at the start of every session.
package validation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"go.uber.org/zap"
)

// DefaultStepTimeout bounds a single step.
const DefaultStepTimeout = 2 * time.Minute

// StepResult is the outcome of one step.
type StepResult struct {
	Step     string        `json:"step"`
	Passed   bool          `json:"passed"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of validating one feature.
type Result struct {
	FeatureID int           `json:"featureId"`
	Steps     []StepResult  `json:"steps"`
	Passed    bool          `json:"passed"`
	Duration  time.Duration `json:"duration"`

	err error
}

// Err returns the *StepError of the failing step, or nil.
func (r Result) Err() error {
	return r.err
}

// RegressionFunc checks that a previously passing feature still works.
type RegressionFunc func(ctx context.Context, f features.Feature) error

// RegressionResult is the outcome of replaying regression checks against one
// feature.
type RegressionResult struct {
	FeatureID int           `json:"featureId"`
	Name      string        `json:"name"`
	Passed    bool          `json:"passed"`
	Check     string        `json:"check,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

type regression struct {
	name string
	fn   RegressionFunc
}

// Engine runs steps in order through an Executor.
type Engine struct {
	exec        Executor
	stepTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu          sync.RWMutex
	regressions []regression
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStepTimeout bounds each step.
func WithStepTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now for durations.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an engine.
func NewEngine(exec Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		exec:        exec,
		stepTimeout: DefaultStepTimeout,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run validates steps in order and stops at the first failure. A step that
// exceeds the step timeout fails. A feature without steps fails with
// ErrNoSteps.
func (e *Engine) Run(ctx context.Context, featureID int, steps []string) Result {
	start := e.now()
	res := Result{FeatureID: featureID, Steps: []StepResult{}}
	ctx = WithFeature(ctx, featureID)

	if len(steps) == 0 {
		res.err = &StepError{Index: -1, Step: "", Err: ErrNoSteps}
		res.Duration = e.now().Sub(start)
		return res
	}

	res.Passed = true
	for i, step := range steps {
		stepStart := e.now()
		err := e.runStep(ctx, step)
		sr := StepResult{Step: step, Passed: err == nil, Duration: e.now().Sub(stepStart)}
		if err != nil {
			sr.Error = err.Error()
			res.Passed = false
			res.err = &StepError{Index: i, Step: step, Err: err}
		}
		res.Steps = append(res.Steps, sr)

		e.logger.Debug("validation step",
			zap.Int("feature_id", featureID),
			zap.Int("step", i+1),
			zap.Bool("passed", sr.Passed),
			zap.Duration("duration", sr.Duration))
		if err != nil {
			break
		}
	}
	res.Duration = e.now().Sub(start)
	return res
}

// runStep bounds one step by the step timeout. A step that ignores its
// context is abandoned once the timeout fires.
func (e *Engine) runStep(ctx context.Context, step string) error {
	ctx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("check panicked: %v", r)
			}
		}()
		done <- e.exec.Run(ctx, step)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrStepTimeout, e.stepTimeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrStepTimeout, e.stepTimeout)
		}
		return ctx.Err()
	}
}

// RegisterRegression adds a check replayed by RunRegressions. Checks run in
// registration order.
func (e *Engine) RegisterRegression(name string, fn RegressionFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regressions = append(e.regressions, regression{name: name, fn: fn})
}

// Regressions returns the registered check names.
func (e *Engine) Regressions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, len(e.regressions))
	for i, r := range e.regressions {
		names[i] = r.name
	}
	return names
}

// RunRegressions replays every registered check against each feature and
// reports one result per feature. A feature's checks stop at its first
// failure. With no checks registered every feature passes.
func (e *Engine) RunRegressions(ctx context.Context, fs []features.Feature) []RegressionResult {
	e.mu.RLock()
	checks := append([]regression(nil), e.regressions...)
	e.mu.RUnlock()

	out := make([]RegressionResult, 0, len(fs))
	for _, f := range fs {
		start := e.now()
		rr := RegressionResult{FeatureID: f.ID, Name: f.Name, Passed: true}
		fctx := WithFeature(ctx, f.ID)
		for _, c := range checks {
			if err := c.fn(fctx, f); err != nil {
				rr.Passed = false
				rr.Check = c.name
				rr.Error = err.Error()
				break
			}
		}
		rr.Duration = e.now().Sub(start)
		out = append(out, rr)
	}
	return out
}

// ReplaySteps is a RegressionFunc that re-runs the feature's own
// validation steps.
func (e *Engine) ReplaySteps() RegressionFunc {
	return func(ctx context.Context, f features.Feature) error {
		return e.Run(ctx, f.ID, f.ValidationSteps).Err()
	}
}
