package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/harness/internal/app"
	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/config"
	"github.com/fyrsmithlabs/harness/internal/events"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/hooks"
	"github.com/fyrsmithlabs/harness/internal/learning"
	"github.com/fyrsmithlabs/harness/internal/logging"
	"github.com/fyrsmithlabs/harness/internal/metrics"
	"github.com/fyrsmithlabs/harness/internal/plan"
	"github.com/fyrsmithlabs/harness/internal/report"
	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/fyrsmithlabs/harness/internal/validation"
	"github.com/fyrsmithlabs/harness/internal/vcs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/harness/internal/orchestrator"

const (
	// RegressionCheckName is the regression check registered when the engine
	// has none: it replays the feature's own validation steps.
	RegressionCheckName = "feature-steps"

	maxKnownIssues = 20
)

// Orchestrator runs sessions against one project.
type Orchestrator struct {
	cfg         *config.Config
	store       *store.FileStore
	generator   *features.Generator
	scheduler   *features.Scheduler
	planner     *plan.Builder
	engine      *validation.Engine
	starter     app.Starter
	implementer plan.Implementer
	committer   vcs.Committer
	publisher   events.Publisher
	metrics     *metrics.Metrics
	budgetMeter *budget.Metrics
	hooks       *hooks.HookManager
	learning    *learning.Store
	logger      *logging.Logger
	tracer      trace.Tracer
	now         func() time.Time
	onStep      StepCallback

	// sessionMu serializes sessions. The fields below it are only touched by
	// the goroutine holding it, or before any session has started.
	sessionMu   sync.Mutex
	list        *features.FeatureList
	lastSession int
	lastOutcome store.Outcome
	knownIssues []string

	mu      sync.RWMutex
	status  Status
	tracker *session.Tracker

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEngine replaces the validation engine.
func WithEngine(e *validation.Engine) Option {
	return func(o *Orchestrator) { o.engine = e }
}

// WithStarter sets the app starter.
func WithStarter(s app.Starter) Option {
	return func(o *Orchestrator) { o.starter = s }
}

// WithImplementer sets the implementation delegate.
func WithImplementer(i plan.Implementer) Option {
	return func(o *Orchestrator) { o.implementer = i }
}

// WithCommitter sets the VCS adapter.
func WithCommitter(c vcs.Committer) Option {
	return func(o *Orchestrator) { o.committer = c }
}

// WithPublisher sets the lifecycle event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records sessions and features on Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithBudgetMetrics records budget charges on OpenTelemetry instruments.
func WithBudgetMetrics(m *budget.Metrics) Option {
	return func(o *Orchestrator) { o.budgetMeter = m }
}

// WithHooks sets the hook manager. The orchestrator adds its own handlers.
func WithHooks(h *hooks.HookManager) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithLearning sets the learned-pattern store.
func WithLearning(l *learning.Store) Option {
	return func(o *Orchestrator) { o.learning = l }
}

// WithGenerator replaces the feature generator used by Initialize.
func WithGenerator(g *features.Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStepCallback receives a notification as each protocol step starts.
func WithStepCallback(cb StepCallback) Option {
	return func(o *Orchestrator) { o.onStep = cb }
}

// New creates an orchestrator for the project behind st. A nil cfg uses
// config.Default().
func New(cfg *config.Config, st *store.FileStore, opts ...Option) (*Orchestrator, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		store:       st,
		scheduler:   features.NewScheduler(cfg.Loop.MaxRetries),
		planner:     plan.NewBuilder(cfg.Loop.MaxRetries, cfg.Implementer.Timeout, cfg.Validation.StepTimeout),
		starter:     app.NopStarter{},
		implementer: plan.NopImplementer{},
		committer:   vcs.NopCommitter{},
		publisher:   events.NopPublisher{},
		logger:      logging.Nop(),
		now:         time.Now,
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.generator == nil {
		o.generator = features.NewGenerator(
			features.WithTestCommand(cfg.Validation.TestCommand),
			features.WithE2ECommand(cfg.Validation.E2ECommand),
		)
	}
	if o.engine == nil {
		exec := validation.NewLocalExecutor(st.ProjectDir(),
			validation.WithFallbackCommand(cfg.Validation.FallbackCommand),
			validation.WithExecutorLogger(o.logger.Underlying()),
		)
		o.engine = validation.NewEngine(exec,
			validation.WithStepTimeout(cfg.Validation.StepTimeout),
			validation.WithLogger(o.logger.Underlying()),
		)
	}
	if len(o.engine.Regressions()) == 0 {
		o.engine.RegisterRegression(RegressionCheckName, o.engine.ReplaySteps())
	}
	if o.hooks == nil {
		o.hooks = hooks.NewHookManager()
	}
	if o.learning == nil {
		o.learning = learning.NewStore(0)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	o.registerHooks()

	o.status.Project = filepath.Base(st.ProjectDir())
	return o, nil
}

// Initialize generates the feature list for s and persists it.
func (o *Orchestrator) Initialize(ctx context.Context, s *spec.AppSpec) error {
	if !o.sessionMu.TryLock() {
		return ErrSessionRunning
	}
	defer o.sessionMu.Unlock()

	if s == nil {
		return errors.New("app spec is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if o.store.Initialized() {
		return ErrAlreadyInitialized
	}

	now := o.now()
	list := features.NewList(*s, o.generator.Generate(s), now)
	if err := list.Validate(); err != nil {
		return fmt.Errorf("generated feature list: %w", err)
	}
	if err := o.store.SaveFeatureList(list); err != nil {
		return err
	}
	o.list = list
	o.lastSession = 0
	o.knownIssues = nil

	if err := o.store.WriteReport(report.Render(report.Input{
		List:       list,
		MaxRetries: o.cfg.Loop.MaxRetries,
		Now:        now,
	})); err != nil {
		return err
	}

	o.logger.Info(ctx, "harness initialized",
		zap.String("app", s.Name),
		zap.Int("features", list.TotalFeatures),
	)
	o.refreshStatus(nil)
	return nil
}

// Resume loads the persisted state of an initialized project.
func (o *Orchestrator) Resume(ctx context.Context) error {
	if !o.sessionMu.TryLock() {
		return ErrSessionRunning
	}
	defer o.sessionMu.Unlock()

	list, err := o.store.LoadFeatureList()
	if err != nil {
		if errors.Is(err, store.ErrNotInitialized) {
			return ErrNotInitialized
		}
		return err
	}
	last, err := o.store.LastSessionNumber()
	if err != nil {
		return err
	}
	if p, ok, err := o.store.LatestProgress(); err != nil {
		return err
	} else if ok {
		o.lastOutcome = p.Outcome
		o.knownIssues = append([]string(nil), p.KnownIssues...)
	}

	history, err := o.store.LoadHistory()
	if err != nil {
		return err
	}
	for _, rec := range history {
		o.learning.AddLearned(rec.LearnedPatterns...)
		o.learning.AddAvoid(rec.AvoidPatterns...)
	}

	o.list = list
	o.lastSession = last
	o.logger.Info(ctx, "harness resumed",
		zap.String("app", list.AppSpec.Name),
		zap.Int("last_session", last),
		zap.Int("completed", list.CompletedFeatures),
		zap.Int("total", list.TotalFeatures),
		zap.Int("patterns", o.learning.Len()),
	)
	o.refreshStatus(nil)
	return nil
}

// RunContinuous runs sessions until every feature passes, nothing more can
// be scheduled, Stop is called, ctx is cancelled, max_run_sessions sessions
// have run, or max_consecutive_faults sessions fault in a row. onProgress,
// when set, receives every session's progress record, including sessions
// ended by a forced reset.
func (o *Orchestrator) RunContinuous(ctx context.Context, onProgress ProgressFunc) (Summary, error) {
	start := o.now()
	var sum Summary
	finish := func() Summary {
		o.mu.RLock()
		sum.TotalFeatures = o.status.TotalFeatures
		sum.CompletedFeatures = o.status.CompletedFeatures
		o.mu.RUnlock()
		sum.Success = sum.TotalFeatures > 0 && sum.CompletedFeatures == sum.TotalFeatures
		sum.Duration = o.now().Sub(start)
		return sum
	}

	if !o.Initialized() {
		return finish(), ErrNotInitialized
	}

	sessions := 0
	notify := func(p store.Progress) {
		sessions++
		if onProgress != nil {
			onProgress(p)
		}
	}

	consecutive := 0
	for {
		if o.stopped.Load() {
			sum.Stopped = true
			break
		}
		if ctx.Err() != nil {
			break
		}
		if o.done() {
			break
		}
		if sessions >= o.cfg.Loop.MaxRunSessions {
			o.logger.Warn(ctx, "session limit reached", zap.Int("sessions", sessions))
			break
		}

		_, err := o.executeSession(ctx, notify)
		sum.TotalSessions = sessions

		var fault *HarnessFault
		switch {
		case errors.As(err, &fault):
			sum.Faults++
			consecutive++
			o.logger.Error(ctx, "session faulted", zap.Error(err), zap.Int("consecutive", consecutive))
			if consecutive >= o.cfg.Loop.MaxConsecutiveFaults {
				return finish(), err
			}
		case err != nil:
			return finish(), err
		default:
			consecutive = 0
		}

		if o.done() || o.stopped.Load() {
			continue
		}
		o.pause(ctx)
	}
	return finish(), nil
}

// Stop asks RunContinuous to return before its next session. A running
// session completes first.
func (o *Orchestrator) Stop() {
	o.stopped.Store(true)
	o.stopOnce.Do(func() { close(o.stopCh) })
}

// Initialized reports whether a feature list has been created or loaded.
func (o *Orchestrator) Initialized() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.Initialized
}

// Status returns the current status. It is safe to call while a session
// runs.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.status
	if o.tracker != nil {
		b := o.tracker.Budget()
		st.Budget = &b
	}
	st.Skipped = append([]features.Skip(nil), o.status.Skipped...)
	st.KnownIssues = append([]string(nil), o.status.KnownIssues...)
	return st
}

func (o *Orchestrator) done() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status.NextFeature == nil
}

// pause sleeps between sessions. Stop and ctx cut it short.
func (o *Orchestrator) pause(ctx context.Context) {
	d := o.cfg.Loop.PauseBetweenSessions
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-o.stopCh:
	}
}

// refreshStatus recomputes the status from the list. Callers hold
// sessionMu or run before any session.
func (o *Orchestrator) refreshStatus(r *run) {
	st := Status{
		Project:     o.status.Project,
		Initialized: o.list != nil,
		LastOutcome: o.lastOutcome,
	}
	st.SessionNumber = o.lastSession
	st.KnownIssues = append([]string(nil), o.knownIssues...)
	if o.list != nil {
		st.Project = o.list.AppSpec.Name
		st.TotalFeatures = o.list.TotalFeatures
		st.CompletedFeatures = o.list.CompletedFeatures
		st.Percent = o.list.Percent()
		st.Skipped = o.scheduler.Explain(o.list)
		if next, ok := o.scheduler.PickNext(o.list); ok {
			st.NextFeature = &store.FeatureRef{ID: next.ID, Name: next.Name}
		}
	}
	if r != nil && !r.closed {
		st.Running = true
		st.Step = r.step
		st.SessionNumber = r.tracker.Number()
		if r.feature != nil {
			st.CurrentFeature = &store.FeatureRef{ID: r.feature.ID, Name: r.feature.Name}
		}
	}

	o.mu.Lock()
	o.status = st
	o.tracker = nil
	if st.Running {
		o.tracker = r.tracker
	}
	o.mu.Unlock()
}

func (o *Orchestrator) addKnownIssue(issue string) {
	o.knownIssues = append(o.knownIssues, issue)
	if n := len(o.knownIssues); n > maxKnownIssues {
		o.knownIssues = append([]string(nil), o.knownIssues[n-maxKnownIssues:]...)
	}
}
