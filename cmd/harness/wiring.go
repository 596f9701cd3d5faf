package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/fyrsmithlabs/harness/internal/app"
	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/events"
	"github.com/fyrsmithlabs/harness/internal/ignore"
	"github.com/fyrsmithlabs/harness/internal/learning"
	"github.com/fyrsmithlabs/harness/internal/metrics"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/plan"
	"github.com/fyrsmithlabs/harness/internal/telemetry"
	"github.com/fyrsmithlabs/harness/internal/validation"
	"github.com/fyrsmithlabs/harness/internal/vcs"
	"go.uber.org/zap"
)

const tracerName = "github.com/fyrsmithlabs/harness"

// appHealthyCheck is the named check behind `check: app-healthy` steps.
const appHealthyCheck = "app-healthy"

// harness is a fully wired orchestrator and the resources it holds.
type harness struct {
	*orchestrator.Orchestrator
	closers []func(context.Context)
}

// Close releases everything newHarness acquired, in reverse order.
func (h *harness) Close(ctx context.Context) {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i](ctx)
	}
}

// newHarness wires the orchestrator to the collaborators the configuration
// asks for. Optional infrastructure that cannot be reached (telemetry, NATS)
// is logged and replaced by its no-op form.
func newHarness(ctx context.Context, rt *runtime, extra ...orchestrator.Option) (*harness, error) {
	h := &harness{}
	zl := rt.logger.Underlying()
	cfg := rt.cfg

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	h.closers = append(h.closers, func(ctx context.Context) {
		if err := tel.Shutdown(ctx); err != nil {
			zl.Warn("telemetry shutdown failed", zap.Error(err))
		}
	})
	if health := tel.Health(); health.Degraded {
		zl.Warn("telemetry degraded", zap.Strings("problems", health.Problems))
	}

	budgetMetrics, err := budget.NewMetrics(tel.Meter(budget.InstrumentationName))
	if err != nil {
		zl.Warn("budget instruments unavailable", zap.Error(err))
		budgetMetrics = nil
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(rt.logger),
		orchestrator.WithTracer(tel.Tracer(tracerName)),
		orchestrator.WithMetrics(metrics.NewMetrics()),
		orchestrator.WithBudgetMetrics(budgetMetrics),
		orchestrator.WithLearning(learning.NewStore(0)),
	}

	var healthCheck validation.Predicate = func(context.Context) error { return app.ErrNoHealthURL }
	if cfg.App.StartCommand != "" || cfg.App.HealthURL != "" {
		starter := app.NewCommandStarter(app.Config{
			Dir:          rt.dir,
			Command:      cfg.App.StartCommand,
			HealthURL:    cfg.App.HealthURL,
			StartTimeout: cfg.App.StartTimeout,
			PollInterval: cfg.App.PollInterval,
			LogPath:      filepath.Join(rt.store.Dir(), "app.log"),
		}, zl)
		h.closers = append(h.closers, func(context.Context) { starter.Stop() })
		healthCheck = starter.HealthCheck
		opts = append(opts, orchestrator.WithStarter(starter))
	}

	matcher, err := ignore.Load(rt.dir)
	if err != nil {
		return nil, err
	}
	exec := validation.NewLocalExecutor(rt.dir,
		validation.WithFallbackCommand(cfg.Validation.FallbackCommand),
		validation.WithIgnore(matcher),
		validation.WithExecutorLogger(zl),
	)
	exec.RegisterCheck(appHealthyCheck, healthCheck)
	opts = append(opts, orchestrator.WithEngine(validation.NewEngine(exec,
		validation.WithStepTimeout(cfg.Validation.StepTimeout),
		validation.WithLogger(zl),
	)))

	if cfg.Implementer.Command != "" {
		opts = append(opts, orchestrator.WithImplementer(
			plan.NewCommandImplementer(cfg.Implementer.Command, rt.dir, cfg.Implementer.Timeout, plan.WithLogger(zl)),
		))
	} else {
		zl.Warn("no implementer command configured; sessions only validate")
	}

	if cfg.Loop.AutoCommit {
		opts = append(opts, orchestrator.WithCommitter(
			vcs.NewGitCommitter(rt.dir, cfg.VCS.AuthorName, cfg.VCS.AuthorEmail, vcs.WithInit()),
		))
	}

	if cfg.Events.NATSURL != "" {
		pub, err := events.Connect(events.Options{
			URL:           cfg.Events.NATSURL,
			Token:         cfg.Events.Token.Value(),
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Project:       filepath.Base(rt.dir),
		}, zl)
		if err != nil {
			zl.Warn("event publishing disabled", zap.Error(err))
		} else {
			h.closers = append(h.closers, func(context.Context) { _ = pub.Close() })
			opts = append(opts, orchestrator.WithPublisher(pub))
		}
	}

	o, err := orchestrator.New(cfg, rt.store, append(opts, extra...)...)
	if err != nil {
		h.Close(ctx)
		return nil, err
	}
	h.Orchestrator = o
	return h, nil
}

// resume loads existing state, mapping a missing feature list to a hint.
func (h *harness) resume(ctx context.Context) error {
	err := h.Resume(ctx)
	if errors.Is(err, orchestrator.ErrNotInitialized) {
		return errors.New("project is not initialized; run `harness init --spec <file>` first")
	}
	return err
}
