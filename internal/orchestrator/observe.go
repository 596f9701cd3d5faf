package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/harness/internal/events"
	"github.com/fyrsmithlabs/harness/internal/hooks"
	"github.com/fyrsmithlabs/harness/internal/metrics"
	"github.com/fyrsmithlabs/harness/internal/store"
	"go.uber.org/zap"
)

// hookEvents maps lifecycle hooks to the events published for them.
var hookEvents = []struct {
	hook  hooks.HookType
	event events.Type
}{
	{hooks.HookSessionStart, events.SessionStarted},
	{hooks.HookSessionEnd, events.SessionCompleted},
	{hooks.HookContextReset, events.SessionReset},
	{hooks.HookBudgetWarning, events.BudgetWarning},
	{hooks.HookFeaturePassed, events.FeaturePassed},
	{hooks.HookFeatureFailed, events.FeatureFailed},
	{hooks.HookFeatureRegressed, events.FeatureRegressed},
}

// registerHooks wires the publisher and the Prometheus collectors to the
// lifecycle hooks.
func (o *Orchestrator) registerHooks() {
	for _, he := range hookEvents {
		o.hooks.RegisterHandler(he.hook, o.publishHandler(he.event))
	}

	o.hooks.RegisterHandler(hooks.HookSessionEnd, func(_ context.Context, d hooks.Data) error {
		outcome, _ := d["outcome"].(string)
		secs, _ := d["duration_seconds"].(float64)
		tokens, _ := d["tokens_used"].(int)
		o.metrics.ObserveSession(sessionOutcomeLabel(store.Outcome(outcome)), time.Duration(secs*float64(time.Second)), tokens)
		return nil
	})
	o.hooks.RegisterHandler(hooks.HookFeaturePassed, func(context.Context, hooks.Data) error {
		o.metrics.ObserveFeature(true)
		return nil
	})
	o.hooks.RegisterHandler(hooks.HookFeatureFailed, func(context.Context, hooks.Data) error {
		o.metrics.ObserveFeature(false)
		return nil
	})
	o.hooks.RegisterHandler(hooks.HookFeatureRegressed, func(context.Context, hooks.Data) error {
		o.metrics.ObserveRegression()
		return nil
	})
}

func (o *Orchestrator) publishHandler(t events.Type) hooks.HookHandler {
	return func(ctx context.Context, d hooks.Data) error {
		o.mu.RLock()
		project := o.status.Project
		o.mu.RUnlock()
		e := events.Event{
			Type:      t,
			Project:   project,
			Timestamp: o.now().UTC(),
			Data:      map[string]interface{}(d),
		}
		e.SessionID, _ = d["session_id"].(string)
		e.SessionNumber, _ = d["session_number"].(int)
		e.FeatureID, _ = d["feature_id"].(int)
		return o.publisher.Publish(ctx, e)
	}
}

// fire runs the handlers for a hook. Handler failures are logged and never
// fail the session.
func (o *Orchestrator) fire(ctx context.Context, hook hooks.HookType, d hooks.Data) {
	if err := o.hooks.Execute(ctx, hook, d); err != nil {
		o.logger.Warn(ctx, "hook handler failed", zap.String("hook", string(hook)), zap.Error(err))
	}
}

func sessionOutcomeLabel(o store.Outcome) string {
	switch o {
	case store.OutcomeComplete:
		return metrics.OutcomeCompleted
	case store.OutcomeReset:
		return metrics.OutcomeReset
	case store.OutcomeFault:
		return metrics.OutcomeFault
	case store.OutcomePassed:
		return metrics.OutcomePassed
	default:
		return metrics.OutcomeFailed
	}
}
