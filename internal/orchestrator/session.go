package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/fyrsmithlabs/harness/internal/app"
	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/hooks"
	"github.com/fyrsmithlabs/harness/internal/logging"
	"github.com/fyrsmithlabs/harness/internal/plan"
	"github.com/fyrsmithlabs/harness/internal/report"
	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/fyrsmithlabs/harness/internal/validation"
	"github.com/fyrsmithlabs/harness/internal/vcs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// run is the state of one ExecuteSession call. A forced reset replaces the
// session fields and keeps the protocol fields.
type run struct {
	// session
	tracker   *session.Tracker
	seeded    int
	seedSpent bool // the seed alone used up the budget
	autosave  *autosaver
	span      trace.Span
	closed    bool

	// protocol
	step        Step
	feature     *features.Feature
	app         app.Status
	regressions []validation.RegressionResult
	validation  *validation.Result
	commit      *features.CommitRef
	superseded  []string
	outcome     store.Outcome
	summary     string
	notify      ProgressFunc
}

// ExecuteSession runs one session through the full protocol and returns the
// progress record it persisted. When the budget runs out mid-session the
// record is that of the last session started by the forced reset.
func (o *Orchestrator) ExecuteSession(ctx context.Context) (store.Progress, error) {
	return o.executeSession(ctx, nil)
}

func (o *Orchestrator) executeSession(ctx context.Context, notify ProgressFunc) (p store.Progress, err error) {
	if !o.sessionMu.TryLock() {
		return store.Progress{}, ErrSessionRunning
	}
	defer o.sessionMu.Unlock()
	if o.list == nil {
		return store.Progress{}, ErrNotInitialized
	}

	r := &run{notify: notify}
	if err := o.openSession(ctx, r); err != nil {
		return store.Progress{}, err
	}

	defer func() {
		rec := recover()
		if rec == nil && err == nil {
			return
		}
		fault := &HarnessFault{SessionNumber: r.tracker.Number(), Step: r.step, Err: err}
		if rec != nil {
			fault.Err = fmt.Errorf("%v", rec)
			fault.Panic = true
			o.logger.Error(r.context(ctx), "session panicked",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
		if fp, ok := o.fail(ctx, r, fault); ok {
			p = fp
		}
		err = fault
	}()

	if err := o.protocol(ctx, r); err != nil {
		return store.Progress{}, err
	}
	return o.finalize(ctx, r, r.outcome, false)
}

// openSession starts tracking a new session numbered after the last one.
func (o *Orchestrator) openSession(ctx context.Context, r *run) error {
	n := o.lastSession + 1
	var tracker *session.Tracker
	gov, err := budget.NewGovernor(o.cfg.Budget.MaxTokens, o.cfg.Budget.WarningThreshold,
		budget.WithMetrics(o.budgetMeter),
		budget.WithListener(func(ev budget.Event) {
			o.budgetEvent(ctx, tracker, ev)
		}),
	)
	if err != nil {
		return err
	}
	tracker = session.NewTracker(n, gov,
		session.WithClock(o.now),
		session.WithDecisionMaxAge(o.cfg.Budget.DecisionMaxAge),
	)

	r.tracker = tracker
	r.seeded = 0
	r.closed = false
	_, r.span = o.tracer.Start(ctx, "harness.session", trace.WithAttributes(
		attribute.String("session.id", tracker.ID()),
		attribute.Int("session.number", n),
	))
	r.autosave = o.startAutosave(r)
	o.refreshStatus(r)

	o.logger.Info(r.context(ctx), "session started")
	o.fire(r.context(ctx), hooks.HookSessionStart, o.sessionData(r))
	return nil
}

// context tags ctx with the running session and feature.
func (r *run) context(ctx context.Context) context.Context {
	ctx = trace.ContextWithSpan(ctx, r.span)
	ctx = logging.WithSession(ctx, r.tracker.ID(), r.tracker.Number())
	if r.feature != nil {
		ctx = logging.WithFeatureID(ctx, r.feature.ID)
	}
	return ctx
}

func (o *Orchestrator) enter(ctx context.Context, r *run, s Step) {
	r.step = s
	o.refreshStatus(r)
	o.logger.Debug(r.context(ctx), "session step", zap.String("step", string(s)))
	if o.onStep != nil {
		o.onStep(StepProgress{
			SessionNumber: r.tracker.Number(),
			Step:          s,
			Message:       fmt.Sprintf("Starting step: %s", s),
			Percentage:    stepIndex(s) * 100 / len(AllSteps()),
		})
	}
}

// protocol runs GetBearings through Commit. UpdateProgress and Persist are
// run by finalize.
func (o *Orchestrator) protocol(ctx context.Context, r *run) error {
	o.enter(ctx, r, StepGetBearings)
	if err := o.getBearings(ctx, r); err != nil {
		return err
	}

	o.enter(ctx, r, StepStartApp)
	r.app = o.startApp(ctx, r)

	o.enter(ctx, r, StepRegressionTest)
	if err := o.regressionTest(ctx, r); err != nil {
		return err
	}

	o.enter(ctx, r, StepPickTask)
	f, ok := o.scheduler.PickNext(o.list)
	if !ok {
		r.outcome = store.OutcomeComplete
		r.summary = o.completeSummary()
		o.list.CurrentFeatureID = 0
		return nil
	}
	r.feature = &f
	o.list.CurrentFeatureID = f.ID
	r.tracker.SetFeature(f.ID)
	o.logger.Info(r.context(ctx), "feature picked",
		zap.String("feature", f.Name),
		zap.Int("attempt", f.Attempts+1),
	)

	o.enter(ctx, r, StepImplement)
	if err := o.implement(ctx, r); err != nil {
		return err
	}
	if err := o.checkBudget(ctx, r); err != nil {
		return err
	}

	o.enter(ctx, r, StepValidate)
	res := o.engine.Run(r.context(ctx), f.ID, f.ValidationSteps)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("validation interrupted: %w", err)
	}
	r.validation = &res

	o.enter(ctx, r, StepMarkOutcome)
	if err := o.markOutcome(ctx, r); err != nil {
		return err
	}

	o.enter(ctx, r, StepCommit)
	o.commit(ctx, r)
	return nil
}

// getBearings seeds the session from the latest handoff.
func (o *Orchestrator) getBearings(ctx context.Context, r *run) error {
	h, ok, err := o.store.LoadHandoff()
	if err != nil {
		return fmt.Errorf("load handoff: %w", err)
	}
	if !ok {
		return nil
	}
	if err := handoff.Seed(ctx, r.tracker, h); err != nil {
		return err
	}
	r.seeded = r.tracker.Budget().Used
	o.logger.Info(r.context(ctx), "seeded from handoff",
		zap.Int("from_session", h.SessionNumber),
		zap.Int("files", len(h.CriticalFiles)),
		zap.Int("tasks", len(h.PartialTasks)),
		zap.Int("errors", len(h.ActiveErrors)),
	)
	return nil
}

func (o *Orchestrator) startApp(ctx context.Context, r *run) app.Status {
	sctx, cancel := context.WithTimeout(ctx, o.cfg.App.StartTimeout+o.cfg.App.PollInterval)
	defer cancel()
	st := o.starter.Start(sctx)
	o.logger.Info(r.context(ctx), "app start",
		zap.Bool("started", st.Started),
		zap.Bool("healthy", st.Healthy),
		zap.String("detail", st.Detail),
	)
	return st
}

// regressionTest replays the regression checks against the most recently
// passed features and demotes the ones that fail.
func (o *Orchestrator) regressionTest(ctx context.Context, r *run) error {
	recent := o.list.RecentlyPassed(o.cfg.Loop.RegressionTestCount)
	if len(recent) == 0 {
		return nil
	}
	r.regressions = o.engine.RunRegressions(r.context(ctx), recent)
	for _, rr := range r.regressions {
		if rr.Passed {
			continue
		}
		demoted, err := o.list.Demote(rr.FeatureID, "regression: "+rr.Error, o.now())
		if err != nil {
			return err
		}
		if !demoted {
			continue
		}
		o.logger.Warn(r.context(ctx), "feature regressed",
			zap.Int("regressed_feature", rr.FeatureID),
			zap.String("check", rr.Check),
			zap.String("error", rr.Error),
		)
		data := o.sessionData(r)
		data["feature_id"] = rr.FeatureID
		data["feature_name"] = rr.Name
		data["error"] = rr.Error
		o.fire(r.context(ctx), hooks.HookFeatureRegressed, data)
	}
	return nil
}

// implement builds the plan, hands it to the implementer and records what
// comes back.
func (o *Orchestrator) implement(ctx context.Context, r *run) error {
	f := *r.feature
	for _, e := range r.tracker.Snapshot().UnresolvedErrors() {
		if e.FeatureID == f.ID {
			r.superseded = append(r.superseded, e.ID)
		}
	}

	p := o.planner.Build(f, plan.Hints{
		LearnedPatterns: o.learning.Learned(),
		AvoidPatterns:   o.learning.Avoid(),
		LastError:       f.LastError,
	}, o.now())

	if _, _, err := r.tracker.RecordDecision(ctx, session.Decision{
		Description: fmt.Sprintf("Implement #%d %s", f.ID, f.Name),
		Reasoning:   planSummary(p),
		Outcome:     session.OutcomePending,
		Reversible:  true,
		FeatureID:   f.ID,
	}); err != nil {
		return err
	}

	set, err := o.implementer.Run(r.context(ctx), p)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("implementation interrupted: %w", ctx.Err())
		}
		o.logger.Warn(r.context(ctx), "implementer failed", zap.Error(err))
		if _, rerr := r.tracker.RecordError(session.Error{
			Type:      session.ErrorRuntime,
			Message:   "implementer: " + err.Error(),
			FeatureID: f.ID,
		}); rerr != nil {
			return rerr
		}
	}
	return o.recordArtifacts(ctx, r, set)
}

func (o *Orchestrator) recordArtifacts(ctx context.Context, r *run, set plan.ArtifactSet) error {
	id := r.feature.ID
	for _, file := range set.Files {
		if file.Content != "" || file.Change == "" {
			if _, err := r.tracker.TrackFile(ctx, session.FileRead{
				Path:      file.Path,
				Content:   file.Content,
				Relevance: file.Relevance,
				Summary:   file.Summary,
			}); err != nil {
				return err
			}
		}
		if file.Change != "" {
			if _, err := r.tracker.RecordArtifact(session.Artifact{
				Path:      file.Path,
				Kind:      file.Change,
				FeatureID: id,
			}); err != nil {
				return err
			}
		}
	}
	for _, d := range set.Decisions {
		if _, _, err := r.tracker.RecordDecision(ctx, session.Decision{
			Description: d.Description,
			Reasoning:   d.Reasoning,
			Outcome:     d.Outcome,
			Reversible:  d.Reversible,
			FeatureID:   id,
		}); err != nil {
			return err
		}
	}
	for _, e := range set.Errors {
		if _, err := r.tracker.RecordError(session.Error{
			Type:      e.Type,
			Message:   e.Message,
			File:      e.File,
			FeatureID: id,
		}); err != nil {
			return err
		}
	}
	for _, note := range set.Notes {
		o.logger.Debug(r.context(ctx), "implementer note", zap.String("note", note))
	}
	return nil
}

// checkBudget compresses the context once the warning threshold is crossed
// and forces a reset once the budget is exhausted. A session that was
// exhausted by its seed alone is not reset again: it is warned about once
// and runs on to validation.
func (o *Orchestrator) checkBudget(ctx context.Context, r *run) error {
	st := r.tracker.Budget()
	if st.Warning && !st.Exhausted {
		res, err := r.tracker.Compress()
		if err != nil {
			return err
		}
		if res.TokensFreed > 0 {
			o.logger.Info(r.context(ctx), "context compressed",
				zap.Int("tokens_freed", res.TokensFreed),
				zap.Int("files_evicted", len(res.FilesEvicted)),
				zap.Int("decisions_compacted", res.DecisionsCompacted),
			)
		}
		return nil
	}
	if !st.Exhausted {
		return nil
	}
	if st.Used <= r.seeded {
		if !r.seedSpent {
			r.seedSpent = true
			o.logger.Warn(r.context(ctx), "carried-over context fills the token budget; continuing without another reset",
				zap.Int("tokens_used", st.Used),
				zap.Int("max_tokens", st.Max),
			)
		}
		return nil
	}
	return o.reset(ctx, r)
}

// reset ends the current session with a handoff and continues the protocol
// in a new session seeded from it.
func (o *Orchestrator) reset(ctx context.Context, r *run) error {
	from := r.tracker.Number()
	used := r.tracker.Budget().Used
	r.summary = fmt.Sprintf("Token budget exhausted (%d of %d tokens) during %s; continuing in session %d.",
		used, o.cfg.Budget.MaxTokens, r.step, from+1)
	o.logger.Warn(r.context(ctx), "token budget exhausted, resetting context", zap.Int("tokens_used", used))

	_, h, err := o.finalizeWith(ctx, r, store.OutcomeReset, true)
	if err != nil {
		return err
	}

	step := r.step
	r.regressions = nil
	if err := o.openSession(ctx, r); err != nil {
		return err
	}
	r.step = step
	if err := handoff.Seed(ctx, r.tracker, h); err != nil {
		return err
	}
	if r.feature != nil {
		r.tracker.SetFeature(r.feature.ID)
	}
	r.seeded = r.tracker.Budget().Used

	data := o.sessionData(r)
	data["from_session"] = from
	data["tokens_used"] = used
	o.fire(r.context(ctx), hooks.HookContextReset, data)
	return nil
}

// markOutcome applies the validation result to the feature list.
func (o *Orchestrator) markOutcome(ctx context.Context, r *run) error {
	f := r.feature
	res := r.validation
	now := o.now()
	data := o.sessionData(r)
	data["feature_name"] = f.Name

	if res.Passed {
		if err := o.list.MarkPassed(f.ID, now); err != nil {
			return err
		}
		if err := r.tracker.SettleFeatureDecisions(f.ID, session.OutcomeSuccess); err != nil {
			return err
		}
		if _, err := r.tracker.ResolveFeatureErrors(f.ID); err != nil {
			return err
		}
		r.outcome = store.OutcomePassed
		r.summary = fmt.Sprintf("Feature #%d %s passed validation (%d step(s) in %s).",
			f.ID, f.Name, len(res.Steps), res.Duration.Round(time.Millisecond))
		o.logger.Info(r.context(ctx), "feature passed", zap.Duration("duration", res.Duration))
		o.fire(r.context(ctx), hooks.HookFeaturePassed, data)
		return nil
	}

	reason := "validation failed"
	if err := res.Err(); err != nil {
		reason = err.Error()
	}
	if err := o.list.MarkFailed(f.ID, reason, now); err != nil {
		return err
	}
	if err := r.tracker.SettleFeatureDecisions(f.ID, session.OutcomeFailure); err != nil {
		return err
	}
	for _, id := range r.superseded {
		if err := r.tracker.ResolveError(id); err != nil && !errors.Is(err, session.ErrErrorMissing) {
			return err
		}
	}
	if _, err := r.tracker.RecordError(session.Error{
		Type:      session.ErrorValidation,
		Message:   reason,
		FeatureID: f.ID,
	}); err != nil {
		return err
	}

	updated, _ := o.list.Get(f.ID)
	r.outcome = store.OutcomeFailed
	r.summary = fmt.Sprintf("Feature #%d %s failed validation: %s (attempt %d of %d).",
		f.ID, f.Name, oneLine(reason), updated.Attempts, o.cfg.Loop.MaxRetries)
	if updated.Attempts >= o.cfg.Loop.MaxRetries {
		r.summary += " No attempts left."
	}
	data["error"] = reason
	data["attempts"] = updated.Attempts
	o.logger.Warn(r.context(ctx), "feature failed",
		zap.String("reason", reason),
		zap.Int("attempts", updated.Attempts),
	)
	o.fire(r.context(ctx), hooks.HookFeatureFailed, data)
	return nil
}

// commit records a passing feature in version control. Failures are
// recorded as session errors tied to the feature and never fail the
// session. A later successful commit stages the whole tree, so it resolves
// every earlier commit error.
func (o *Orchestrator) commit(ctx context.Context, r *run) {
	if !o.cfg.Loop.AutoCommit || r.outcome != store.OutcomePassed {
		return
	}
	f, _ := o.list.Get(r.feature.ID)
	ref, err := o.committer.Commit(r.context(ctx), *f)
	if err != nil {
		o.logger.Warn(r.context(ctx), "commit failed", zap.Error(err))
		_, _ = r.tracker.RecordError(session.Error{
			Type:      session.ErrorCommit,
			Message:   "commit: " + err.Error(),
			FeatureID: f.ID,
		})
		return
	}
	snap := r.tracker.Snapshot()
	for _, e := range snap.UnresolvedErrors() {
		if e.Type == session.ErrorCommit {
			_ = r.tracker.ResolveError(e.ID)
		}
	}
	if ref.SHA == "" {
		return
	}
	if err := o.list.SetCommit(f.ID, ref); err != nil {
		o.logger.Warn(r.context(ctx), "recording commit failed", zap.Error(err))
		return
	}
	r.commit = &ref
	o.logger.Info(r.context(ctx), "feature committed", zap.String("sha", ref.SHA))
}

// fail finalizes a faulted session on a best-effort basis. It reports false
// when the session had already been finalized.
func (o *Orchestrator) fail(ctx context.Context, r *run, fault *HarnessFault) (store.Progress, bool) {
	o.addKnownIssue(fault.Error())
	if r.span != nil {
		r.span.RecordError(fault)
		r.span.SetStatus(codes.Error, fault.Error())
	}
	r.summary = fmt.Sprintf("Session faulted during %s: %s", fault.Step, oneLine(fault.Err.Error()))
	if r.closed {
		return store.Progress{}, false
	}
	p, _, err := o.finalizeWith(ctx, r, store.OutcomeFault, false)
	if err != nil {
		o.logger.Error(r.context(ctx), "persisting faulted session failed", zap.Error(err))
	}
	return p, true
}

func (o *Orchestrator) finalize(ctx context.Context, r *run, outcome store.Outcome, reset bool) (store.Progress, error) {
	p, _, err := o.finalizeWith(ctx, r, outcome, reset)
	return p, err
}

// finalizeWith runs UpdateProgress and Persist. The autosave timer is
// stopped before the session is frozen.
func (o *Orchestrator) finalizeWith(ctx context.Context, r *run, outcome store.Outcome, reset bool) (store.Progress, handoff.Handoff, error) {
	r.autosave.stop()

	o.enter(ctx, r, StepUpdateProgress)
	sc := r.tracker.Freeze()
	r.closed = true
	h, err := handoff.Generate(sc, o.environment(r, reset))
	if err != nil {
		return store.Progress{}, handoff.Handoff{}, err
	}
	p := o.progress(r, sc, outcome)

	o.enter(ctx, r, StepPersist)
	perr := o.persist(p, h, sc)

	o.learning.Absorb(h)
	o.lastSession = sc.Number
	o.lastOutcome = outcome
	o.refreshStatus(r)

	data := o.sessionData(r)
	data["outcome"] = string(outcome)
	data["duration_seconds"] = p.EndedAt.Sub(p.StartedAt).Seconds()
	data["tokens_used"] = sc.TokensUsed
	data["completed_features"] = p.CompletedFeatures
	data["total_features"] = p.TotalFeatures
	o.fire(r.context(ctx), hooks.HookSessionEnd, data)
	o.logger.Info(r.context(ctx), "session finished",
		zap.String("outcome", string(outcome)),
		zap.Int("tokens_used", sc.TokensUsed),
		zap.String("summary", p.Summary),
	)

	if r.span != nil {
		r.span.SetAttributes(attribute.String("session.outcome", string(outcome)))
		r.span.End()
	}
	if r.notify != nil {
		r.notify(p)
	}
	if perr != nil {
		return p, h, fmt.Errorf("persist session %d: %w", sc.Number, perr)
	}
	return p, h, nil
}

// persist writes the progress record first so that every terminal path
// leaves one behind, then everything else.
func (o *Orchestrator) persist(p store.Progress, h handoff.Handoff, sc session.Context) error {
	var errs []error
	if err := o.store.SaveProgress(p); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.SaveFeatureList(o.list); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.SaveHandoff(h); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.AppendSession(store.SessionRecord{
		Session:         sc,
		Outcome:         p.Outcome,
		Summary:         p.Summary,
		NextSteps:       h.NextSteps,
		Warnings:        h.Warnings,
		LearnedPatterns: h.LearnedPatterns,
		AvoidPatterns:   h.AvoidPatterns,
		ArchivedAt:      o.now(),
	}); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.WriteReport(report.Render(report.Input{
		List:       o.list,
		Progress:   &p,
		Handoff:    &h,
		MaxRetries: o.cfg.Loop.MaxRetries,
		Now:        o.now(),
	})); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) environment(r *run, reset bool) handoff.Environment {
	env := handoff.Environment{
		App:               handoff.AppStatus(r.app),
		Branch:            vcs.Branch(o.store.ProjectDir()),
		CompletedFeatures: o.list.CompletedFeatures,
		TotalFeatures:     o.list.TotalFeatures,
		Reset:             reset,
	}
	if r.feature != nil {
		env.CurrentFeatureID = r.feature.ID
		env.CurrentFeature = r.feature.Name
	}
	for _, rr := range r.regressions {
		if !rr.Passed {
			env.Regressions = append(env.Regressions, handoff.Regression{
				FeatureID: rr.FeatureID,
				Name:      rr.Name,
				Error:     rr.Error,
			})
		}
	}
	return env
}

// progress computes the UpdateProgress texts. The next-feature preview
// does not change the list.
func (o *Orchestrator) progress(r *run, sc session.Context, outcome store.Outcome) store.Progress {
	p := store.Progress{
		SessionID:         sc.ID,
		SessionNumber:     sc.Number,
		StartedAt:         sc.StartedAt,
		EndedAt:           o.now(),
		Outcome:           outcome,
		Validation:        r.validation,
		Regressions:       r.regressions,
		App:               r.app,
		Commit:            r.commit,
		Summary:           r.summary,
		CompletedFeatures: o.list.CompletedFeatures,
		TotalFeatures:     o.list.TotalFeatures,
		TokensUsed:        sc.TokensUsed,
		MaxTokens:         sc.MaxTokens,
		KnownIssues:       append([]string(nil), o.knownIssues...),
	}
	if sc.EndedAt != nil {
		p.EndedAt = *sc.EndedAt
	}
	if outcome == store.OutcomeReset {
		// the validation belongs to the session that continues the work
		p.Validation = nil
		p.Commit = nil
	}
	if r.feature != nil {
		p.Feature = &store.FeatureRef{ID: r.feature.ID, Name: r.feature.Name}
	}
	if n := failedRegressions(r.regressions); n > 0 {
		p.Summary = strings.TrimSpace(p.Summary + fmt.Sprintf(" %d regression(s) detected.", n))
	}

	next, ok := o.scheduler.PickNext(o.list)
	if ok {
		p.NextFeature = &store.FeatureRef{ID: next.ID, Name: next.Name}
	}
	p.CurrentState = o.currentState(outcome, r, next, ok)
	return p
}

func (o *Orchestrator) currentState(outcome store.Outcome, r *run, next features.Feature, hasNext bool) string {
	state := fmt.Sprintf("%d of %d features passing (%.1f%%).",
		o.list.CompletedFeatures, o.list.TotalFeatures, o.list.Percent())
	switch {
	case outcome == store.OutcomeReset && r.feature != nil:
		return state + fmt.Sprintf(" Context reset while working on #%d %s.", r.feature.ID, r.feature.Name)
	case hasNext:
		return state + fmt.Sprintf(" Next: #%d %s.", next.ID, next.Name)
	case o.list.AllPassed():
		return state + " All features pass."
	default:
		return state + " No feature can be scheduled."
	}
}

func (o *Orchestrator) completeSummary() string {
	if o.list.AllPassed() {
		return fmt.Sprintf("All %d features pass.", o.list.TotalFeatures)
	}
	counts := map[features.SkipReasonCode]int{}
	for _, s := range o.scheduler.Explain(o.list) {
		counts[s.Reason]++
	}
	return fmt.Sprintf("No eligible features: %d exhausted, %d blocked.",
		counts[features.SkipReasonExhausted], counts[features.SkipReasonBlocked])
}

func (o *Orchestrator) budgetEvent(ctx context.Context, t *session.Tracker, ev budget.Event) {
	o.metrics.SetTokens(ev.Used)
	if t == nil || ev.Kind != budget.EventWarning {
		return
	}
	ctx = logging.WithSession(ctx, t.ID(), t.Number())
	o.logger.Warn(ctx, "token budget warning",
		zap.Int("tokens_used", ev.Used),
		zap.Int("max_tokens", ev.Max),
		zap.Float64("ratio", ev.Ratio),
	)
	o.fire(ctx, hooks.HookBudgetWarning, hooks.Data{
		"session_id":     t.ID(),
		"session_number": t.Number(),
		"tokens_used":    ev.Used,
		"max_tokens":     ev.Max,
		"ratio":          ev.Ratio,
	})
}

func (o *Orchestrator) sessionData(r *run) hooks.Data {
	d := hooks.Data{
		"session_id":     r.tracker.ID(),
		"session_number": r.tracker.Number(),
	}
	if r.feature != nil {
		d["feature_id"] = r.feature.ID
	}
	return d
}

func planSummary(p plan.Plan) string {
	names := make([]string, len(p.Phases))
	for i, ph := range p.Phases {
		names[i] = ph.Name
	}
	return "plan: " + strings.Join(names, ", ")
}

func failedRegressions(rs []validation.RegressionResult) int {
	n := 0
	for _, r := range rs {
		if !r.Passed {
			n++
		}
	}
	return n
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
