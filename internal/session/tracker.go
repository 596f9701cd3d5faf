package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/google/uuid"
)

// CompactedReasoning replaces the reasoning of decisions removed by Compress.
const CompactedReasoning = "[reasoning compacted]"

// DefaultDecisionMaxAge is the age after which Compress compacts reasoning.
const DefaultDecisionMaxAge = 30 * time.Minute

const maxSummaryLen = 120

// Tracker owns the Context of the active session and charges every tracked
// read and decision against the session governor.
//
// Tracker is safe for concurrent use; the orchestrator is its only writer but
// the auto-save timer takes snapshots from another goroutine.
type Tracker struct {
	mu             sync.RWMutex
	sc             Context
	governor       *budget.Governor
	estimator      *budget.Estimator
	now            func() time.Time
	decisionMaxAge time.Duration
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithDecisionMaxAge sets the age after which Compress compacts decisions.
func WithDecisionMaxAge(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.decisionMaxAge = d
		}
	}
}

// WithEstimator overrides the default token estimator.
func WithEstimator(e *budget.Estimator) Option {
	return func(t *Tracker) {
		t.estimator = e
	}
}

// NewTracker starts tracking session number n.
func NewTracker(n int, governor *budget.Governor, opts ...Option) *Tracker {
	t := &Tracker{
		governor:       governor,
		estimator:      budget.NewEstimator(nil),
		now:            time.Now,
		decisionMaxAge: DefaultDecisionMaxAge,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.sc = Context{
		ID:        uuid.NewString(),
		Number:    n,
		StartedAt: t.now(),
		MaxTokens: governor.Max(),
	}
	return t
}

// ID returns the session id.
func (t *Tracker) ID() string {
	return t.sc.ID
}

// Number returns the session number.
func (t *Tracker) Number() int {
	return t.sc.Number
}

// Budget returns the current budget status.
func (t *Tracker) Budget() budget.Status {
	return t.governor.Status()
}

// Snapshot returns a deep copy of the session context.
func (t *Tracker) Snapshot() Context {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sc.Clone()
}

// SetFeature records the feature the session is working on.
func (t *Tracker) SetFeature(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sc.FeatureID = id
}

// FileRead describes content entering the session context.
type FileRead struct {
	Path      string
	Content   string
	Relevance Relevance
	// Summary is a one-line description; derived from Content when empty.
	Summary string
}

// TrackFile charges a file read. Reading the same path again adds to its
// cost and keeps the more relevant of the two tiers.
func (t *Tracker) TrackFile(ctx context.Context, r FileRead) (budget.Status, error) {
	if strings.TrimSpace(r.Path) == "" {
		return t.Budget(), ErrEmptyPath
	}
	if r.Relevance == "" {
		r.Relevance = RelevanceMedium
	}
	summary := r.Summary
	if summary == "" {
		summary = summarize(r.Content)
	}
	cost, class := t.estimator.Cost(r.Path, r.Content)

	err := t.mutate(func(sc *Context) error {
		now := t.now()
		for i := range sc.Files {
			f := &sc.Files[i]
			if f.Path != r.Path {
				continue
			}
			f.Tokens += cost
			f.Reads++
			f.LastRead = now
			f.Class = class
			if summary != "" {
				f.Summary = summary
			}
			if r.Relevance.Rank() < f.Relevance.Rank() {
				f.Relevance = r.Relevance
			}
			return nil
		}
		sc.Files = append(sc.Files, TrackedFile{
			Path:      r.Path,
			Relevance: r.Relevance,
			Tokens:    cost,
			Class:     class,
			Summary:   summary,
			Reads:     1,
			LastRead:  now,
		})
		return nil
	})
	if err != nil {
		return t.Budget(), err
	}
	return t.charge(ctx, cost, class)
}

// RecordDecision charges and stores a decision. Missing ids and outcomes
// are filled in; the stored decision is returned.
func (t *Tracker) RecordDecision(ctx context.Context, d Decision) (Decision, budget.Status, error) {
	if strings.TrimSpace(d.Description) == "" {
		return Decision{}, t.Budget(), ErrEmptyDecision
	}
	if d.Outcome == "" {
		d.Outcome = OutcomePending
	}
	if !d.Outcome.Valid() {
		return Decision{}, t.Budget(), fmt.Errorf("%w: %q", ErrInvalidOutcome, d.Outcome)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = t.now()
	}
	cost, class := t.estimator.Cost("", decisionText(d.Description, d.Reasoning))
	d.Tokens = cost

	err := t.mutate(func(sc *Context) error {
		sc.Decisions = append(sc.Decisions, d)
		return nil
	})
	if err != nil {
		return Decision{}, t.Budget(), err
	}
	st, err := t.charge(ctx, cost, class)
	return d, st, err
}

// SetOutcome updates the outcome of a recorded decision.
func (t *Tracker) SetOutcome(id string, o Outcome) error {
	if !o.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, o)
	}
	return t.mutate(func(sc *Context) error {
		for i := range sc.Decisions {
			if sc.Decisions[i].ID == id {
				sc.Decisions[i].Outcome = o
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrDecisionMissing, id)
	})
}

// SettleFeatureDecisions sets every pending decision tied to featureID to o.
func (t *Tracker) SettleFeatureDecisions(featureID int, o Outcome) error {
	if !o.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, o)
	}
	return t.mutate(func(sc *Context) error {
		for i := range sc.Decisions {
			d := &sc.Decisions[i]
			if d.FeatureID == featureID && d.Outcome == OutcomePending {
				d.Outcome = o
			}
		}
		return nil
	})
}

// RecordArtifact stores an artifact. Artifacts are not charged.
func (t *Tracker) RecordArtifact(a Artifact) (Artifact, error) {
	if strings.TrimSpace(a.Path) == "" {
		return Artifact{}, ErrEmptyPath
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Kind == "" {
		a.Kind = ArtifactModified
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now()
	}
	err := t.mutate(func(sc *Context) error {
		sc.Artifacts = append(sc.Artifacts, a)
		return nil
	})
	return a, err
}

// RecordError stores a session error.
func (t *Tracker) RecordError(e Error) (Error, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = ErrorOther
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = t.now()
	}
	err := t.mutate(func(sc *Context) error {
		sc.Errors = append(sc.Errors, e)
		return nil
	})
	return e, err
}

// ResolveError marks an error resolved.
func (t *Tracker) ResolveError(id string) error {
	return t.mutate(func(sc *Context) error {
		for i := range sc.Errors {
			if sc.Errors[i].ID == id {
				t.resolve(&sc.Errors[i])
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrErrorMissing, id)
	})
}

// ResolveFeatureErrors resolves every open error tied to featureID and
// returns how many were resolved.
func (t *Tracker) ResolveFeatureErrors(featureID int) (int, error) {
	n := 0
	err := t.mutate(func(sc *Context) error {
		for i := range sc.Errors {
			e := &sc.Errors[i]
			if e.FeatureID == featureID && !e.Resolved {
				t.resolve(e)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (t *Tracker) resolve(e *Error) {
	if e.Resolved {
		return
	}
	now := t.now()
	e.Resolved = true
	e.ResolvedAt = &now
}

// CompressResult reports what Compress freed.
type CompressResult struct {
	FilesEvicted       []string `json:"filesEvicted"`
	DecisionsCompacted int      `json:"decisionsCompacted"`
	TokensFreed        int      `json:"tokensFreed"`
}

// Compress frees context in two deliberately different ways. Files at the
// low relevance tier are evicted outright, releasing their whole cost.
// Decisions older than the max age keep their record but have their
// reasoning replaced with CompactedReasoning, releasing the difference.
// Usage drops by exactly TokensFreed.
func (t *Tracker) Compress() (CompressResult, error) {
	var res CompressResult
	err := t.mutate(func(sc *Context) error {
		kept := sc.Files[:0]
		for _, f := range sc.Files {
			if f.Relevance == RelevanceLow {
				res.FilesEvicted = append(res.FilesEvicted, f.Path)
				res.TokensFreed += f.Tokens
				continue
			}
			kept = append(kept, f)
		}
		sc.Files = kept

		cutoff := t.now().Add(-t.decisionMaxAge)
		for i := range sc.Decisions {
			d := &sc.Decisions[i]
			if d.Compacted || !d.CreatedAt.Before(cutoff) || d.Reasoning == "" {
				continue
			}
			cost, _ := t.estimator.Cost("", decisionText(d.Description, CompactedReasoning))
			if cost >= d.Tokens {
				continue
			}
			res.TokensFreed += d.Tokens - cost
			d.Tokens = cost
			d.Reasoning = CompactedReasoning
			d.Compacted = true
			res.DecisionsCompacted++
		}

		if err := t.governor.Release(res.TokensFreed); err != nil {
			return err
		}
		sc.TokensUsed = t.governor.Used()
		return nil
	})
	return res, err
}

// Freeze ends the session and returns the final snapshot. Later mutations
// fail with ErrFrozen.
func (t *Tracker) Freeze() Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.sc.Frozen {
		now := t.now()
		t.sc.Frozen = true
		t.sc.EndedAt = &now
		t.sc.TokensUsed = t.governor.Used()
	}
	return t.sc.Clone()
}

func (t *Tracker) mutate(fn func(sc *Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sc.Frozen {
		return ErrFrozen
	}
	return fn(&t.sc)
}

// charge runs outside the tracker lock so budget listeners may call back in.
func (t *Tracker) charge(ctx context.Context, cost int, class budget.ContentClass) (budget.Status, error) {
	st, err := t.governor.Charge(ctx, cost, class)
	if err != nil {
		return st, err
	}
	t.mu.Lock()
	t.sc.TokensUsed = st.Used
	t.mu.Unlock()
	return st, nil
}

func decisionText(description, reasoning string) string {
	if reasoning == "" {
		return description
	}
	return description + "\n" + reasoning
}

// summarize returns the first non-empty line of content, truncated.
func summarize(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxSummaryLen {
			return string(r[:maxSummaryLen-3]) + "..."
		}
		return line
	}
	return ""
}
