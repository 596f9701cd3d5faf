package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(t *testing.T, maxTokens int, opts ...budget.GovernorOption) (*Tracker, *fakeClock) {
	t.Helper()
	gov, err := budget.NewGovernor(maxTokens, 0.8, opts...)
	require.NoError(t, err)
	clock := newFakeClock()
	return NewTracker(1, gov, WithClock(clock.Now)), clock
}

func TestTrackFile_ChargesEstimate(t *testing.T) {
	tr, _ := newTestTracker(t, 10_000)
	ctx := context.Background()

	content := strings.Repeat("x", 400)
	st, err := tr.TrackFile(ctx, FileRead{Path: "main.go", Content: content, Relevance: RelevanceHigh})
	require.NoError(t, err)
	assert.Equal(t, 130, st.Used)

	snap := tr.Snapshot()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "main.go", snap.Files[0].Path)
	assert.Equal(t, budget.ClassCode, snap.Files[0].Class)
	assert.Equal(t, 130, snap.Files[0].Tokens)
	assert.Equal(t, 130, snap.TokensUsed)
	assert.Equal(t, 10_000, snap.MaxTokens)
}

func TestTrackFile_RereadAccumulates(t *testing.T) {
	tr, clock := newTestTracker(t, 10_000)
	ctx := context.Background()

	_, err := tr.TrackFile(ctx, FileRead{Path: "notes.md", Content: "# Notes\nfirst", Relevance: RelevanceLow})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = tr.TrackFile(ctx, FileRead{Path: "notes.md", Content: "# Notes\nsecond", Relevance: RelevanceCritical})
	require.NoError(t, err)

	snap := tr.Snapshot()
	require.Len(t, snap.Files, 1)
	f := snap.Files[0]
	assert.Equal(t, 2, f.Reads)
	assert.Equal(t, RelevanceCritical, f.Relevance)
	assert.Equal(t, clock.Now(), f.LastRead)
	assert.Equal(t, "# Notes", f.Summary)
	assert.Equal(t, snap.TokensUsed, f.Tokens)
}

func TestTrackFile_EmptyPath(t *testing.T) {
	tr, _ := newTestTracker(t, 100)
	_, err := tr.TrackFile(context.Background(), FileRead{Content: "x"})
	assert.ErrorIs(t, err, ErrEmptyPath)
	assert.Zero(t, tr.Budget().Used)
}

func TestRecordDecision(t *testing.T) {
	tr, _ := newTestTracker(t, 10_000)

	d, st, err := tr.RecordDecision(context.Background(), Decision{
		Description: "Use Postgres",
		Reasoning:   "The team already runs it in production.",
		Reversible:  true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, OutcomePending, d.Outcome)
	assert.Positive(t, d.Tokens)
	assert.Equal(t, d.Tokens, st.Used)

	_, _, err = tr.RecordDecision(context.Background(), Decision{Description: " "})
	assert.ErrorIs(t, err, ErrEmptyDecision)

	_, _, err = tr.RecordDecision(context.Background(), Decision{Description: "x", Outcome: "maybe"})
	assert.ErrorIs(t, err, ErrInvalidOutcome)

	require.NoError(t, tr.SetOutcome(d.ID, OutcomeSuccess))
	assert.Equal(t, OutcomeSuccess, tr.Snapshot().Decisions[0].Outcome)
	assert.ErrorIs(t, tr.SetOutcome("nope", OutcomeSuccess), ErrDecisionMissing)
}

func TestSettleFeatureDecisions(t *testing.T) {
	tr, _ := newTestTracker(t, 10_000)
	ctx := context.Background()

	_, _, _ = tr.RecordDecision(ctx, Decision{Description: "a", FeatureID: 3})
	_, _, _ = tr.RecordDecision(ctx, Decision{Description: "b", FeatureID: 3, Outcome: OutcomeFailure})
	_, _, _ = tr.RecordDecision(ctx, Decision{Description: "c", FeatureID: 4})

	require.NoError(t, tr.SettleFeatureDecisions(3, OutcomeSuccess))

	ds := tr.Snapshot().Decisions
	assert.Equal(t, OutcomeSuccess, ds[0].Outcome)
	assert.Equal(t, OutcomeFailure, ds[1].Outcome)
	assert.Equal(t, OutcomePending, ds[2].Outcome)
}

func TestErrors_RecordAndResolve(t *testing.T) {
	tr, _ := newTestTracker(t, 100)

	e1, err := tr.RecordError(Error{Type: ErrorTest, Message: "expected 2 got 3", FeatureID: 5})
	require.NoError(t, err)
	_, err = tr.RecordError(Error{Message: "panic", FeatureID: 5})
	require.NoError(t, err)
	e3, err := tr.RecordError(Error{Type: ErrorBuild, Message: "undefined: x", FeatureID: 6})
	require.NoError(t, err)

	snap := tr.Snapshot()
	assert.Equal(t, ErrorOther, snap.Errors[1].Type)
	assert.Len(t, snap.UnresolvedErrors(), 3)
	// Callable on the returned value without binding it.
	assert.Len(t, tr.Snapshot().UnresolvedErrors(), 3)
	assert.GreaterOrEqual(t, tr.Snapshot().TokenRatio(), 0.0)

	n, err := tr.ResolveFeatureErrors(5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, tr.ResolveError(e3.ID))
	assert.ErrorIs(t, tr.ResolveError("missing"), ErrErrorMissing)

	snap = tr.Snapshot()
	assert.Empty(t, snap.UnresolvedErrors())
	for _, e := range snap.Errors {
		assert.NotNil(t, e.ResolvedAt, e.ID)
	}
	assert.Equal(t, e1.ID, snap.Errors[0].ID)
}

func TestCompress_EvictsLowAndCompactsOldReasoning(t *testing.T) {
	tr, clock := newTestTracker(t, 100_000)
	ctx := context.Background()

	_, err := tr.TrackFile(ctx, FileRead{Path: "vendor/big.js", Content: strings.Repeat("a", 4000), Relevance: RelevanceLow})
	require.NoError(t, err)
	_, err = tr.TrackFile(ctx, FileRead{Path: "main.go", Content: strings.Repeat("b", 400), Relevance: RelevanceCritical})
	require.NoError(t, err)

	old, _, err := tr.RecordDecision(ctx, Decision{
		Description: "Pick router",
		Reasoning:   strings.Repeat("because it is fast and well tested. ", 40),
	})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	fresh, _, err := tr.RecordDecision(ctx, Decision{
		Description: "Pick ORM",
		Reasoning:   strings.Repeat("because migrations are simple. ", 40),
	})
	require.NoError(t, err)

	before := tr.Budget().Used
	res, err := tr.Compress()
	require.NoError(t, err)

	assert.Equal(t, []string{"vendor/big.js"}, res.FilesEvicted)
	assert.Equal(t, 1, res.DecisionsCompacted)
	assert.Equal(t, before-res.TokensFreed, tr.Budget().Used)

	snap := tr.Snapshot()
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "main.go", snap.Files[0].Path)
	require.Len(t, snap.Decisions, 2)
	assert.Equal(t, old.ID, snap.Decisions[0].ID)
	assert.Equal(t, CompactedReasoning, snap.Decisions[0].Reasoning)
	assert.Equal(t, "Pick router", snap.Decisions[0].Description)
	assert.Equal(t, fresh.Reasoning, snap.Decisions[1].Reasoning)
	assert.Equal(t, tr.Budget().Used, snap.TokensUsed)

	// Sum of per-item costs matches the governor after compression.
	total := 0
	for _, f := range snap.Files {
		total += f.Tokens
	}
	for _, d := range snap.Decisions {
		total += d.Tokens
	}
	assert.Equal(t, total, snap.TokensUsed)

	// A second pass has nothing left to free.
	res, err = tr.Compress()
	require.NoError(t, err)
	assert.Zero(t, res.TokensFreed)
}

func TestFreeze(t *testing.T) {
	tr, clock := newTestTracker(t, 100)
	clock.Advance(time.Hour)

	snap := tr.Freeze()
	assert.True(t, snap.Frozen)
	require.NotNil(t, snap.EndedAt)
	assert.Equal(t, clock.Now(), *snap.EndedAt)

	_, err := tr.TrackFile(context.Background(), FileRead{Path: "a.go", Content: "x"})
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = tr.RecordError(Error{Message: "late"})
	assert.ErrorIs(t, err, ErrFrozen)
	_, err = tr.Compress()
	assert.ErrorIs(t, err, ErrFrozen)

	// Freezing twice keeps the first end time.
	clock.Advance(time.Hour)
	assert.Equal(t, *snap.EndedAt, *tr.Freeze().EndedAt)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	tr, _ := newTestTracker(t, 1000)
	_, _ = tr.RecordError(Error{Message: "x"})

	snap := tr.Snapshot()
	snap.Errors[0].Message = "mutated"

	assert.Equal(t, "x", tr.Snapshot().Errors[0].Message)
}

func TestTracker_ConcurrentSnapshots(t *testing.T) {
	tr, _ := newTestTracker(t, 1_000_000)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = tr.Snapshot()
		}
	}()
	for i := 0; i < 200; i++ {
		_, err := tr.TrackFile(ctx, FileRead{Path: "f.go", Content: "package main"})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.Equal(t, 200, tr.Snapshot().Files[0].Reads)
}

func TestTracker_BudgetListenerCanReadTracker(t *testing.T) {
	var tr *Tracker
	var seen []budget.EventKind
	gov, err := budget.NewGovernor(10, 0.8, budget.WithListener(func(e budget.Event) {
		_ = tr.Snapshot()
		seen = append(seen, e.Kind)
	}))
	require.NoError(t, err)
	tr = NewTracker(2, gov)

	_, err = tr.TrackFile(context.Background(), FileRead{Path: "a.txt", Content: strings.Repeat("word ", 20)})
	require.NoError(t, err)
	assert.Equal(t, []budget.EventKind{budget.EventWarning, budget.EventExhausted}, seen)
	assert.True(t, tr.Budget().Exhausted)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", summarize("\n\n"))
	assert.Equal(t, "package main", summarize("\n  package main\nfunc main() {}"))
	long := strings.Repeat("y", 300)
	got := summarize(long)
	assert.Len(t, []rune(got), maxSummaryLen)
	assert.True(t, strings.HasSuffix(got, "..."))
}
