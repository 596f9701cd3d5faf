package handoff

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	h := Handoff{
		SessionNumber: 2,
		CriticalFiles: []FileRef{
			{Path: "main.go", Summary: "package main", Relevance: session.RelevanceCritical},
			{Path: "api.go", Relevance: session.RelevanceHigh},
		},
		PartialTasks: []string{"Write handler"},
		ActiveErrors: []session.Error{{ID: "old", Type: session.ErrorTest, Message: "boom", FeatureID: 5}},
		Environment:  Environment{CurrentFeatureID: 5},
	}

	tr := session.NewTracker(3, mustGovernor(t, 10_000))
	require.NoError(t, Seed(context.Background(), tr, h))

	sc := tr.Snapshot()
	require.Len(t, sc.Files, 2)
	assert.Equal(t, "main.go", sc.Files[0].Path)
	assert.Equal(t, session.RelevanceCritical, sc.Files[0].Relevance)
	assert.Equal(t, "package main", sc.Files[0].Summary)

	require.Len(t, sc.Decisions, 1)
	assert.Equal(t, "Write handler", sc.Decisions[0].Description)
	assert.Equal(t, session.OutcomePending, sc.Decisions[0].Outcome)
	assert.Equal(t, 5, sc.Decisions[0].FeatureID)

	require.Len(t, sc.UnresolvedErrors(), 1)
	assert.NotEqual(t, "old", sc.Errors[0].ID)
	assert.Equal(t, "boom", sc.Errors[0].Message)
	assert.True(t, sc.Errors[0].Carried)

	assert.Positive(t, sc.TokensUsed)
}

func TestSeed_FrozenTarget(t *testing.T) {
	tr := session.NewTracker(1, mustGovernor(t, 100))
	tr.Freeze()

	err := Seed(context.Background(), tr, Handoff{CriticalFiles: []FileRef{{Path: "a.go"}}})
	assert.ErrorIs(t, err, session.ErrFrozen)
}

// A session that overflows its budget is handed off and the next session
// starts from the handoff's critical files and partial tasks.
func TestForcedResetCarriesState(t *testing.T) {
	var exhausted bool
	gov, err := budget.NewGovernor(200, 0.8, budget.WithListener(func(e budget.Event) {
		if e.Kind == budget.EventExhausted {
			exhausted = true
		}
	}))
	require.NoError(t, err)

	clock := t0
	tr := session.NewTracker(1, gov, session.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	_, err = tr.TrackFile(ctx, session.FileRead{Path: "server.go", Content: "package server", Relevance: session.RelevanceCritical})
	require.NoError(t, err)
	_, _, err = tr.RecordDecision(ctx, session.Decision{Description: "Implement todo API"})
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	st, err := tr.TrackFile(ctx, session.FileRead{Path: "big.json", Content: strings.Repeat("{}", 400), Relevance: session.RelevanceLow})
	require.NoError(t, err)

	require.True(t, st.Exhausted)
	require.True(t, exhausted)

	h, err := Generate(tr.Freeze(), Environment{Reset: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Implement todo API"}, h.PartialTasks)
	require.Len(t, h.CriticalFiles, 1)
	assert.Contains(t, h.Recommendations, fmt.Sprintf("reset the context soon: %.0f%% of the token budget used", st.Ratio*100))

	next := session.NewTracker(2, mustGovernor(t, 200))
	require.NoError(t, Seed(ctx, next, h))
	sc := next.Snapshot()

	require.Len(t, sc.Files, 1)
	assert.Equal(t, "server.go", sc.Files[0].Path)
	require.Len(t, sc.Decisions, 1)
	assert.Equal(t, "Implement todo API", sc.Decisions[0].Description)
	assert.Equal(t, session.OutcomePending, sc.Decisions[0].Outcome)
	assert.False(t, next.Budget().Exhausted)
}
