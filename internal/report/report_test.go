package report

import (
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/app"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/fyrsmithlabs/harness/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleList(t *testing.T) *features.FeatureList {
	t.Helper()
	s := spec.AppSpec{Name: "Todo", CoreFeatures: []string{"Todo List"}}
	l := features.NewList(s, features.NewGenerator().Generate(&s), now)
	require.NoError(t, l.MarkPassed(1, now))
	require.NoError(t, l.SetCommit(1, features.CommitRef{SHA: "abcdef1234567890"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, l.MarkFailed(2, "init.sh\nmissing", now))
	}
	return l
}

func sectionIndex(t *testing.T, text, title string) int {
	t.Helper()
	i := strings.Index(text, "\n## "+title+"\n")
	return i
}

func TestRender_SectionOrder(t *testing.T) {
	l := sampleList(t)
	p := &store.Progress{
		SessionNumber: 3,
		Outcome:       store.OutcomeFailed,
		CurrentState:  "Working on #4 Backend health endpoint",
		Summary:       "Validation failed at step 1",
		App:           app.Status{Started: true, Detail: "not healthy after 1m0s"},
		Regressions:   []validation.RegressionResult{{FeatureID: 1, Name: "Initialize project", Error: "no file matches go.mod"}},
		NextFeature:   &store.FeatureRef{ID: 4, Name: "Backend health endpoint"},
		TokensUsed:    500,
		MaxTokens:     1000,
	}
	h := &handoff.Handoff{
		NextSteps:       []string{"fix 1 unresolved error(s)"},
		Warnings:        []string{"unresolved build error: undefined: x"},
		Recommendations: []string{"work in smaller increments: 1 error(s) against 2 decision(s)"},
		LearnedPatterns: []string{"Add router"},
		AvoidPatterns:   []string{"recurring `build` errors"},
		Environment:     handoff.Environment{Branch: "main"},
	}

	text := Render(Input{List: l, Progress: p, Handoff: h, MaxRetries: 3, Now: now})

	order := []string{
		SectionCompleted, SectionPending, SectionCurrent, SectionEnvironment, SectionRegressions,
		SectionNextSteps, SectionWarnings, SectionRecommend, SectionPatterns, SectionOverall,
	}
	last := -1
	for _, title := range order {
		i := sectionIndex(t, text, title)
		require.GreaterOrEqual(t, i, 0, "missing section %q", title)
		assert.Greater(t, i, last, "section %q out of order", title)
		last = i
	}

	assert.Contains(t, text, "- [x] #1 Initialize project (abcdef1)")
	assert.Contains(t, text, "- [ ] #2 Create init script [high] attempts 3/3 (exhausted): init.sh missing")
	assert.Contains(t, text, "- App healthy: no (not healthy after 1m0s)")
	assert.Contains(t, text, "- Branch: main")
	assert.Contains(t, text, "1. Work on #4 Backend health endpoint\n2. fix 1 unresolved error(s)")
	assert.Contains(t, text, "Avoid:\n- recurring `build` errors")
	assert.True(t, strings.HasSuffix(text, "1/7 features passing (14.3%)\n[####--------------------------]\n"), text)
}

func TestRender_OptionalSectionsOmitted(t *testing.T) {
	l := sampleList(t)
	text := Render(Input{
		List:     l,
		Progress: &store.Progress{SessionNumber: 1, Outcome: store.OutcomePassed},
		Handoff:  &handoff.Handoff{},
		Now:      now,
	})

	for _, title := range []string{SectionRegressions, SectionWarnings, SectionRecommend, SectionPatterns} {
		assert.Less(t, sectionIndex(t, text, title), 0, title)
	}
	for _, title := range []string{SectionCompleted, SectionPending, SectionCurrent, SectionEnvironment, SectionNextSteps, SectionOverall} {
		assert.GreaterOrEqual(t, sectionIndex(t, text, title), 0, title)
	}
}

func TestRender_BeforeFirstSession(t *testing.T) {
	s := spec.AppSpec{Name: "Todo"}
	l := features.NewList(s, features.NewGenerator().Generate(&s), now)

	text := Render(Input{List: l, Now: now})
	assert.Contains(t, text, "No session has run yet.")
	assert.Contains(t, text, "[------------------------------]")
}

func TestBar(t *testing.T) {
	assert.Equal(t, "["+strings.Repeat("-", 30)+"]", Bar(0, 0))
	assert.Equal(t, "["+strings.Repeat("#", 15)+strings.Repeat("-", 15)+"]", Bar(5, 10))
	assert.Equal(t, "["+strings.Repeat("#", 30)+"]", Bar(10, 10))
	assert.Equal(t, "["+strings.Repeat("#", 30)+"]", Bar(12, 10))
}
