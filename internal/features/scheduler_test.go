package features

import (
	"math/rand"
	"testing"

	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickNext_PriorityThenID(t *testing.T) {
	l := NewList(spec.AppSpec{}, []Feature{
		{ID: 1, Priority: PriorityLow},
		{ID: 2, Priority: PriorityMedium},
		{ID: 3, Priority: PriorityHigh},
		{ID: 4, Priority: PriorityHigh},
	}, fixedNow)

	f, ok := NewScheduler(3).PickNext(l)
	require.True(t, ok)
	assert.Equal(t, 3, f.ID)
}

func TestPickNext_EqualPriorityLowerIDWins(t *testing.T) {
	l := NewList(spec.AppSpec{}, []Feature{
		{ID: 7, Priority: PriorityMedium},
		{ID: 5, Priority: PriorityMedium},
	}, fixedNow)

	f, ok := NewScheduler(3).PickNext(l)
	require.True(t, ok)
	assert.Equal(t, 5, f.ID)
}

func TestPickNext_RespectsDependencies(t *testing.T) {
	l := sampleList()
	s := NewScheduler(3)

	f, ok := s.PickNext(l)
	require.True(t, ok)
	assert.Equal(t, 1, f.ID)

	require.NoError(t, l.MarkPassed(1, fixedNow))
	f, _ = s.PickNext(l)
	assert.Equal(t, 2, f.ID)

	// ui (3) and tests (4) tie on priority; the lower id wins.
	require.NoError(t, l.MarkPassed(2, fixedNow))
	f, _ = s.PickNext(l)
	assert.Equal(t, 3, f.ID)
}

func TestPickNext_ExhaustedFeatureStaysVisible(t *testing.T) {
	const maxRetries = 3
	l := NewList(spec.AppSpec{}, []Feature{
		{ID: 1, Name: "flaky", Priority: PriorityHigh, Attempts: maxRetries - 1},
		{ID: 2, Name: "other", Priority: PriorityLow},
	}, fixedNow)
	s := NewScheduler(maxRetries)

	f, ok := s.PickNext(l)
	require.True(t, ok)
	require.Equal(t, 1, f.ID)

	require.NoError(t, l.MarkFailed(1, "still broken", fixedNow))

	f, ok = s.PickNext(l)
	require.True(t, ok)
	assert.Equal(t, 2, f.ID)

	flaky, found := l.Get(1)
	require.True(t, found)
	assert.Equal(t, maxRetries, flaky.Attempts)
	assert.Equal(t, "still broken", flaky.LastError)
	assert.Len(t, l.Features, 2)

	skips := s.Explain(l)
	require.Len(t, skips, 1)
	assert.Equal(t, SkipReasonExhausted, skips[0].Reason)
}

func TestPickNext_NoneEligible(t *testing.T) {
	l := NewList(spec.AppSpec{}, []Feature{
		{ID: 1, Attempts: 3},
		{ID: 2, Dependencies: []int{1}},
	}, fixedNow)
	s := NewScheduler(3)

	_, ok := s.PickNext(l)
	assert.False(t, ok)
	assert.True(t, s.Exhausted(l))
	assert.True(t, s.Done(l))

	skips := s.Explain(l)
	require.Len(t, skips, 2)
	assert.Equal(t, SkipReasonExhausted, skips[0].Reason)
	assert.Equal(t, SkipReasonBlocked, skips[1].Reason)
}

func TestDone_AllPassed(t *testing.T) {
	l := NewList(spec.AppSpec{}, []Feature{{ID: 1, Passes: true}}, fixedNow)
	s := NewScheduler(3)

	assert.False(t, s.Exhausted(l))
	assert.True(t, s.Done(l))
}

// randomList builds a backward-linked list with random state.
func randomList(r *rand.Rand, n, maxRetries int) *FeatureList {
	prios := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	fs := make([]Feature, n)
	for i := range fs {
		id := i + 1
		var deps []int
		for d := 1; d < id; d++ {
			if r.Intn(4) == 0 {
				deps = append(deps, d)
			}
		}
		fs[i] = Feature{
			ID:           id,
			Priority:     prios[r.Intn(len(prios))],
			Dependencies: deps,
			Passes:       r.Intn(3) == 0,
			Attempts:     r.Intn(maxRetries + 1),
		}
	}
	return NewList(spec.AppSpec{}, fs, fixedNow)
}

func TestPickNext_Properties(t *testing.T) {
	const maxRetries = 3
	r := rand.New(rand.NewSource(42))
	s := NewScheduler(maxRetries)

	for i := 0; i < 500; i++ {
		l := randomList(r, 1+r.Intn(15), maxRetries)

		f, ok := s.PickNext(l)
		again, okAgain := s.PickNext(l)
		assert.Equal(t, ok, okAgain)
		assert.Equal(t, f, again, "pickNext must be deterministic")
		if !ok {
			continue
		}

		assert.False(t, f.Passes)
		assert.Less(t, f.Attempts, maxRetries)
		for _, dep := range f.Dependencies {
			d, found := l.Get(dep)
			require.True(t, found)
			assert.True(t, d.Passes, "feature %d picked with unmet dependency %d", f.ID, dep)
		}

		for _, other := range s.Eligible(l) {
			if other.Priority.Rank() == f.Priority.Rank() {
				assert.LessOrEqual(t, f.ID, other.ID)
			} else {
				assert.Less(t, f.Priority.Rank(), other.Priority.Rank())
			}
		}
	}
}
