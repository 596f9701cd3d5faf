package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, max int) *FileStore {
	t.Helper()
	s, err := New(t.TempDir(), max)
	require.NoError(t, err)
	return s
}

func sampleList() *features.FeatureList {
	app := spec.AppSpec{Name: "Todo", CoreFeatures: []string{"Todo List"}, SuccessCriteria: []string{"Users can add todos"}}
	l := features.NewList(app, features.NewGenerator().Generate(&app), now)
	return l
}

func TestFeatureList_RoundTrip(t *testing.T) {
	s := newStore(t, 0)
	assert.False(t, s.Initialized())

	l := sampleList()
	require.NoError(t, l.MarkPassed(1, now.Add(time.Minute)))
	require.NoError(t, l.MarkFailed(2, "init.sh missing", now.Add(2*time.Minute)))
	require.NoError(t, l.SetCommit(1, features.CommitRef{SHA: strings.Repeat("a", 40), Message: "feat(setup): Initialize project (#1)", Timestamp: now}))
	l.CurrentFeatureID = 2

	require.NoError(t, s.SaveFeatureList(l))
	assert.True(t, s.Initialized())

	got, err := s.LoadFeatureList()
	require.NoError(t, err)

	require.Len(t, got.Features, len(l.Features))
	for i := range l.Features {
		assert.Equal(t, l.Features[i].ID, got.Features[i].ID)
		assert.Equal(t, l.Features[i].Dependencies, got.Features[i].Dependencies)
		assert.Equal(t, l.Features[i].Passes, got.Features[i].Passes)
		assert.Equal(t, l.Features[i].Attempts, got.Features[i].Attempts)
	}
	assert.Equal(t, l.CompletedFeatures, got.CompletedFeatures)
	assert.Equal(t, 2, got.CurrentFeatureID)
	assert.Equal(t, "init.sh missing", got.Features[1].LastError)
	require.NotNil(t, got.Features[0].Commit)
	assert.Equal(t, l.AppSpec.Name, got.AppSpec.Name)

	info, err := os.Stat(filepath.Join(s.Dir(), FeatureListFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())
}

func TestFeatureList_NotInitialized(t *testing.T) {
	_, err := newStore(t, 0).LoadFeatureList()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestFeatureList_SaveRejectsBrokenInvariants(t *testing.T) {
	s := newStore(t, 0)
	l := sampleList()
	l.CompletedFeatures = 3

	assert.ErrorIs(t, s.SaveFeatureList(l), features.ErrCompletedMismatch)
	assert.False(t, s.Initialized())
}

func TestFeatureList_LoadRejectsInvalidDocuments(t *testing.T) {
	tests := map[string]string{
		"not json":       `{"features": [`,
		"missing fields": `{"features": []}`,
		"bad priority": `{"appSpec":{"name":"x"},"createdAt":"2026-03-01T09:00:00Z","lastUpdated":"2026-03-01T09:00:00Z",
			"totalFeatures":1,"completedFeatures":0,"currentFeatureId":0,
			"features":[{"id":1,"name":"a","category":"setup","priority":"urgent","complexity":"simple",
			"validationSteps":[],"dependencies":[],"passes":false,"attempts":0}]}`,
		"counter mismatch": `{"appSpec":{"name":"x"},"createdAt":"2026-03-01T09:00:00Z","lastUpdated":"2026-03-01T09:00:00Z",
			"totalFeatures":1,"completedFeatures":1,"currentFeatureId":0,
			"features":[{"id":1,"name":"a","category":"setup","priority":"high","complexity":"simple",
			"validationSteps":[],"dependencies":[],"passes":false,"attempts":0}]}`,
		"cycle": `{"appSpec":{"name":"x"},"createdAt":"2026-03-01T09:00:00Z","lastUpdated":"2026-03-01T09:00:00Z",
			"totalFeatures":2,"completedFeatures":0,"currentFeatureId":0,
			"features":[{"id":1,"name":"a","category":"setup","priority":"high","complexity":"simple",
			"validationSteps":[],"dependencies":[2],"passes":false,"attempts":0},
			{"id":2,"name":"b","category":"setup","priority":"high","complexity":"simple",
			"validationSteps":[],"dependencies":[1],"passes":false,"attempts":0}]}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)
			require.NoError(t, os.MkdirAll(s.Dir(), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), FeatureListFile), []byte(doc), 0o644))

			_, err := s.LoadFeatureList()
			assert.ErrorIs(t, err, ErrInvalidDocument)
		})
	}
}

func TestProgress(t *testing.T) {
	s := newStore(t, 0)

	_, ok, err := s.LatestProgress()
	require.NoError(t, err)
	assert.False(t, ok)

	for _, n := range []int{1, 2, 10} {
		require.NoError(t, s.SaveProgress(Progress{SessionNumber: n, Outcome: OutcomePassed, Summary: "s"}))
	}
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "progress_x.json"), []byte("{}"), 0o644))

	p, ok, err := s.LatestProgress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, p.SessionNumber)

	p2, err := s.LoadProgress(2)
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, p2.Outcome)

	last, err := s.LastSessionNumber()
	require.NoError(t, err)
	assert.Equal(t, 10, last)
}

func TestHistory_Bounded(t *testing.T) {
	s := newStore(t, 3)

	history, err := s.LoadHistory()
	require.NoError(t, err)
	assert.Empty(t, history)

	for n := 1; n <= 5; n++ {
		require.NoError(t, s.AppendSession(SessionRecord{
			Session: session.Context{ID: "s", Number: n},
			Outcome: OutcomeFailed,
		}))
	}

	history, err = s.LoadHistory()
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Session.Number)
	assert.Equal(t, 5, history[2].Session.Number)

	last, err := s.LastSessionNumber()
	require.NoError(t, err)
	assert.Equal(t, 5, last)
}

func TestHandoff(t *testing.T) {
	s := newStore(t, 0)

	_, ok, err := s.LoadHandoff()
	require.NoError(t, err)
	assert.False(t, ok)

	h := handoff.Handoff{SessionNumber: 4, NextSteps: []string{"fix 1 unresolved error(s)"}, GeneratedAt: now}
	require.NoError(t, s.SaveHandoff(h))

	got, ok, err := s.LoadHandoff()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4, got.SessionNumber)
	assert.Equal(t, h.NextSteps, got.NextSteps)
}

func TestWriteReport(t *testing.T) {
	s := newStore(t, 0)
	require.NoError(t, s.WriteReport("# Progress\n"))

	data, err := os.ReadFile(filepath.Join(s.ProjectDir(), ReportFile))
	require.NoError(t, err)
	assert.Equal(t, "# Progress\n", string(data))

	entries, err := os.ReadDir(s.ProjectDir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
}
