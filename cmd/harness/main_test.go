package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const todoSpecYAML = `name: Todo
description: A small todo app
core_features:
  - Todo List
`

// testConfig keeps a run free of side effects: no app start, no commits,
// no exporters.
const testConfig = `loop:
  auto_commit: false
  pause_between_sessions: 0s
app:
  start_command: ""
telemetry:
  enabled: false
logging:
  level: error
`

// newProject returns a project dir with a spec file and a quiet config.
func newProject(t *testing.T) (dir, specPath string) {
	t.Helper()
	dir = t.TempDir()
	specPath = filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(todoSpecYAML), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".harness"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".harness", "config.yaml"), []byte(testConfig), 0o600))
	return dir, specPath
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	projectDir, configPath, logLevel = ".", "", ""
	initSpec = ""
	runOnce, runServe = false, false
	statusJSON, statusFollow = false, false
	handoffJSON = false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"init", "run", "status", "handoff", "serve"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestInit(t *testing.T) {
	dir, specPath := newProject(t)

	out, err := execute(t, "init", "--project", dir, "--spec", specPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated 7 features")
	assert.Contains(t, out, "Initialize project")
	assert.Contains(t, out, "Todo List API")

	st, err := store.New(dir, 0)
	require.NoError(t, err)
	list, err := st.LoadFeatureList()
	require.NoError(t, err)
	assert.Equal(t, 7, list.TotalFeatures)

	_, err = execute(t, "init", "--project", dir, "--spec", specPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has a feature list")
}

func TestInit_BadSpec(t *testing.T) {
	dir, _ := newProject(t)
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: Todo\nunknown: true\n"), 0o600))

	_, err := execute(t, "init", "--project", dir, "--spec", bad)
	require.Error(t, err)
}

func TestStatus_BeforeInit(t *testing.T) {
	dir, _ := newProject(t)

	_, err := execute(t, "status", "--project", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "harness init")
}

func TestRunOnce_StatusAndHandoff(t *testing.T) {
	dir, specPath := newProject(t)
	_, err := execute(t, "init", "--project", dir, "--spec", specPath)
	require.NoError(t, err)

	out, err := execute(t, "status", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "0/7 features passing")
	assert.Contains(t, out, "#1 Initialize project")
	assert.Contains(t, out, "No session has run yet.")

	out, err = execute(t, "handoff", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No session has finished yet.")

	// The empty project has no manifest, so feature 1 fails validation.
	out, err = execute(t, "run", "--once", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "session 1")
	assert.Contains(t, out, string(store.OutcomeFailed))

	out, err = execute(t, "status", "--project", dir, "--json")
	require.NoError(t, err)
	var v statusView
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.True(t, v.Status.Initialized)
	assert.Equal(t, 7, v.Status.TotalFeatures)
	assert.Equal(t, 0, v.Status.CompletedFeatures)
	require.NotNil(t, v.LastSession)
	assert.Equal(t, 1, v.LastSession.SessionNumber)
	assert.Equal(t, store.OutcomeFailed, v.LastSession.Outcome)
	assert.Equal(t, 3, v.MaxRetries)

	out, err = execute(t, "handoff", "--project", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "handoff · session 1")
	assert.Contains(t, out, "Next steps")
	assert.Contains(t, out, "Active errors")
}

func TestRenderStatus(t *testing.T) {
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := statusView{
		Status: orchestrator.Status{
			Project:           "Todo",
			Initialized:       true,
			Running:           true,
			Step:              orchestrator.StepImplement,
			SessionNumber:     4,
			TotalFeatures:     7,
			CompletedFeatures: 3,
			Percent:           42.9,
			CurrentFeature:    &store.FeatureRef{ID: 4, Name: "Todo List API"},
			Skipped: []features.Skip{
				{FeatureID: 1, Reason: features.SkipReasonPassed},
				{FeatureID: 5, Reason: features.SkipReasonBlocked, Detail: "waiting on 4"},
			},
			KnownIssues: []string{"init.sh not found"},
		},
		LastSession: &store.Progress{
			SessionNumber: 3,
			Outcome:       store.OutcomePassed,
			TokensUsed:    1200,
			MaxTokens:     100000,
			EndedAt:       ended,
			Summary:       "Feature 3 passes.",
		},
	}

	out := renderStatus(v)
	assert.Contains(t, out, "harness · Todo")
	assert.Contains(t, out, "3/7 features passing (42.9%)")
	assert.Contains(t, out, "session 4, #4 Todo List API (implement)")
	assert.Contains(t, out, "1200 / 100000")
	assert.Contains(t, out, "2026-03-01T12:00:00Z")
	assert.Contains(t, out, "#5 blocked: waiting on 4")
	assert.NotContains(t, out, "#1 passed")
	assert.Contains(t, out, "init.sh not found")
}

func TestRenderStatus_AllPass(t *testing.T) {
	out := renderStatus(statusView{Status: orchestrator.Status{
		Project: "Todo", Initialized: true, TotalFeatures: 2, CompletedFeatures: 2, Percent: 100,
	}})
	assert.Contains(t, out, "all features pass")
	assert.Contains(t, out, "No session has run yet.")
}
