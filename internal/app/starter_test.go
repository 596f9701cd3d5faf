package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
}

func TestNopStarter(t *testing.T) {
	st := NopStarter{}.Start(context.Background())
	assert.False(t, st.Started)
	assert.False(t, st.Healthy)
}

func TestCommandStarter_NoCommand(t *testing.T) {
	st := NewCommandStarter(Config{Dir: t.TempDir()}, nil).Start(context.Background())
	assert.False(t, st.Started)
	assert.Equal(t, "no start command configured", st.Detail)
}

func TestCommandStarter_MissingScript(t *testing.T) {
	st := NewCommandStarter(Config{Dir: t.TempDir(), Command: "./init.sh"}, nil).Start(context.Background())
	assert.False(t, st.Started)
	assert.Equal(t, "./init.sh not found", st.Detail)
}

func TestCommandStarter_BecomesHealthy(t *testing.T) {
	skipWithoutShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "started")

	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		if _, err := os.Stat(marker); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewCommandStarter(Config{
		Dir:          dir,
		Command:      "touch started && sleep 30",
		HealthURL:    srv.URL,
		StartTimeout: 5 * time.Second,
		PollInterval: 20 * time.Millisecond,
		LogPath:      filepath.Join(dir, ".harness", "app.log"),
	}, nil)
	defer s.Stop()

	st := s.Start(context.Background())
	assert.True(t, st.Started)
	assert.True(t, st.Healthy, st.Detail)
	assert.GreaterOrEqual(t, probes.Load(), int32(2))
	assert.NoError(t, s.HealthCheck(context.Background()))

	// A second start finds the app already running.
	st = s.Start(context.Background())
	assert.Equal(t, "already running", st.Detail)
}

func TestCommandStarter_NeverHealthy(t *testing.T) {
	skipWithoutShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewCommandStarter(Config{
		Dir:          t.TempDir(),
		Command:      "sleep 30",
		HealthURL:    srv.URL,
		StartTimeout: 200 * time.Millisecond,
		PollInterval: 20 * time.Millisecond,
	}, nil)
	defer s.Stop()

	st := s.Start(context.Background())
	assert.True(t, st.Started)
	assert.False(t, st.Healthy)
	assert.Contains(t, st.Detail, "not healthy")
}

func TestCommandStarter_ExitsEarly(t *testing.T) {
	skipWithoutShell(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewCommandStarter(Config{
		Dir:          t.TempDir(),
		Command:      "exit 1",
		HealthURL:    srv.URL,
		StartTimeout: 5 * time.Second,
		PollInterval: 50 * time.Millisecond,
	}, nil)

	st := s.Start(context.Background())
	assert.True(t, st.Started)
	assert.False(t, st.Healthy)
	assert.Equal(t, "app exited before becoming healthy", st.Detail)
}

func TestCommandStarter_NoHealthURL(t *testing.T) {
	skipWithoutShell(t)
	s := NewCommandStarter(Config{Dir: t.TempDir(), Command: "true"}, nil)
	defer s.Stop()

	st := s.Start(context.Background())
	assert.True(t, st.Started)
	assert.False(t, st.Healthy)
	assert.ErrorIs(t, s.HealthCheck(context.Background()), ErrNoHealthURL)
}

func TestScriptPath(t *testing.T) {
	assert.Equal(t, "./init.sh", scriptPath("./init.sh --dev"))
	assert.Equal(t, "", scriptPath("npm run dev"))
	require.NotPanics(t, func() { scriptPath("x") })
}
