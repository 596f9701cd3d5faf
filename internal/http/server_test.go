package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/spec"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticStatus orchestrator.Status

func (s staticStatus) Status() orchestrator.Status { return orchestrator.Status(s) }

func TestNewServer(t *testing.T) {
	st := newStore(t)
	src := staticStatus{}

	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 9090,
		}

		server, err := NewServer(src, st, zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(src, st, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 7420, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(src, st, nil, nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when status source is nil", func(t *testing.T) {
		_, err := NewServer(nil, st, zap.NewNop(), nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "status source cannot be nil")
	})

	t.Run("returns error when store is nil", func(t *testing.T) {
		_, err := NewServer(src, nil, zap.NewNop(), nil)
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, newStore(t))

	rec := get(server, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStatus(t *testing.T) {
	server := setupTestServer(t, newStore(t))

	rec := get(server, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Todo", resp.Project)
	assert.True(t, resp.Running)
	assert.Equal(t, orchestrator.StepValidate, resp.Step)
	require.NotNil(t, resp.CurrentFeature)
	assert.Equal(t, 4, resp.CurrentFeature.ID)
}

func TestHandleFeatures(t *testing.T) {
	st := newStore(t)
	list := initialize(t, st)
	require.NoError(t, list.MarkPassed(1, time.Now()))
	require.NoError(t, st.SaveFeatureList(list))
	server := setupTestServer(t, st)

	t.Run("lists all features", func(t *testing.T) {
		rec := get(server, "/api/v1/features")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp FeaturesResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 7, resp.Total)
		assert.Equal(t, 1, resp.Completed)
		assert.Len(t, resp.Features, 7)
	})

	t.Run("filters by status", func(t *testing.T) {
		var passing, pending FeaturesResponse
		require.NoError(t, json.Unmarshal(get(server, "/api/v1/features?status=passing").Body.Bytes(), &passing))
		require.NoError(t, json.Unmarshal(get(server, "/api/v1/features?status=pending").Body.Bytes(), &pending))

		require.Len(t, passing.Features, 1)
		assert.Equal(t, 1, passing.Features[0].ID)
		assert.Len(t, pending.Features, 6)
	})

	t.Run("rejects unknown filter", func(t *testing.T) {
		rec := get(server, "/api/v1/features?status=broken")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleFeatures_NotInitialized(t *testing.T) {
	server := setupTestServer(t, newStore(t))

	rec := get(server, "/api/v1/features")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleHandoff(t *testing.T) {
	st := newStore(t)
	initialize(t, st)
	server := setupTestServer(t, st)

	rec := get(server, "/api/v1/handoff")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, st.SaveHandoff(handoff.Handoff{
		SessionNumber:  3,
		CompletedTasks: []string{"Implement #1 Initialize project"},
		NextSteps:      []string{"validate recent changes"},
	}))

	rec = get(server, "/api/v1/handoff")
	require.Equal(t, http.StatusOK, rec.Code)

	var h handoff.Handoff
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, 3, h.SessionNumber)
	assert.Equal(t, []string{"validate recent changes"}, h.NextSteps)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t, newStore(t))

	rec := get(server, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		cfg := &Config{
			Host: "localhost",
			Port: 0, // Use random available port
		}

		server, err := NewServer(staticStatus{}, newStore(t), zap.NewNop(), cfg)
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = server.Shutdown(ctx)
		assert.NoError(t, err)

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t, newStore(t))

		rec := get(server, "/health")

		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t, newStore(t))

		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = get(server, "/panic")
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func newStore(t *testing.T) *store.FileStore {
	t.Helper()
	st, err := store.New(t.TempDir(), 0)
	require.NoError(t, err)
	return st
}

func initialize(t *testing.T, st *store.FileStore) *features.FeatureList {
	t.Helper()
	s := &spec.AppSpec{Name: "Todo", CoreFeatures: []string{"Todo List"}}
	list := features.NewList(*s, features.NewGenerator().Generate(s), time.Now())
	require.NoError(t, st.SaveFeatureList(list))
	return list
}

// setupTestServer creates a test server reporting a session in progress.
func setupTestServer(t *testing.T, st Store) *Server {
	t.Helper()
	src := staticStatus{
		Project:        "Todo",
		Initialized:    true,
		Running:        true,
		Step:           orchestrator.StepValidate,
		SessionNumber:  2,
		CurrentFeature: &store.FeatureRef{ID: 4, Name: "Todo List API"},
	}
	server, err := NewServer(src, st, zap.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func get(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}
