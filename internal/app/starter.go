// Package app starts the project's development service on a best-effort
// basis and reports whether it came up healthy.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultStartTimeout  = 60 * time.Second
	DefaultPollInterval  = time.Second
	healthRequestTimeout = 5 * time.Second
)

// ErrNoHealthURL is returned by HealthCheck when no URL is configured.
var ErrNoHealthURL = errors.New("no health URL configured")

// Status is the advisory result of starting the app.
type Status struct {
	Started bool   `json:"started"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Starter starts the app. It never fails; problems are reported in Status.
type Starter interface {
	Start(ctx context.Context) Status
}

// NopStarter reports that app start is disabled.
type NopStarter struct{}

// Start implements Starter.
func (NopStarter) Start(context.Context) Status {
	return Status{Detail: "app start disabled"}
}

// Config configures a CommandStarter.
type Config struct {
	Dir          string
	Command      string
	HealthURL    string
	StartTimeout time.Duration
	PollInterval time.Duration
	// LogPath receives the command's output. Output is discarded when empty.
	LogPath string
}

// CommandStarter runs a start command in the background and polls a health
// URL until it answers with a 2xx status.
type CommandStarter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu   sync.Mutex
	proc *exec.Cmd
	done chan struct{}
}

// NewCommandStarter creates a starter.
func NewCommandStarter(cfg Config, logger *zap.Logger) *CommandStarter {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandStarter{
		cfg:    cfg,
		client: &http.Client{Timeout: healthRequestTimeout},
		logger: logger,
	}
}

// Start implements Starter. An app that is already healthy is not started
// again.
func (s *CommandStarter) Start(ctx context.Context) Status {
	if s.cfg.HealthURL != "" && s.probe(ctx) == nil {
		return Status{Started: true, Healthy: true, Detail: "already running"}
	}

	command := strings.TrimSpace(s.cfg.Command)
	if command == "" {
		return Status{Detail: "no start command configured"}
	}
	if script := scriptPath(command); script != "" {
		if _, err := os.Stat(filepath.Join(s.cfg.Dir, script)); err != nil {
			return Status{Detail: fmt.Sprintf("%s not found", script)}
		}
	}

	done, err := s.launch(command)
	if err != nil {
		s.logger.Warn("app start failed", zap.String("command", command), zap.Error(err))
		return Status{Detail: "start failed: " + err.Error()}
	}

	if s.cfg.HealthURL == "" {
		return Status{Started: true, Detail: "started; no health URL configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	limiter := rate.NewLimiter(rate.Every(s.cfg.PollInterval), 1)

	var lastErr error
	for {
		select {
		case <-done:
			return Status{Started: true, Detail: "app exited before becoming healthy"}
		default:
		}
		if err := limiter.Wait(ctx); err != nil {
			detail := fmt.Sprintf("not healthy after %s", s.cfg.StartTimeout)
			if lastErr != nil {
				detail += ": " + lastErr.Error()
			}
			return Status{Started: true, Detail: detail}
		}
		if lastErr = s.probe(ctx); lastErr == nil {
			return Status{Started: true, Healthy: true}
		}
	}
}

// HealthCheck probes the health URL once.
func (s *CommandStarter) HealthCheck(ctx context.Context) error {
	if s.cfg.HealthURL == "" {
		return ErrNoHealthURL
	}
	return s.probe(ctx)
}

// Stop terminates an app this starter launched.
func (s *CommandStarter) Stop() {
	s.mu.Lock()
	proc, done := s.proc, s.done
	s.proc, s.done = nil, nil
	s.mu.Unlock()
	if proc == nil || proc.Process == nil {
		return
	}
	_ = proc.Process.Kill()
	<-done
}

func (s *CommandStarter) launch(command string) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		select {
		case <-s.done:
		default:
			return s.done, nil
		}
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = s.cfg.Dir
	// Output goes straight to a file so Wait never blocks on a pipe held
	// open by the app's children.
	var logFile *os.File
	if s.cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.LogPath), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(s.cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}
	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		err := cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		s.logger.Debug("app process exited", zap.Error(err))
		close(done)
	}()
	s.proc, s.done = cmd, done
	return done, nil
}

func (s *CommandStarter) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HealthURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// scriptPath returns the script a command runs when it starts with a
// relative path such as ./init.sh.
func scriptPath(command string) string {
	first := strings.Fields(command)[0]
	if strings.HasPrefix(first, "./") {
		return first
	}
	return ""
}
