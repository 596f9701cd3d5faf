package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fyrsmithlabs/harness/internal/config"
	"github.com/fyrsmithlabs/harness/internal/logging"
	"github.com/fyrsmithlabs/harness/internal/store"
)

// runtime is what every command needs: the resolved project, its
// configuration, a logger and the state store.
type runtime struct {
	dir    string
	cfg    *config.Config
	logger *logging.Logger
	store  *store.FileStore
}

func loadRuntime() (*runtime, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("resolving project directory: %w", err)
	}

	cfg, err := config.Load(dir, configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	st, err := store.New(dir, cfg.Loop.MaxSessions)
	if err != nil {
		return nil, err
	}
	return &runtime{dir: dir, cfg: cfg, logger: logger, store: st}, nil
}

func (rt *runtime) close() {
	_ = rt.logger.Sync() // Best-effort sync on shutdown
}

// signalContext is cancelled on SIGINT or SIGTERM. onFirst, when set, runs
// on the first signal instead and only the second one cancels.
func signalContext(parent context.Context, onFirst func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		if onFirst != nil {
			onFirst()
			select {
			case <-sigCh:
			case <-ctx.Done():
				return
			}
		}
		cancel()
	}()
	return ctx, cancel
}
