package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpserver "github.com/fyrsmithlabs/harness/internal/http"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// runOnce runs a single session
	runOnce bool
	// runServe serves the status API while running
	runServe bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single session and exit")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "serve the status API while running")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run sessions until every feature passes or none can be scheduled",
	Long: `Run sessions back to back. Each session seeds itself from the previous
handoff, re-validates recently passed features, then implements and validates
the next eligible feature.

The loop ends when every feature passes, when no feature can be scheduled,
after loop.max_run_sessions sessions, or after loop.max_consecutive_faults
faulted sessions in a row.

Press Ctrl-C once to stop after the current session, twice to abort it.

Examples:
  harness run
  harness run --once
  harness run --serve`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	h, err := newHarness(cmd.Context(), rt)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())

	if err := h.resume(cmd.Context()); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), func() {
		rt.logger.Info(cmd.Context(), "stopping after the current session; interrupt again to abort")
		h.Stop()
	})
	defer cancel()

	if runServe {
		stop, err := serveInBackground(rt, h)
		if err != nil {
			return err
		}
		defer stop()
	}

	out := cmd.OutOrStdout()
	if runOnce {
		p, err := h.ExecuteSession(ctx)
		if p.SessionNumber > 0 {
			fmt.Fprintln(out, progressLine(p))
		}
		return err
	}

	sum, err := h.RunContinuous(ctx, func(p store.Progress) {
		fmt.Fprintln(out, progressLine(p))
	})
	fmt.Fprintln(out)
	fmt.Fprintln(out, field("Sessions", fmt.Sprintf("%d (%d faulted)", sum.TotalSessions, sum.Faults)))
	fmt.Fprintln(out, field("Features", fmt.Sprintf("%d/%d passing", sum.CompletedFeatures, sum.TotalFeatures)))
	fmt.Fprintln(out, field("Duration", sum.Duration.Round(time.Millisecond).String()))
	switch {
	case err != nil:
		return err
	case sum.Success:
		fmt.Fprintln(out, healthyStyle.Render("All features pass."))
	case sum.Stopped:
		fmt.Fprintln(out, warningStyle.Render("Stopped."))
	default:
		fmt.Fprintln(out, warningStyle.Render("Stopped with features left; see `harness status`."))
	}
	return nil
}

// serveInBackground starts the status API and returns a func that shuts it
// down.
func serveInBackground(rt *runtime, h *harness) (func(), error) {
	srv, err := httpserver.NewServer(h, rt.store, rt.logger.Underlying(), &httpserver.Config{
		Host: rt.cfg.Server.Host,
		Port: rt.cfg.Server.Port,
	})
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Underlying().Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			rt.logger.Underlying().Warn("status server shutdown failed", zap.Error(err))
		}
	}, nil
}
