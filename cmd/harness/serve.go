package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API for a project",
	Long: `Serve the read-only status API and Prometheus metrics for the project:

  GET /health
  GET /api/v1/status
  GET /api/v1/features[?status=passing|pending]
  GET /api/v1/handoff
  GET /metrics

Use "harness run --serve" to serve the live status of a running loop.`,
	Args: cobra.NoArgs,
	RunE: runServeCmd,
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	h, err := newHarness(cmd.Context(), rt)
	if err != nil {
		return err
	}
	defer h.Close(cmd.Context())
	if err := h.resume(cmd.Context()); err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context(), nil)
	defer cancel()

	stop, err := serveInBackground(rt, h)
	if err != nil {
		return err
	}
	rt.logger.Info(ctx, "serving status",
		zap.String("addr", fmt.Sprintf("http://%s:%d", rt.cfg.Server.Host, rt.cfg.Server.Port)),
	)
	<-ctx.Done()
	stop()
	return nil
}
