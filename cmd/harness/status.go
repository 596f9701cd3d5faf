package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/orchestrator"
	"github.com/fyrsmithlabs/harness/internal/report"
	"github.com/fyrsmithlabs/harness/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// statusJSON prints the status as JSON
	statusJSON bool
	// statusFollow re-renders whenever the state directory changes
	statusFollow bool
)

// followDebounce groups the burst of writes a session makes when it persists.
const followDebounce = 200 * time.Millisecond

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	statusCmd.Flags().BoolVarP(&statusFollow, "follow", "f", false, "keep watching and re-render on every change")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show feature progress and the last session",
	Long: `Show how many features pass, what runs next, why the rest are skipped,
and how the last session ended.

Examples:
  # One-shot status
  harness status

  # Machine-readable
  harness status --json

  # Watch a run from another terminal
  harness status --follow`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// statusView is everything the status command shows.
type statusView struct {
	Status      orchestrator.Status `json:"status"`
	LastSession *store.Progress     `json:"lastSession,omitempty"`
	MaxRetries  int                 `json:"maxRetries"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	out := cmd.OutOrStdout()
	if !statusFollow {
		return printStatus(out, rt)
	}

	ctx, cancel := signalContext(cmd.Context(), nil)
	defer cancel()
	return followStatus(ctx, out, rt)
}

func loadStatus(rt *runtime) (statusView, error) {
	o, err := orchestrator.New(rt.cfg, rt.store, orchestrator.WithLogger(rt.logger))
	if err != nil {
		return statusView{}, err
	}
	h := &harness{Orchestrator: o}
	if err := h.resume(context.Background()); err != nil {
		return statusView{}, err
	}

	v := statusView{Status: o.Status(), MaxRetries: rt.cfg.Loop.MaxRetries}
	p, ok, err := rt.store.LatestProgress()
	if err != nil {
		return statusView{}, err
	}
	if ok {
		v.LastSession = &p
	}
	return v, nil
}

func printStatus(w io.Writer, rt *runtime) error {
	v, err := loadStatus(rt)
	if err != nil {
		return err
	}
	if statusJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err = fmt.Fprintln(w, renderStatus(v))
	return err
}

// followStatus prints the status, then again after every burst of changes
// to the state directory, until ctx is done.
func followStatus(ctx context.Context, w io.Writer, rt *runtime) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watching state: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(rt.store.Dir()); err != nil {
		return fmt.Errorf("watching %s: %w", rt.store.Dir(), err)
	}

	if err := printStatus(w, rt); err != nil {
		return err
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic writes land as a rename of a temp file.
			if filepath.Ext(ev.Name) != ".json" || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce = time.After(followDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			rt.logger.Underlying().Warn("watch error", zap.Error(err))
		case <-debounce:
			debounce = nil
			if err := printStatus(w, rt); err != nil {
				return err
			}
		}
	}
}

func renderStatus(v statusView) string {
	st := v.Status
	var b strings.Builder

	b.WriteString(headerStyle.Render("harness · "+st.Project) + "\n")

	progress := fmt.Sprintf("%d/%d features passing (%.1f%%)", st.CompletedFeatures, st.TotalFeatures, st.Percent)
	b.WriteString(field("Progress", progress) + "\n")
	b.WriteString(field("", report.Bar(st.CompletedFeatures, st.TotalFeatures)) + "\n")

	switch {
	case st.Running && st.CurrentFeature != nil:
		b.WriteString(field("Running", fmt.Sprintf("session %d, #%d %s (%s)",
			st.SessionNumber, st.CurrentFeature.ID, st.CurrentFeature.Name, st.Step)) + "\n")
	case st.NextFeature != nil:
		b.WriteString(field("Next", fmt.Sprintf("#%d %s", st.NextFeature.ID, st.NextFeature.Name)) + "\n")
	case st.TotalFeatures > 0 && st.CompletedFeatures == st.TotalFeatures:
		b.WriteString(field("Next", healthyStyle.Render("all features pass")) + "\n")
	default:
		b.WriteString(field("Next", errorStyle.Render("no feature can be scheduled")) + "\n")
	}

	if p := v.LastSession; p != nil {
		var last strings.Builder
		last.WriteString(field("Session", fmt.Sprintf("%d", p.SessionNumber)) + "\n")
		last.WriteString(field("Outcome", outcomeStyle(p.Outcome).Render(string(p.Outcome))) + "\n")
		last.WriteString(field("Tokens", fmt.Sprintf("%d / %d", p.TokensUsed, p.MaxTokens)) + "\n")
		last.WriteString(field("Ended", p.EndedAt.Format(time.RFC3339)) + "\n")
		last.WriteString(dimStyle.Render(p.Summary))
		b.WriteString(sectionStyle.Render("Last session") + "\n")
		b.WriteString(containerStyle.Render(last.String()) + "\n")
	} else {
		b.WriteString(dimStyle.Render("No session has run yet.") + "\n")
	}

	var skipped []string
	for _, s := range st.Skipped {
		if s.Reason != features.SkipReasonPassed {
			skipped = append(skipped, fmt.Sprintf("  #%d %s: %s", s.FeatureID, s.Reason, s.Detail))
		}
	}
	if len(skipped) > 0 {
		b.WriteString(sectionStyle.Render("Skipped") + "\n")
		for _, line := range skipped {
			b.WriteString(dimStyle.Render(line) + "\n")
		}
	}

	if len(st.KnownIssues) > 0 {
		b.WriteString(sectionStyle.Render("Known issues") + "\n")
		for _, issue := range st.KnownIssues {
			b.WriteString(errorStyle.Render("  ✗ ") + issue + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// progressLine is the one-line summary printed after each session.
func progressLine(p store.Progress) string {
	return lipgloss.JoinHorizontal(lipgloss.Top,
		dimStyle.Render(fmt.Sprintf("session %-4d ", p.SessionNumber)),
		outcomeStyle(p.Outcome).Width(9).Render(string(p.Outcome)),
		" ", p.Summary,
	)
}
