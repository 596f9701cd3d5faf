package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/spf13/cobra"
)

// handoffJSON prints the handoff as JSON
var handoffJSON bool

func init() {
	rootCmd.AddCommand(handoffCmd)
	handoffCmd.Flags().BoolVar(&handoffJSON, "json", false, "print JSON")
}

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Show the handoff the last session left for the next one",
	Args:  cobra.NoArgs,
	RunE:  runHandoff,
}

func runHandoff(cmd *cobra.Command, _ []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	h, ok, err := rt.store.LoadHandoff()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, dimStyle.Render("No session has finished yet."))
		return nil
	}
	if handoffJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(h)
	}
	return renderHandoff(out, h)
}

func renderHandoff(w io.Writer, h handoff.Handoff) error {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("handoff · session %d", h.SessionNumber)) + "\n")
	b.WriteString(field("Generated", h.GeneratedAt.Format("2006-01-02 15:04:05")) + "\n")
	b.WriteString(field("Tokens", fmt.Sprintf("%d / %d", h.TokensUsed, h.MaxTokens)) + "\n")
	env := h.Environment
	b.WriteString(field("Features", fmt.Sprintf("%d/%d passing", env.CompletedFeatures, env.TotalFeatures)) + "\n")
	if env.CurrentFeatureID != 0 {
		b.WriteString(field("Feature", fmt.Sprintf("#%d %s", env.CurrentFeatureID, env.CurrentFeature)) + "\n")
	}
	if env.Branch != "" {
		b.WriteString(field("Branch", env.Branch) + "\n")
	}
	if env.Reset {
		b.WriteString(warningStyle.Render("Context was reset; the next session continues this work.") + "\n")
	}

	list := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(sectionStyle.Render(title) + "\n")
		for _, it := range items {
			b.WriteString("  - " + it + "\n")
		}
	}
	files := make([]string, 0, len(h.CriticalFiles))
	for _, f := range h.CriticalFiles {
		line := fmt.Sprintf("%s [%s]", f.Path, f.Relevance)
		if f.Summary != "" {
			line += " " + dimStyle.Render(f.Summary)
		}
		files = append(files, line)
	}
	errs := make([]string, 0, len(h.ActiveErrors))
	for _, e := range h.ActiveErrors {
		errs = append(errs, errorStyle.Render(string(e.Type))+" "+e.Message)
	}

	list("Completed", h.CompletedTasks)
	list("In progress", h.PartialTasks)
	list("Critical files", files)
	list("Active errors", errs)
	list("Next steps", h.NextSteps)
	list("Warnings", h.Warnings)
	list("Recommendations", h.Recommendations)
	list("Learned", h.LearnedPatterns)
	list("Avoid", h.AvoidPatterns)

	_, err := fmt.Fprint(w, b.String())
	return err
}
