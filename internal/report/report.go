// Package report renders claude_progress.txt, the plain-text summary a
// fresh session reads before anything else. Its section order is stable.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/handoff"
	"github.com/fyrsmithlabs/harness/internal/store"
)

// BarWidth is the width of the progress bar in characters.
const BarWidth = 30

// Section titles, in rendering order.
const (
	SectionCompleted   = "Completed"
	SectionPending     = "Pending"
	SectionCurrent     = "Current State"
	SectionEnvironment = "App/Environment Status"
	SectionRegressions = "Regression Failures"
	SectionNextSteps   = "Next Steps"
	SectionWarnings    = "Warnings"
	SectionRecommend   = "Recommendations"
	SectionPatterns    = "Learned/Avoid Patterns"
	SectionOverall     = "Overall Progress"
)

// Input is everything the report is rendered from. Progress and Handoff may
// be nil before the first session.
type Input struct {
	List       *features.FeatureList
	Progress   *store.Progress
	Handoff    *handoff.Handoff
	MaxRetries int
	Now        time.Time
}

// Render returns the report text.
func Render(in Input) string {
	w := &writer{}

	w.linef("# %s: harness progress", in.List.AppSpec.Name)
	w.linef("Updated %s", in.Now.UTC().Format(time.RFC3339))
	if in.Progress != nil {
		w.linef("Last session: #%d (%s)", in.Progress.SessionNumber, in.Progress.Outcome)
	}

	w.section(SectionCompleted)
	completed := 0
	for _, f := range in.List.Features {
		if !f.Passes {
			continue
		}
		completed++
		line := fmt.Sprintf("- [x] #%d %s", f.ID, f.Name)
		if f.Commit != nil && len(f.Commit.SHA) >= 7 {
			line += " (" + f.Commit.SHA[:7] + ")"
		}
		w.line(line)
	}
	if completed == 0 {
		w.line("(none)")
	}

	w.section(SectionPending)
	pending := 0
	for _, f := range in.List.Features {
		if f.Passes {
			continue
		}
		pending++
		line := fmt.Sprintf("- [ ] #%d %s [%s]", f.ID, f.Name, f.Priority)
		if f.Attempts > 0 {
			line += fmt.Sprintf(" attempts %d/%d", f.Attempts, in.MaxRetries)
			if in.MaxRetries > 0 && f.Attempts >= in.MaxRetries {
				line += " (exhausted)"
			}
		}
		if f.LastError != "" {
			line += ": " + oneLine(f.LastError)
		}
		w.line(line)
	}
	if pending == 0 {
		w.line("(none)")
	}

	w.section(SectionCurrent)
	switch {
	case in.Progress != nil:
		w.line(in.Progress.CurrentState)
		if in.Progress.Summary != "" {
			w.line(in.Progress.Summary)
		}
	default:
		w.line("No session has run yet.")
	}

	w.section(SectionEnvironment)
	if in.Progress != nil {
		a := in.Progress.App
		w.linef("- App started: %s", yesNo(a.Started))
		healthy := "- App healthy: " + yesNo(a.Healthy)
		if a.Detail != "" {
			healthy += " (" + a.Detail + ")"
		}
		w.line(healthy)
		if in.Progress.MaxTokens > 0 {
			w.linef("- Tokens: %d / %d", in.Progress.TokensUsed, in.Progress.MaxTokens)
		}
	} else {
		w.line("- App started: unknown")
	}
	if in.Handoff != nil && in.Handoff.Environment.Branch != "" {
		w.linef("- Branch: %s", in.Handoff.Environment.Branch)
	}

	if in.Progress != nil {
		var failed []string
		for _, r := range in.Progress.Regressions {
			if !r.Passed {
				failed = append(failed, fmt.Sprintf("- #%d %s: %s", r.FeatureID, r.Name, oneLine(r.Error)))
			}
		}
		w.list(SectionRegressions, failed)
	}

	w.section(SectionNextSteps)
	var steps []string
	if in.Progress != nil && in.Progress.NextFeature != nil {
		steps = append(steps, fmt.Sprintf("Work on #%d %s", in.Progress.NextFeature.ID, in.Progress.NextFeature.Name))
	}
	if in.Handoff != nil {
		steps = append(steps, in.Handoff.NextSteps...)
	}
	if len(steps) == 0 {
		w.line("(none)")
	}
	for i, s := range steps {
		w.linef("%d. %s", i+1, s)
	}

	if in.Handoff != nil {
		w.list(SectionWarnings, bullets(in.Handoff.Warnings))
		w.list(SectionRecommend, bullets(in.Handoff.Recommendations))

		if len(in.Handoff.LearnedPatterns) > 0 || len(in.Handoff.AvoidPatterns) > 0 {
			w.section(SectionPatterns)
			if len(in.Handoff.LearnedPatterns) > 0 {
				w.line("Learned:")
				w.lines(bullets(in.Handoff.LearnedPatterns))
			}
			if len(in.Handoff.AvoidPatterns) > 0 {
				w.line("Avoid:")
				w.lines(bullets(in.Handoff.AvoidPatterns))
			}
		}
	}

	w.section(SectionOverall)
	w.linef("%d/%d features passing (%.1f%%)", in.List.CompletedFeatures, in.List.TotalFeatures, in.List.Percent())
	w.line(Bar(in.List.CompletedFeatures, in.List.TotalFeatures))

	return w.String()
}

// Bar renders a BarWidth-character progress bar.
func Bar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = done * BarWidth / total
	}
	if filled > BarWidth {
		filled = BarWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", BarWidth-filled) + "]"
}

type writer struct {
	strings.Builder
}

func (w *writer) line(s string) {
	w.WriteString(s)
	w.WriteByte('\n')
}

func (w *writer) linef(format string, args ...interface{}) {
	w.line(fmt.Sprintf(format, args...))
}

func (w *writer) lines(ss []string) {
	for _, s := range ss {
		w.line(s)
	}
}

func (w *writer) section(title string) {
	w.line("")
	w.line("## " + title)
}

// list writes an optional section; nothing is written when items is empty.
func (w *writer) list(title string, items []string) {
	if len(items) == 0 {
		return
	}
	w.section(title)
	w.lines(items)
}

func bullets(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = "- " + oneLine(s)
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
