// Package handoff compacts a finished session into the document the next
// session starts from.
package handoff

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/fyrsmithlabs/harness/internal/session"
)

// MaxCriticalFiles bounds Handoff.CriticalFiles.
const MaxCriticalFiles = 10

// Recommendation thresholds.
const (
	ErrorDecisionRatioLimit = 0.3
	FilesTouchedLimit       = 20
	TokenRatioLimit         = 0.7
	UnresolvedErrorLimit    = 3
)

// ErrNotFrozen is returned when generating a handoff from a live session.
var ErrNotFrozen = errors.New("session must be frozen before handoff")

// FileRef is a critical file reduced to what the next session needs.
type FileRef struct {
	Path      string            `json:"path"`
	Summary   string            `json:"summary,omitempty"`
	Relevance session.Relevance `json:"relevance"`
}

// AppStatus mirrors the best-effort service start result.
type AppStatus struct {
	Started bool   `json:"started"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Regression is a previously passing feature that failed re-validation.
type Regression struct {
	FeatureID int    `json:"featureId"`
	Name      string `json:"name"`
	Error     string `json:"error"`
}

// Environment is the state of the project when the session ended.
type Environment struct {
	App               AppStatus    `json:"app"`
	Branch            string       `json:"branch,omitempty"`
	CurrentFeatureID  int          `json:"currentFeatureId,omitempty"`
	CurrentFeature    string       `json:"currentFeature,omitempty"`
	CompletedFeatures int          `json:"completedFeatures"`
	TotalFeatures     int          `json:"totalFeatures"`
	Regressions       []Regression `json:"regressions,omitempty"`
	Reset             bool         `json:"reset,omitempty"`
}

// Handoff is the compact, resumable summary of one session.
type Handoff struct {
	SessionID       string          `json:"sessionId"`
	SessionNumber   int             `json:"sessionNumber"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	CompletedTasks  []string        `json:"completedTasks"`
	PartialTasks    []string        `json:"partialTasks"`
	Environment     Environment     `json:"environment"`
	CriticalFiles   []FileRef       `json:"criticalFiles"`
	ActiveErrors    []session.Error `json:"activeErrors"`
	NextSteps       []string        `json:"nextSteps"`
	Warnings        []string        `json:"warnings"`
	Recommendations []string        `json:"recommendations"`
	LearnedPatterns []string        `json:"learnedPatterns"`
	AvoidPatterns   []string        `json:"avoidPatterns"`
	TokensUsed      int             `json:"tokensUsed"`
	MaxTokens       int             `json:"maxTokens"`
}

// Generate builds the handoff for a frozen session. It reads nothing but its
// arguments, so the same input always yields the same handoff.
func Generate(sc session.Context, env Environment) (Handoff, error) {
	if !sc.Frozen {
		return Handoff{}, ErrNotFrozen
	}

	h := Handoff{
		SessionID:     sc.ID,
		SessionNumber: sc.Number,
		GeneratedAt:   sc.StartedAt,
		Environment:   env,
		TokensUsed:    sc.TokensUsed,
		MaxTokens:     sc.MaxTokens,

		CompletedTasks:  []string{},
		PartialTasks:    []string{},
		CriticalFiles:   criticalFiles(sc.Files),
		ActiveErrors:    sc.UnresolvedErrors(),
		LearnedPatterns: []string{},
		AvoidPatterns:   []string{},
	}
	if sc.EndedAt != nil {
		h.GeneratedAt = *sc.EndedAt
	}
	if h.ActiveErrors == nil {
		h.ActiveErrors = []session.Error{}
	}
	if env.Regressions != nil {
		h.Environment.Regressions = append([]Regression(nil), env.Regressions...)
	}

	for _, d := range sc.Decisions {
		switch d.Outcome {
		case session.OutcomeSuccess:
			h.CompletedTasks = append(h.CompletedTasks, d.Description)
		case session.OutcomePending:
			h.PartialTasks = append(h.PartialTasks, d.Description)
		}
	}

	h.NextSteps = nextSteps(sc, h.ActiveErrors)
	h.Warnings = warnings(h.ActiveErrors, env.Regressions)
	h.Recommendations = recommendations(sc, len(h.ActiveErrors))
	h.LearnedPatterns, h.AvoidPatterns = patterns(sc)
	return h, nil
}

func criticalFiles(files []session.TrackedFile) []FileRef {
	var picked []session.TrackedFile
	for _, f := range files {
		if f.Relevance == session.RelevanceCritical || f.Relevance == session.RelevanceHigh {
			picked = append(picked, f)
		}
	}
	sort.SliceStable(picked, func(i, j int) bool {
		if !picked[i].LastRead.Equal(picked[j].LastRead) {
			return picked[i].LastRead.After(picked[j].LastRead)
		}
		return picked[i].Path < picked[j].Path
	})
	if len(picked) > MaxCriticalFiles {
		picked = picked[:MaxCriticalFiles]
	}
	out := make([]FileRef, 0, len(picked))
	for _, f := range picked {
		out = append(out, FileRef{Path: f.Path, Summary: f.Summary, Relevance: f.Relevance})
	}
	return out
}

func nextSteps(sc session.Context, active []session.Error) []string {
	steps := []string{}
	if n := len(active); n > 0 {
		steps = append(steps, fmt.Sprintf("fix %d unresolved error(s)", n))
	}
	for _, d := range sc.Decisions {
		if d.Outcome == session.OutcomePending {
			steps = append(steps, d.Description)
			break
		}
	}
	if len(sc.Artifacts) > 0 {
		steps = append(steps, "validate recent changes")
	}
	return steps
}

func warnings(active []session.Error, regressions []Regression) []string {
	out := []string{}
	for _, e := range active {
		w := fmt.Sprintf("unresolved %s error: %s", e.Type, e.Message)
		if e.File != "" {
			w += " (" + e.File + ")"
		}
		out = append(out, w)
	}
	for _, r := range regressions {
		out = append(out, fmt.Sprintf("regression in feature %d (%s): %s", r.FeatureID, r.Name, r.Error))
	}
	return out
}

func recommendations(sc session.Context, unresolved int) []string {
	out := []string{}

	if errs := len(occurred(sc)); errs > 0 {
		ratio := math.Inf(1)
		if n := len(sc.Decisions); n > 0 {
			ratio = float64(errs) / float64(n)
		}
		if ratio > ErrorDecisionRatioLimit {
			out = append(out, fmt.Sprintf(
				"work in smaller increments: %d error(s) against %d decision(s)", errs, len(sc.Decisions)))
		}
	}
	if n := len(sc.Files); n > FilesTouchedLimit {
		out = append(out, fmt.Sprintf("narrow the scope: %d files touched in one session", n))
	}
	if r := sc.TokenRatio(); r > TokenRatioLimit {
		out = append(out, fmt.Sprintf("reset the context soon: %.0f%% of the token budget used", r*100))
	}
	if unresolved > UnresolvedErrorLimit {
		out = append(out, fmt.Sprintf("prioritize fixes: %d errors are still unresolved", unresolved))
	}
	return out
}

func patterns(sc session.Context) (learned, avoid []string) {
	learned, avoid = []string{}, []string{}
	seenLearned := map[string]bool{}
	seenAvoid := map[string]bool{}
	for _, d := range sc.Decisions {
		switch d.Outcome {
		case session.OutcomeSuccess:
			if !seenLearned[d.Description] {
				seenLearned[d.Description] = true
				learned = append(learned, d.Description)
			}
		case session.OutcomeFailure:
			if !seenAvoid[d.Description] {
				seenAvoid[d.Description] = true
				avoid = append(avoid, d.Description)
			}
		}
	}

	counts := map[session.ErrorType]int{}
	var order []session.ErrorType
	for _, e := range occurred(sc) {
		if counts[e.Type] == 0 {
			order = append(order, e.Type)
		}
		counts[e.Type]++
	}
	for _, t := range order {
		if counts[t] >= 2 {
			avoid = append(avoid, RecurringPattern(t))
		}
	}
	return learned, avoid
}

// occurred returns the errors raised in this session, leaving out the ones
// seeded from the previous handoff.
func occurred(sc session.Context) []session.Error {
	var out []session.Error
	for _, e := range sc.Errors {
		if !e.Carried {
			out = append(out, e)
		}
	}
	return out
}

// RecurringPattern is the avoid pattern recorded for an error type that
// occurred at least twice in one session.
func RecurringPattern(t session.ErrorType) string {
	return fmt.Sprintf("recurring `%s` errors", t)
}
