// Package plan builds the phase-based execution plan handed to the
// implementer, and defines the capability the implementer provides.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/harness/internal/features"
)

// PhaseKind identifies what a phase does.
type PhaseKind string

const (
	// PhaseAnalyze gathers context before any change is made.
	PhaseAnalyze PhaseKind = "analyze"

	// PhaseImplement makes the change.
	PhaseImplement PhaseKind = "implement"

	// PhaseValidate checks one validation step.
	PhaseValidate PhaseKind = "validate"
)

// ModelTier hints how capable a model the delegate should use.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierStandard ModelTier = "standard"
	TierDeep     ModelTier = "deep"
)

var tiers = []ModelTier{TierFast, TierStandard, TierDeep}

// Phase is one stage of a plan.
type Phase struct {
	Name      string        `json:"name"`
	Kind      PhaseKind     `json:"kind"`
	Steps     []string      `json:"steps"`
	Retries   int           `json:"retries"`
	ModelTier ModelTier     `json:"modelTier"`
	Parallel  bool          `json:"parallel"`
	Timeout   time.Duration `json:"timeout"`
}

// Hints carry what earlier sessions learned.
type Hints struct {
	LearnedPatterns []string `json:"learnedPatterns,omitempty"`
	AvoidPatterns   []string `json:"avoidPatterns,omitempty"`
	LastError       string   `json:"lastError,omitempty"`
}

// Plan is the structured description of how to implement one feature.
type Plan struct {
	FeatureID   int       `json:"featureId"`
	FeatureName string    `json:"featureName"`
	Description string    `json:"description"`
	Phases      []Phase   `json:"phases"`
	Hints       Hints     `json:"hints"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Builder turns a feature into a Plan.
type Builder struct {
	maxRetries       int
	implementTimeout time.Duration
	stepTimeout      time.Duration
}

// NewBuilder creates a builder. maxRetries bounds the implement phase's
// retries; the timeouts are copied onto the phases.
func NewBuilder(maxRetries int, implementTimeout, stepTimeout time.Duration) *Builder {
	return &Builder{
		maxRetries:       maxRetries,
		implementTimeout: implementTimeout,
		stepTimeout:      stepTimeout,
	}
}

// Build returns the plan for f: one analyze phase, one implement phase and
// one sequential validate phase per validation step.
func (b *Builder) Build(f features.Feature, hints Hints, now time.Time) Plan {
	if hints.LastError == "" {
		hints.LastError = f.LastError
	}

	base := tierFor(f.Complexity)

	analyze := []string{fmt.Sprintf("Review feature %d: %s", f.ID, f.Name)}
	if len(f.Dependencies) > 0 {
		analyze = append(analyze, "Check the work of features "+joinInts(f.Dependencies))
	}
	if hints.LastError != "" {
		analyze = append(analyze, "Find the cause of the previous failure: "+hints.LastError)
	}

	remaining := b.maxRetries - f.Attempts
	if remaining < 1 {
		remaining = 1
	}

	phases := []Phase{
		{
			Name:      "Analyze",
			Kind:      PhaseAnalyze,
			Steps:     analyze,
			ModelTier: base,
		},
		{
			Name:    "Implement",
			Kind:    PhaseImplement,
			Steps:   []string{f.Description},
			Retries: remaining - 1,
			// Each failed attempt moves the work to a stronger tier.
			ModelTier: escalate(base, f.Attempts),
			Timeout:   b.implementTimeout,
		},
	}
	for i, step := range f.ValidationSteps {
		phases = append(phases, Phase{
			Name:      fmt.Sprintf("Validate %d", i+1),
			Kind:      PhaseValidate,
			Steps:     []string{step},
			ModelTier: TierFast,
			Timeout:   b.stepTimeout,
		})
	}

	return Plan{
		FeatureID:   f.ID,
		FeatureName: f.Name,
		Description: f.Description,
		Phases:      phases,
		Hints:       hints,
		CreatedAt:   now,
	}
}

func tierFor(c features.Complexity) ModelTier {
	switch c {
	case features.ComplexitySimple:
		return TierFast
	case features.ComplexityComplex:
		return TierDeep
	default:
		return TierStandard
	}
}

func escalate(t ModelTier, steps int) ModelTier {
	i := 0
	for j, candidate := range tiers {
		if candidate == t {
			i = j
		}
	}
	i += steps
	if i >= len(tiers) {
		i = len(tiers) - 1
	}
	return tiers[i]
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
