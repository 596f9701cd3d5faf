// Package features models the dependency-ordered units of work a harness
// project is decomposed into, and selects which one to work on next.
package features

import (
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/harness/internal/spec"
)

// Priority orders eligible features. Lower rank is scheduled first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the scheduling rank of p. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Category groups features by the layer they touch.
type Category string

const (
	CategorySetup          Category = "setup"
	CategoryInfrastructure Category = "infrastructure"
	CategoryAPI            Category = "api"
	CategoryUI             Category = "ui"
	CategoryAuth           Category = "auth"
	CategoryTesting        Category = "testing"
	CategoryCriteria       Category = "criteria"
	CategoryDeployment     Category = "deployment"
)

// Complexity is a coarse effort estimate.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// CommitRef records the commit that landed a passing feature.
type CommitRef struct {
	SHA       string    `json:"sha"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Feature is an atomic, independently validatable unit of work.
type Feature struct {
	ID              int        `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Category        Category   `json:"category"`
	Priority        Priority   `json:"priority"`
	Complexity      Complexity `json:"complexity"`
	ValidationSteps []string   `json:"validationSteps"`
	Dependencies    []int      `json:"dependencies"`
	Passes          bool       `json:"passes"`
	Attempts        int        `json:"attempts"`
	LastError       string     `json:"lastError,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	Commit          *CommitRef `json:"commit,omitempty"`
}

// FeatureList is the persisted set of features for one application.
//
// CompletedFeatures always equals the number of passing features once a
// mutation method returns.
type FeatureList struct {
	AppSpec           spec.AppSpec `json:"appSpec"`
	Features          []Feature    `json:"features"`
	CreatedAt         time.Time    `json:"createdAt"`
	LastUpdated       time.Time    `json:"lastUpdated"`
	TotalFeatures     int          `json:"totalFeatures"`
	CompletedFeatures int          `json:"completedFeatures"`
	// CurrentFeatureID is 0 when no feature is in progress.
	CurrentFeatureID int `json:"currentFeatureId"`
}

// NewList wraps generated features into a list.
func NewList(s spec.AppSpec, fs []Feature, now time.Time) *FeatureList {
	l := &FeatureList{
		AppSpec:     s,
		Features:    fs,
		CreatedAt:   now,
		LastUpdated: now,
	}
	l.Recount()
	return l
}

// Get returns the feature with id.
func (l *FeatureList) Get(id int) (*Feature, bool) {
	for i := range l.Features {
		if l.Features[i].ID == id {
			return &l.Features[i], true
		}
	}
	return nil, false
}

func (l *FeatureList) mustGet(id int) (*Feature, error) {
	f, ok := l.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFeatureNotFound, id)
	}
	return f, nil
}

// MarkPassed records a successful validation.
func (l *FeatureList) MarkPassed(id int, at time.Time) error {
	f, err := l.mustGet(id)
	if err != nil {
		return err
	}
	if !f.Passes {
		f.Passes = true
		l.CompletedFeatures++
	}
	t := at
	f.CompletedAt = &t
	f.LastError = ""
	l.LastUpdated = at
	return nil
}

// MarkFailed records a failed attempt.
func (l *FeatureList) MarkFailed(id int, reason string, at time.Time) error {
	f, err := l.mustGet(id)
	if err != nil {
		return err
	}
	f.Attempts++
	f.LastError = reason
	l.LastUpdated = at
	return nil
}

// Demote flips a passing feature back to pending after a regression.
// It reports whether the feature was passing.
func (l *FeatureList) Demote(id int, reason string, at time.Time) (bool, error) {
	f, err := l.mustGet(id)
	if err != nil {
		return false, err
	}
	if !f.Passes {
		return false, nil
	}
	f.Passes = false
	f.CompletedAt = nil
	f.LastError = reason
	l.CompletedFeatures--
	l.LastUpdated = at
	return true, nil
}

// SetCommit attaches a commit reference to a feature.
func (l *FeatureList) SetCommit(id int, ref CommitRef) error {
	f, err := l.mustGet(id)
	if err != nil {
		return err
	}
	f.Commit = &ref
	return nil
}

// Recount recomputes the derived counters from the features.
func (l *FeatureList) Recount() {
	completed := 0
	for _, f := range l.Features {
		if f.Passes {
			completed++
		}
	}
	l.TotalFeatures = len(l.Features)
	l.CompletedFeatures = completed
}

// AllPassed reports whether every feature passes.
func (l *FeatureList) AllPassed() bool {
	return l.TotalFeatures > 0 && l.CompletedFeatures == l.TotalFeatures
}

// Percent returns the completion percentage in [0, 100].
func (l *FeatureList) Percent() float64 {
	if l.TotalFeatures == 0 {
		return 0
	}
	return float64(l.CompletedFeatures) / float64(l.TotalFeatures) * 100
}

// RecentlyPassed returns up to n passing features, most recently completed
// first. Ties and missing timestamps fall back to descending id.
func (l *FeatureList) RecentlyPassed(n int) []Feature {
	if n <= 0 {
		return nil
	}
	var passed []Feature
	for _, f := range l.Features {
		if f.Passes {
			passed = append(passed, f)
		}
	}
	sort.SliceStable(passed, func(i, j int) bool {
		a, b := passed[i].CompletedAt, passed[j].CompletedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return passed[i].ID > passed[j].ID
	})
	if len(passed) > n {
		passed = passed[:n]
	}
	return passed
}

// Validate checks the structural invariants: positive unique ids,
// dependencies that resolve, an acyclic graph, and consistent counters.
func (l *FeatureList) Validate() error {
	index := make(map[int]int, len(l.Features))
	for i, f := range l.Features {
		if f.ID <= 0 {
			return fmt.Errorf("%w: %d", ErrInvalidID, f.ID)
		}
		if _, dup := index[f.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateID, f.ID)
		}
		index[f.ID] = i
	}

	for _, f := range l.Features {
		for _, dep := range f.Dependencies {
			if dep == f.ID {
				return fmt.Errorf("%w: %d", ErrSelfDependency, f.ID)
			}
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%w: feature %d depends on %d", ErrUnknownDependency, f.ID, dep)
			}
		}
	}

	if err := l.checkAcyclic(index); err != nil {
		return err
	}

	if l.TotalFeatures != len(l.Features) {
		return fmt.Errorf("%w: total %d, features %d", ErrTotalMismatch, l.TotalFeatures, len(l.Features))
	}
	passing := 0
	for _, f := range l.Features {
		if f.Passes {
			passing++
		}
	}
	if l.CompletedFeatures != passing {
		return fmt.Errorf("%w: completed %d, passing %d", ErrCompletedMismatch, l.CompletedFeatures, passing)
	}
	return nil
}

// checkAcyclic runs an iterative three-colour DFS over the dependency edges.
func (l *FeatureList) checkAcyclic(index map[int]int) error {
	const (
		white = iota
		grey
		black
	)
	colour := make([]int, len(l.Features))

	type frame struct {
		node int
		next int
	}
	for start := range l.Features {
		if colour[start] != white {
			continue
		}
		stack := []frame{{node: start}}
		colour[start] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := l.Features[top.node].Dependencies
			if top.next >= len(deps) {
				colour[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := index[deps[top.next]]
			top.next++
			switch colour[child] {
			case grey:
				return fmt.Errorf("%w: through features %d and %d", ErrCycle, l.Features[top.node].ID, l.Features[child].ID)
			case white:
				colour[child] = grey
				stack = append(stack, frame{node: child})
			}
		}
	}
	return nil
}
