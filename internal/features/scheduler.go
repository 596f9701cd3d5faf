package features

import (
	"fmt"
	"sort"
)

// SkipReasonCode enumerates why a feature is not eligible.
type SkipReasonCode string

const (
	SkipReasonPassed    SkipReasonCode = "passed"
	SkipReasonExhausted SkipReasonCode = "exhausted"
	SkipReasonBlocked   SkipReasonCode = "blocked"
)

// Skip explains why a feature was excluded from scheduling.
type Skip struct {
	FeatureID int            `json:"featureId"`
	Reason    SkipReasonCode `json:"reason"`
	Detail    string         `json:"detail"`
}

// Scheduler selects the next feature to work on. It is a pure function of
// the list state: the same list always yields the same feature.
type Scheduler struct {
	maxRetries int
}

// NewScheduler creates a scheduler that stops retrying a feature once it has
// failed maxRetries times.
func NewScheduler(maxRetries int) *Scheduler {
	return &Scheduler{maxRetries: maxRetries}
}

// MaxRetries returns the retry ceiling.
func (s *Scheduler) MaxRetries() int {
	return s.maxRetries
}

// PickNext returns the eligible feature with the best priority, breaking
// ties by ascending id. The returned feature is a copy.
func (s *Scheduler) PickNext(l *FeatureList) (Feature, bool) {
	eligible := s.Eligible(l)
	if len(eligible) == 0 {
		return Feature{}, false
	}
	return eligible[0], true
}

// Eligible returns all eligible features in scheduling order.
func (s *Scheduler) Eligible(l *FeatureList) []Feature {
	var out []Feature
	for _, f := range l.Features {
		if s.skip(l, f) == nil {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Explain lists every ineligible feature with its reason, in id order.
func (s *Scheduler) Explain(l *FeatureList) []Skip {
	var out []Skip
	for _, f := range l.Features {
		if sk := s.skip(l, f); sk != nil {
			out = append(out, *sk)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out
}

// Exhausted reports whether work remains but nothing can be scheduled.
func (s *Scheduler) Exhausted(l *FeatureList) bool {
	if l.AllPassed() {
		return false
	}
	_, ok := s.PickNext(l)
	return !ok
}

// Done reports whether the loop has nothing left to do.
func (s *Scheduler) Done(l *FeatureList) bool {
	return l.AllPassed() || s.Exhausted(l)
}

func (s *Scheduler) skip(l *FeatureList, f Feature) *Skip {
	if f.Passes {
		return &Skip{FeatureID: f.ID, Reason: SkipReasonPassed, Detail: "already passing"}
	}
	if f.Attempts >= s.maxRetries {
		return &Skip{
			FeatureID: f.ID,
			Reason:    SkipReasonExhausted,
			Detail:    fmt.Sprintf("%d of %d attempts used", f.Attempts, s.maxRetries),
		}
	}
	for _, dep := range f.Dependencies {
		d, ok := l.Get(dep)
		if !ok {
			return &Skip{FeatureID: f.ID, Reason: SkipReasonBlocked, Detail: fmt.Sprintf("unknown dependency %d", dep)}
		}
		if !d.Passes {
			return &Skip{FeatureID: f.ID, Reason: SkipReasonBlocked, Detail: fmt.Sprintf("waiting on %d (%s)", d.ID, d.Name)}
		}
	}
	return nil
}

// Exhausted reports whether work remains but every pending feature has used
// up maxRetries attempts or waits on one that has.
func (l *FeatureList) Exhausted(maxRetries int) bool {
	return NewScheduler(maxRetries).Exhausted(l)
}
