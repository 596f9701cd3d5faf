// Package learning keeps the patterns the harness has learned across
// sessions: approaches that worked and approaches to avoid.
package learning

import (
	"strings"

	"github.com/fyrsmithlabs/harness/internal/handoff"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxPatterns bounds each pattern list.
const DefaultMaxPatterns = 50

// Store aggregates learned and avoid patterns. Patterns are deduplicated
// and ordered by when they were last seen; once a list is full the least
// recently seen entry is dropped. Safe for concurrent use.
type Store struct {
	learned *lru.Cache[string, struct{}]
	avoid   *lru.Cache[string, struct{}]
}

// NewStore creates a store holding at most max patterns per list.
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxPatterns
	}
	return &Store{learned: newList(max), avoid: newList(max)}
}

func newList(max int) *lru.Cache[string, struct{}] {
	c, err := lru.New[string, struct{}](max)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return c
}

// AddLearned records patterns that worked.
func (s *Store) AddLearned(patterns ...string) {
	add(s.learned, patterns)
}

// AddAvoid records patterns to avoid.
func (s *Store) AddAvoid(patterns ...string) {
	add(s.avoid, patterns)
}

// Absorb adds the patterns of a handoff.
func (s *Store) Absorb(h handoff.Handoff) {
	s.AddLearned(h.LearnedPatterns...)
	s.AddAvoid(h.AvoidPatterns...)
}

// Learned returns the learned patterns, oldest first.
func (s *Store) Learned() []string {
	return s.learned.Keys()
}

// Avoid returns the patterns to avoid, oldest first.
func (s *Store) Avoid() []string {
	return s.avoid.Keys()
}

// Len returns the total number of stored patterns.
func (s *Store) Len() int {
	return s.learned.Len() + s.avoid.Len()
}

// add records patterns; re-adding a known one marks it most recently seen.
func add(c *lru.Cache[string, struct{}], patterns []string) {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			c.Add(p, struct{}{})
		}
	}
}
