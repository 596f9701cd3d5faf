// Package session tracks the working state of one harness session: the
// files read, decisions taken, artifacts produced and errors hit, each
// charged against the session's token budget.
package session

import (
	"time"

	"github.com/fyrsmithlabs/harness/internal/budget"
)

// Relevance ranks how important a tracked file is to the current work.
type Relevance string

const (
	RelevanceCritical Relevance = "critical"
	RelevanceHigh     Relevance = "high"
	RelevanceMedium   Relevance = "medium"
	RelevanceLow      Relevance = "low"
)

// Rank returns 0 for the most relevant tier. Unknown tiers rank below low.
func (r Relevance) Rank() int {
	switch r {
	case RelevanceCritical:
		return 0
	case RelevanceHigh:
		return 1
	case RelevanceMedium:
		return 2
	case RelevanceLow:
		return 3
	default:
		return 4
	}
}

// Outcome is the state of a decision.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePending Outcome = "pending"
	OutcomeFailure Outcome = "failure"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomePending || o == OutcomeFailure
}

// ErrorType classifies a session error.
type ErrorType string

const (
	ErrorTypeCheck  ErrorType = "type-check"
	ErrorRuntime    ErrorType = "runtime"
	ErrorTest       ErrorType = "test"
	ErrorBuild      ErrorType = "build"
	ErrorValidation ErrorType = "validation"
	ErrorCommit     ErrorType = "commit"
	ErrorOther      ErrorType = "other"
)

// ArtifactKind describes what happened to a file.
type ArtifactKind string

const (
	ArtifactCreated  ArtifactKind = "created"
	ArtifactModified ArtifactKind = "modified"
	ArtifactDeleted  ArtifactKind = "deleted"
)

// TrackedFile is a file whose content has entered the session context.
type TrackedFile struct {
	Path      string              `json:"path"`
	Relevance Relevance           `json:"relevance"`
	Tokens    int                 `json:"tokens"`
	Class     budget.ContentClass `json:"class"`
	Summary   string              `json:"summary,omitempty"`
	Reads     int                 `json:"reads"`
	LastRead  time.Time           `json:"lastRead"`
}

// Decision is a choice made during the session.
type Decision struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Reversible  bool      `json:"reversible"`
	FeatureID   int       `json:"featureId,omitempty"`
	Tokens      int       `json:"tokens"`
	Compacted   bool      `json:"compacted,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Artifact is a file produced or changed during the session.
type Artifact struct {
	ID        string       `json:"id"`
	Path      string       `json:"path"`
	Kind      ArtifactKind `json:"kind"`
	FeatureID int          `json:"featureId,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Error is a problem encountered during the session. Unresolved errors are
// carried into the next session's handoff.
type Error struct {
	ID         string     `json:"id"`
	Type       ErrorType  `json:"type"`
	Message    string     `json:"message"`
	File       string     `json:"file,omitempty"`
	FeatureID  int        `json:"featureId,omitempty"`
	Carried    bool       `json:"carried,omitempty"` // seeded from the previous handoff
	Resolved   bool       `json:"resolved"`
	OccurredAt time.Time  `json:"occurredAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Context is the full working state of one session.
type Context struct {
	ID         string        `json:"id"`
	Number     int           `json:"number"`
	StartedAt  time.Time     `json:"startedAt"`
	EndedAt    *time.Time    `json:"endedAt,omitempty"`
	Frozen     bool          `json:"frozen"`
	TokensUsed int           `json:"tokensUsed"`
	MaxTokens  int           `json:"maxTokens"`
	FeatureID  int           `json:"featureId,omitempty"`
	Files      []TrackedFile `json:"files"`
	Decisions  []Decision    `json:"decisions"`
	Artifacts  []Artifact    `json:"artifacts"`
	Errors     []Error       `json:"errors"`
}

// TokenRatio returns TokensUsed / MaxTokens.
func (c Context) TokenRatio() float64 {
	if c.MaxTokens <= 0 {
		return 0
	}
	return float64(c.TokensUsed) / float64(c.MaxTokens)
}

// UnresolvedErrors returns errors not yet resolved, in occurrence order.
func (c Context) UnresolvedErrors() []Error {
	var out []Error
	for _, e := range c.Errors {
		if !e.Resolved {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy.
func (c *Context) Clone() Context {
	out := *c
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	out.Files = append([]TrackedFile(nil), c.Files...)
	out.Decisions = append([]Decision(nil), c.Decisions...)
	out.Artifacts = append([]Artifact(nil), c.Artifacts...)
	if c.Errors != nil {
		out.Errors = make([]Error, len(c.Errors))
		for i, e := range c.Errors {
			if e.ResolvedAt != nil {
				t := *e.ResolvedAt
				e.ResolvedAt = &t
			}
			out.Errors[i] = e
		}
	}
	return out
}
