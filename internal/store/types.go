package store

import (
	"time"

	"github.com/fyrsmithlabs/harness/internal/app"
	"github.com/fyrsmithlabs/harness/internal/features"
	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/fyrsmithlabs/harness/internal/validation"
)

// Outcome is how a session ended.
type Outcome string

const (
	// OutcomeComplete means there was nothing left to schedule.
	OutcomeComplete Outcome = "complete"
	OutcomePassed   Outcome = "passed"
	OutcomeFailed   Outcome = "failed"
	// OutcomeReset means the token budget ran out mid-session.
	OutcomeReset Outcome = "reset"
	OutcomeFault Outcome = "fault"
	// OutcomeRunning marks an auto-saved snapshot of a session in progress.
	OutcomeRunning Outcome = "running"
)

// FeatureRef names a feature.
type FeatureRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Progress is the snapshot written at the end of every session.
type Progress struct {
	SessionID         string                        `json:"sessionId"`
	SessionNumber     int                           `json:"sessionNumber"`
	StartedAt         time.Time                     `json:"startedAt"`
	EndedAt           time.Time                     `json:"endedAt"`
	Outcome           Outcome                       `json:"outcome"`
	Feature           *FeatureRef                   `json:"feature,omitempty"`
	Validation        *validation.Result            `json:"validation,omitempty"`
	Regressions       []validation.RegressionResult `json:"regressions,omitempty"`
	App               app.Status                    `json:"app"`
	Commit            *features.CommitRef           `json:"commit,omitempty"`
	Summary           string                        `json:"summary"`
	CurrentState      string                        `json:"currentState"`
	NextFeature       *FeatureRef                   `json:"nextFeature,omitempty"`
	CompletedFeatures int                           `json:"completedFeatures"`
	TotalFeatures     int                           `json:"totalFeatures"`
	TokensUsed        int                           `json:"tokensUsed"`
	MaxTokens         int                           `json:"maxTokens"`
	KnownIssues       []string                      `json:"knownIssues,omitempty"`
}

// SessionRecord is an archived session in session_history.json.
type SessionRecord struct {
	Session         session.Context `json:"session"`
	Outcome         Outcome         `json:"outcome"`
	Summary         string          `json:"summary"`
	NextSteps       []string        `json:"nextSteps,omitempty"`
	Warnings        []string        `json:"warnings,omitempty"`
	LearnedPatterns []string        `json:"learnedPatterns,omitempty"`
	AvoidPatterns   []string        `json:"avoidPatterns,omitempty"`
	ArchivedAt      time.Time       `json:"archivedAt"`
}
