package handoff

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/harness/internal/budget"
	"github.com/fyrsmithlabs/harness/internal/session"
)

// Recorder is the part of session.Tracker a handoff is replayed into.
type Recorder interface {
	TrackFile(ctx context.Context, r session.FileRead) (budget.Status, error)
	RecordDecision(ctx context.Context, d session.Decision) (session.Decision, budget.Status, error)
	RecordError(e session.Error) (session.Error, error)
}

// Seed starts a new session from h. Critical files are tracked by their
// summaries, partial tasks become pending decisions, and active errors are
// carried over unresolved and marked Carried.
func Seed(ctx context.Context, r Recorder, h Handoff) error {
	for _, f := range h.CriticalFiles {
		content := f.Summary
		if content == "" {
			content = f.Path
		}
		if _, err := r.TrackFile(ctx, session.FileRead{
			Path:      f.Path,
			Content:   content,
			Relevance: f.Relevance,
			Summary:   f.Summary,
		}); err != nil {
			return fmt.Errorf("seed file %s: %w", f.Path, err)
		}
	}

	for _, task := range h.PartialTasks {
		if _, _, err := r.RecordDecision(ctx, session.Decision{
			Description: task,
			Reasoning:   fmt.Sprintf("carried over from session %d", h.SessionNumber),
			Outcome:     session.OutcomePending,
			Reversible:  true,
			FeatureID:   h.Environment.CurrentFeatureID,
		}); err != nil {
			return fmt.Errorf("seed task %q: %w", task, err)
		}
	}

	for _, e := range h.ActiveErrors {
		carried := session.Error{
			Type:       e.Type,
			Message:    e.Message,
			File:       e.File,
			FeatureID:  e.FeatureID,
			OccurredAt: e.OccurredAt,
			Carried:    true,
		}
		if _, err := r.RecordError(carried); err != nil {
			return fmt.Errorf("seed error %s: %w", e.ID, err)
		}
	}
	return nil
}
