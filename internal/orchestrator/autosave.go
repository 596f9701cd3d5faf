package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/harness/internal/session"
	"github.com/fyrsmithlabs/harness/internal/store"
	"go.uber.org/zap"
)

// autosaver periodically writes a running progress record for the session
// so that a crash leaves something behind. It only reads the tracker, which
// is safe for concurrent use.
type autosaver struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (o *Orchestrator) startAutosave(r *run) *autosaver {
	a := &autosaver{}
	interval := o.cfg.Loop.AutosaveInterval
	if interval <= 0 {
		return a
	}

	// Names never change, so the copy can be read from the timer goroutine.
	names := make(map[int]string, len(o.list.Features))
	for _, f := range o.list.Features {
		names[f.ID] = f.Name
	}
	tracker := r.tracker

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p := o.snapshotProgress(tracker.Snapshot(), names)
				if err := o.store.SaveProgress(p); err != nil {
					o.logger.Underlying().Warn("autosave failed", zap.Int("session", p.SessionNumber), zap.Error(err))
				}
			}
		}
	}()
	return a
}

// stop cancels the timer and waits for an in-flight save to finish.
func (a *autosaver) stop() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
	})
}

func (o *Orchestrator) snapshotProgress(sc session.Context, names map[int]string) store.Progress {
	p := store.Progress{
		SessionID:     sc.ID,
		SessionNumber: sc.Number,
		StartedAt:     sc.StartedAt,
		EndedAt:       o.now(),
		Outcome:       store.OutcomeRunning,
		Summary: fmt.Sprintf("Session in progress: %d file(s) read, %d decision(s), %d unresolved error(s).",
			len(sc.Files), len(sc.Decisions), len(sc.UnresolvedErrors())),
		CurrentState: "Session in progress.",
		TokensUsed:   sc.TokensUsed,
		MaxTokens:    sc.MaxTokens,
	}
	if sc.FeatureID != 0 {
		p.Feature = &store.FeatureRef{ID: sc.FeatureID, Name: names[sc.FeatureID]}
		p.CurrentState = fmt.Sprintf("Working on #%d %s.", sc.FeatureID, names[sc.FeatureID])
	}
	return p
}
