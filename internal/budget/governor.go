package budget

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// Default budget settings.
const (
	DefaultMaxTokens        = 100_000
	DefaultWarningThreshold = 0.8
)

// EventKind identifies a budget event.
type EventKind string

const (
	EventWarning   EventKind = "warning"
	EventExhausted EventKind = "exhausted"
)

// Event is emitted when usage crosses the warning threshold or the budget.
type Event struct {
	Kind  EventKind
	Used  int
	Max   int
	Ratio float64
}

// Listener receives budget events. Listeners run synchronously on the
// charging goroutine after the governor's lock has been released.
type Listener func(Event)

// Status is a point-in-time view of the budget.
type Status struct {
	Used      int     `json:"used"`
	Max       int     `json:"max"`
	Ratio     float64 `json:"ratio"`
	Warning   bool    `json:"warning"`
	Exhausted bool    `json:"exhausted"`
}

// Governor tracks estimated token usage against a session budget.
//
// Usage only grows through Charge. Release exists for context compression
// and is the only way usage decreases.
type Governor struct {
	mu        sync.RWMutex
	used      int
	max       int
	threshold float64
	listeners []Listener
	metrics   *Metrics
}

// GovernorOption configures a Governor.
type GovernorOption func(*Governor)

// WithListener registers a listener for budget events.
func WithListener(l Listener) GovernorOption {
	return func(g *Governor) {
		g.listeners = append(g.listeners, l)
	}
}

// WithMetrics records charges on OpenTelemetry instruments.
func WithMetrics(m *Metrics) GovernorOption {
	return func(g *Governor) {
		g.metrics = m
	}
}

// NewGovernor creates a governor for one session.
func NewGovernor(maxTokens int, threshold float64, opts ...GovernorOption) (*Governor, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBudget, maxTokens)
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}
	g := &Governor{max: maxTokens, threshold: threshold}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Charge adds tokens to the usage. It never refuses a charge; callers check
// Status().Exhausted to decide whether to reset the session.
func (g *Governor) Charge(ctx context.Context, tokens int, class ContentClass) (Status, error) {
	if tokens < 0 {
		return g.Status(), ErrNegativeCharge
	}

	var events []Event
	var st Status
	func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		prev := g.used
		if tokens > math.MaxInt-prev {
			g.used = math.MaxInt
		} else {
			g.used = prev + tokens
		}
		st = g.statusLocked()

		prevRatio := float64(prev) / float64(g.max)
		if prevRatio < g.threshold && st.Ratio >= g.threshold {
			events = append(events, Event{Kind: EventWarning, Used: st.Used, Max: st.Max, Ratio: st.Ratio})
		}
		if prevRatio < 1 && st.Ratio >= 1 {
			events = append(events, Event{Kind: EventExhausted, Used: st.Used, Max: st.Max, Ratio: st.Ratio})
		}
	}()

	g.metrics.recordCharge(ctx, tokens, class, st.Ratio)
	for _, ev := range events {
		g.metrics.recordEvent(ctx, ev.Kind)
		for _, l := range g.listeners {
			l(ev)
		}
	}
	return st, nil
}

// Release returns tokens freed by context compression.
func (g *Governor) Release(tokens int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if tokens < 0 {
		return ErrNegativeCharge
	}
	if tokens > g.used {
		return fmt.Errorf("%w: release %d, used %d", ErrOverRelease, tokens, g.used)
	}
	g.used -= tokens
	return nil
}

// Status returns the current usage.
func (g *Governor) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.statusLocked()
}

// Used returns the tokens used so far.
func (g *Governor) Used() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.used
}

// Max returns the budget.
func (g *Governor) Max() int {
	return g.max
}

// Exhausted reports whether usage has reached the budget.
func (g *Governor) Exhausted() bool {
	return g.Status().Exhausted
}

func (g *Governor) statusLocked() Status {
	ratio := float64(g.used) / float64(g.max)
	return Status{
		Used:      g.used,
		Max:       g.max,
		Ratio:     ratio,
		Warning:   ratio >= g.threshold,
		Exhausted: ratio >= 1,
	}
}
