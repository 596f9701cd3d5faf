// Package hooks dispatches harness lifecycle events to registered handlers.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookSessionStart is called after a session has been started and seeded.
	HookSessionStart HookType = "session_start"

	// HookSessionEnd is called after a session has been finalized.
	HookSessionEnd HookType = "session_end"

	// HookContextReset is called when budget exhaustion forces a new session.
	HookContextReset HookType = "context_reset"

	// HookBudgetWarning is called once when usage crosses the warning threshold.
	HookBudgetWarning HookType = "budget_warning"

	// HookFeaturePassed is called when a feature's validation succeeds.
	HookFeaturePassed HookType = "feature_passed"

	// HookFeatureFailed is called when a feature's validation fails.
	HookFeatureFailed HookType = "feature_failed"

	// HookFeatureRegressed is called when a passed feature is demoted.
	HookFeatureRegressed HookType = "feature_regressed"
)

// Data carries hook payload fields.
type Data map[string]interface{}

// HookHandler is a function that handles a hook event
type HookHandler func(ctx context.Context, data Data) error

// HookManager manages lifecycle hooks
type HookManager struct {
	mu       sync.RWMutex
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs every handler for the given hook type in registration order.
// A failing handler does not stop the remaining ones; all failures are joined.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, data Data) error {
	h.mu.RLock()
	handlers := append([]HookHandler(nil), h.handlers[hookType]...)
	h.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, data); err != nil {
			errs = append(errs, fmt.Errorf("hook %s failed: %w", hookType, err))
		}
	}
	return errors.Join(errs...)
}

// Has reports whether any handler is registered for hookType.
func (h *HookManager) Has(hookType HookType) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[hookType]) > 0
}
