package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// StepHandler is the pluggable implementation behind a step type.
type StepHandler interface {
	// ValidateConfig checks a step's configuration payload. It is called by
	// the definition validator before a definition is persisted.
	ValidateConfig(config map[string]interface{}) error

	// Execute runs the step synchronously against the execution context and
	// returns its result. The result should carry at least a "status" entry
	// so that later steps' previous-step conditions can reference it.
	Execute(ctx context.Context, config, execCtx map[string]interface{}) (map[string]interface{}, error)
}

// Registry is a named table of step handlers, built once at process start
// and passed to the engine. The engine never discovers handlers beyond it.
type Registry struct {
	handlers map[string]StepHandler
	mu       sync.RWMutex
}

// NewRegistry creates an empty step handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]StepHandler)}
}

// Register registers a handler under a step type, replacing any previous
// handler of the same type.
func (r *Registry) Register(stepType string, handler StepHandler) error {
	if stepType == "" || handler == nil {
		return errors.New("step type and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[stepType] = handler
	return nil
}

// Lookup returns the handler registered under the step type.
func (r *Registry) Lookup(stepType string) (StepHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[stepType]
	return handler, ok
}

// Has reports whether a handler is registered under the step type.
func (r *Registry) Has(stepType string) bool {
	_, ok := r.Lookup(stepType)
	return ok
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		ts = append(ts, t)
	}
	sort.Strings(ts)
	return ts
}
