package schedule

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc executes one task run. The args are the task payload's args;
// the returned error marks the execution failed.
type HandlerFunc func(ctx context.Context, args map[string]any) error

// HandlerRegistry maps composite "pluginID:name" keys to handler functions.
// It is shared process-wide so the execution runner can resolve handlers
// without depending on any bridge instance. Constructed explicitly rather
// than held in package state; Reset exists for test isolation.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// HandlerKey builds the composite registry key.
func HandlerKey(pluginID, name string) string {
	return pluginID + ":" + name
}

// Register stores a handler under pluginID:name. Registering the same key
// twice replaces the previous handler; a reloaded plugin re-registers.
func (r *HandlerRegistry) Register(pluginID, name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("handler name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("handler function cannot be nil")
	}

	r.mu.Lock()
	r.handlers[HandlerKey(pluginID, name)] = fn
	r.mu.Unlock()
	return nil
}

// Lookup resolves a handler by its composite key parts.
func (r *HandlerRegistry) Lookup(pluginID, name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[HandlerKey(pluginID, name)]
	return fn, ok
}

// UnregisterPlugin removes every handler registered by a plugin and
// returns the removed handler names.
func (r *HandlerRegistry) UnregisterPlugin(pluginID string) []string {
	prefix := pluginID + ":"

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for key := range r.handlers {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			removed = append(removed, key[len(prefix):])
			delete(r.handlers, key)
		}
	}
	return removed
}

// Reset drops all handlers.
func (r *HandlerRegistry) Reset() {
	r.mu.Lock()
	r.handlers = make(map[string]HandlerFunc)
	r.mu.Unlock()
}
