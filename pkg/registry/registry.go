// Package registry tracks the contributions (tools, modes, commands,
// components) plugins register into the shared application stores while
// enabled. The plugin manager unregisters everything a plugin contributed
// before the plugin leaves the enabled state.
package registry

import (
	"fmt"
	"sync"
)

// Kind classifies a contribution.
type Kind string

const (
	KindTool      Kind = "tool"
	KindMode      Kind = "mode"
	KindCommand   Kind = "command"
	KindComponent Kind = "component"
)

// Contribution is one entry a plugin registered.
type Contribution struct {
	Kind     Kind
	Name     string
	PluginID string
	Spec     any // kind-specific definition (tool schema, mode descriptor, ...)
}

func entryKey(kind Kind, name string) string {
	return string(kind) + "\x00" + name
}

// Registry is the in-memory contribution index. Names are unique within a
// kind across all plugins.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Contribution
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]*Contribution),
	}
}

// Register adds a contribution. Registering a name already taken within the
// same kind fails, including when the owner is the same plugin.
func (r *Registry) Register(c Contribution) error {
	if c.Name == "" {
		return fmt.Errorf("contribution name cannot be empty")
	}
	if c.PluginID == "" {
		return fmt.Errorf("contribution plugin ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := entryKey(c.Kind, c.Name)
	if existing, exists := r.entries[key]; exists {
		return fmt.Errorf("%s %q already registered by plugin %s", c.Kind, c.Name, existing.PluginID)
	}

	stored := c
	r.entries[key] = &stored
	return nil
}

// Unregister removes a single contribution.
func (r *Registry) Unregister(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, entryKey(kind, name))
}

// UnregisterByPlugin removes every contribution owned by a plugin and
// returns the removed entries.
func (r *Registry) UnregisterByPlugin(pluginID string) []Contribution {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []Contribution
	for key, c := range r.entries {
		if c.PluginID == pluginID {
			removed = append(removed, *c)
			delete(r.entries, key)
		}
	}
	return removed
}

// Get retrieves a contribution by kind and name.
func (r *Registry) Get(kind Kind, name string) (Contribution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, exists := r.entries[entryKey(kind, name)]
	if !exists {
		return Contribution{}, false
	}
	return *c, true
}

// GetByPlugin returns every contribution owned by a plugin.
func (r *Registry) GetByPlugin(pluginID string) []Contribution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Contribution
	for _, c := range r.entries {
		if c.PluginID == pluginID {
			out = append(out, *c)
		}
	}
	return out
}

// GetByKind returns every contribution of a kind.
func (r *Registry) GetByKind(kind Kind) []Contribution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Contribution
	for _, c := range r.entries {
		if c.Kind == kind {
			out = append(out, *c)
		}
	}
	return out
}

// Len reports the number of registered contributions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
