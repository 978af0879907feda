package plugin

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// HookDispatcher fans lifecycle events out to the hooks loaded plugins
// registered. Dispatch is result-collecting: every hook runs, failures are
// logged, and no hook error ever interrupts delivery to the rest.
type HookDispatcher struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	hooks map[string]map[string]HookFunc // event -> pluginID -> hook
}

// NewHookDispatcher creates an empty dispatcher.
func NewHookDispatcher(logger zerolog.Logger) *HookDispatcher {
	return &HookDispatcher{
		logger: logger.With().Str("component", "hook-dispatcher").Logger(),
		hooks:  make(map[string]map[string]HookFunc),
	}
}

// Register installs a plugin's hook for an event, replacing any previous
// hook that plugin had for the same event.
func (d *HookDispatcher) Register(pluginID, event string, fn HookFunc) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	if d.hooks[event] == nil {
		d.hooks[event] = make(map[string]HookFunc)
	}
	d.hooks[event][pluginID] = fn
	d.mu.Unlock()
}

// RegisterAll installs every hook in the set for a plugin.
func (d *HookDispatcher) RegisterAll(pluginID string, hooks LifecycleHooks) {
	for event, fn := range hooks {
		d.Register(pluginID, event, fn)
	}
}

// UnregisterPlugin removes every hook a plugin registered.
func (d *HookDispatcher) UnregisterPlugin(pluginID string) {
	d.mu.Lock()
	for event, byPlugin := range d.hooks {
		delete(byPlugin, pluginID)
		if len(byPlugin) == 0 {
			delete(d.hooks, event)
		}
	}
	d.mu.Unlock()
}

// Dispatch invokes every hook registered for the event. All results are
// collected; failures are logged and returned but never stop the fan-out.
func (d *HookDispatcher) Dispatch(ctx context.Context, event string, data map[string]any) map[string]error {
	d.mu.RLock()
	byPlugin := make(map[string]HookFunc, len(d.hooks[event]))
	for pluginID, fn := range d.hooks[event] {
		byPlugin[pluginID] = fn
	}
	d.mu.RUnlock()

	if len(byPlugin) == 0 {
		return nil
	}

	failures := make(map[string]error)
	for pluginID, fn := range byPlugin {
		if err := d.invoke(ctx, pluginID, event, data, fn); err != nil {
			failures[pluginID] = err
			d.logger.Warn().
				Err(err).
				Str("plugin", pluginID).
				Str("event", event).
				Msg("Lifecycle hook failed")
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return failures
}

func (d *HookDispatcher) invoke(ctx context.Context, pluginID, event string, data map[string]any, fn HookFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &hookPanicError{pluginID: pluginID, event: event, value: r}
		}
	}()
	return fn(ctx, event, data)
}

type hookPanicError struct {
	pluginID string
	event    string
	value    any
}

func (e *hookPanicError) Error() string {
	return "hook panicked"
}
