package capability

import (
	"regexp"

	"github.com/kaori/plughost/pkg/bus"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/security"
)

// Messaging is the plugin's handle onto the process-wide message bus.
// Emits are attributed to the plugin and subscriptions are owned by it, so
// unloading the plugin removes everything it registered.
type Messaging struct {
	pluginID string
	bus      *bus.Bus
	guard    *security.PermissionGuard
}

// Emit publishes a plugin-originated event.
func (m *Messaging) Emit(eventType string, payload any, metadata map[string]any) (bus.Event, error) {
	if err := m.guard.Require(m.pluginID, manifest.PermissionMessaging); err != nil {
		return bus.Event{}, err
	}
	return m.bus.EmitFromPlugin(m.pluginID, eventType, payload, metadata), nil
}

// On subscribes to an exact event type (or "*").
func (m *Messaging) On(eventType string, handler bus.Handler, opts ...bus.SubscribeOption) (*bus.Subscription, error) {
	if err := m.guard.Require(m.pluginID, manifest.PermissionMessaging); err != nil {
		return nil, err
	}
	opts = append(opts, bus.WithOwner(bus.PluginSource(m.pluginID)))
	return m.bus.On(eventType, handler, opts...), nil
}

// OnPattern subscribes to every event type matching the pattern.
func (m *Messaging) OnPattern(pattern *regexp.Regexp, handler bus.Handler, opts ...bus.SubscribeOption) (*bus.Subscription, error) {
	if err := m.guard.Require(m.pluginID, manifest.PermissionMessaging); err != nil {
		return nil, err
	}
	opts = append(opts, bus.WithOwner(bus.PluginSource(m.pluginID)))
	return m.bus.OnPattern(pattern, handler, opts...), nil
}

// Once subscribes a handler that fires at most one time.
func (m *Messaging) Once(eventType string, handler bus.Handler, opts ...bus.SubscribeOption) (*bus.Subscription, error) {
	if err := m.guard.Require(m.pluginID, manifest.PermissionMessaging); err != nil {
		return nil, err
	}
	opts = append(opts, bus.WithOwner(bus.PluginSource(m.pluginID)))
	return m.bus.Once(eventType, handler, opts...), nil
}

// Off removes one subscription.
func (m *Messaging) Off(sub *bus.Subscription) {
	m.bus.Off(sub)
}

// Replay re-delivers matching history to the handler.
func (m *Messaging) Replay(eventType string, handler bus.Handler, opts bus.ReplayOptions) (int, error) {
	if err := m.guard.Require(m.pluginID, manifest.PermissionMessaging); err != nil {
		return 0, err
	}
	return m.bus.Replay(eventType, handler, opts), nil
}

// OffAll removes every subscription the plugin owns. Called on unload.
func (m *Messaging) OffAll() int {
	return m.bus.OffAll(m.pluginID)
}
