// Package security holds the three policy gates consulted before plugin
// operations: the permission guard, the rate limiter, and the signature
// verifier. All three are pure accept-or-raise checks; none of them mutate
// plugin state.
package security

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/manifest"
)

// ErrPermissionDenied is wrapped by every permission rejection.
var ErrPermissionDenied = fmt.Errorf("permission denied")

// PermissionGuard tracks the permission set each plugin declared in its
// manifest and rejects capability calls outside that set. Permissions are
// registered at load time and removed at uninstall.
type PermissionGuard struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	granted map[string]map[manifest.Permission]bool
	onDeny  func(pluginID string, permission manifest.Permission)
}

// OnDeny registers a callback invoked on every rejected Require. Used by
// the host to feed metrics.
func (g *PermissionGuard) OnDeny(fn func(pluginID string, permission manifest.Permission)) {
	g.mu.Lock()
	g.onDeny = fn
	g.mu.Unlock()
}

// NewPermissionGuard creates an empty guard.
func NewPermissionGuard(logger zerolog.Logger) *PermissionGuard {
	return &PermissionGuard{
		logger:  logger.With().Str("component", "permission-guard").Logger(),
		granted: make(map[string]map[manifest.Permission]bool),
	}
}

// RegisterPlugin records the permissions a plugin declared. Re-registering
// replaces the previous set.
func (g *PermissionGuard) RegisterPlugin(pluginID string, permissions []manifest.Permission) {
	perms := make(map[manifest.Permission]bool, len(permissions))
	for _, p := range permissions {
		perms[p] = true
	}

	g.mu.Lock()
	g.granted[pluginID] = perms
	g.mu.Unlock()

	g.logger.Debug().
		Str("plugin", pluginID).
		Int("permissions", len(perms)).
		Msg("Registered plugin permissions")
}

// UnregisterPlugin forgets a plugin's permissions.
func (g *PermissionGuard) UnregisterPlugin(pluginID string) {
	g.mu.Lock()
	delete(g.granted, pluginID)
	g.mu.Unlock()
}

// Check reports whether the plugin holds the permission.
func (g *PermissionGuard) Check(pluginID string, permission manifest.Permission) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.granted[pluginID][permission]
}

// Require returns an error wrapping ErrPermissionDenied when the plugin
// lacks the permission.
func (g *PermissionGuard) Require(pluginID string, permission manifest.Permission) error {
	if !g.Check(pluginID, permission) {
		g.mu.RLock()
		onDeny := g.onDeny
		g.mu.RUnlock()
		if onDeny != nil {
			onDeny(pluginID, permission)
		}
		return fmt.Errorf("%w: plugin %s lacks permission %s", ErrPermissionDenied, pluginID, permission)
	}
	return nil
}

// Permissions returns the permissions currently granted to a plugin.
func (g *PermissionGuard) Permissions(pluginID string) []manifest.Permission {
	g.mu.RLock()
	defer g.mu.RUnlock()

	perms := make([]manifest.Permission, 0, len(g.granted[pluginID]))
	for p := range g.granted[pluginID] {
		perms = append(perms, p)
	}
	return perms
}
