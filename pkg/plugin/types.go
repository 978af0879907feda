// Package plugin implements the plugin manager: the lifecycle state machine
// that takes an extension package from discovery through install, load,
// enable, disable, unload, and uninstall, with signature and permission
// gating at every privileged step.
package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/kaori/plughost/pkg/manifest"
)

// Status is a plugin's lifecycle state.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusLoaded    Status = "loaded"
	StatusEnabled   Status = "enabled"
	StatusDisabled  Status = "disabled"
	StatusUnloaded  Status = "unloaded"
	StatusError     Status = "error"
)

// Source indicates where a plugin was installed from.
type Source string

const (
	SourceLocal       Source = "local"
	SourceGit         Source = "git"
	SourceMarketplace Source = "marketplace"
)

// ValidSources is the set of recognized install sources.
var ValidSources = map[Source]bool{
	SourceLocal:       true,
	SourceGit:         true,
	SourceMarketplace: true,
}

// Plugin is the runtime record for one installed plugin. One record exists
// per manifest ID; it is created on discovery or install, mutated through
// every lifecycle transition, and deleted on uninstall.
type Plugin struct {
	Manifest    manifest.Manifest
	Path        string
	Source      Source
	Status      Status
	Config      map[string]any
	InstalledAt time.Time
	Error       string
}

// ID returns the plugin's manifest ID.
func (p *Plugin) ID() string {
	return p.Manifest.ID
}

// Active reports whether the plugin currently holds a context.
func (p *Plugin) Active() bool {
	return p.Status == StatusLoaded || p.Status == StatusEnabled || p.Status == StatusDisabled
}

// snapshot returns a shallow copy of a plugin record for callers outside
// the manager.
func snapshot(p *Plugin) *Plugin {
	c := *p
	return &c
}

// InstallOptions configures an Install call.
type InstallOptions struct {
	Source Source
	Config map[string]any
}

// ErrPluginNotFound is returned for unknown plugin IDs.
var ErrPluginNotFound = fmt.Errorf("plugin not found")

// InvalidTransitionError reports a lifecycle call made in the wrong state.
type InvalidTransitionError struct {
	PluginID string
	From     Status
	Op       string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s plugin %s in state %s", e.Op, e.PluginID, e.From)
}

// HookFunc handles one lifecycle event for a plugin.
type HookFunc func(ctx context.Context, event string, data map[string]any) error

// LifecycleHooks maps event names to handlers. A plugin's activate entry
// point may return hooks to be registered with the dispatcher for the
// plugin's loaded lifetime.
type LifecycleHooks map[string]HookFunc

// Bus event types emitted by the manager.
const (
	EventInstalled   = "system:plugin:installed"
	EventLoaded      = "system:plugin:loaded"
	EventEnabled     = "system:plugin:enabled"
	EventDisabled    = "system:plugin:disabled"
	EventUnloaded    = "system:plugin:unloaded"
	EventUninstalled = "system:plugin:uninstalled"
	EventFailed      = "system:plugin:error"
)
