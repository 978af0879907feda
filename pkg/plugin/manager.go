package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/capability"
	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/registry"
	"github.com/kaori/plughost/pkg/schedule"
	"github.com/kaori/plughost/pkg/security"

	"github.com/kaori/plughost/pkg/bus"
)

// Manager owns the plugin lifecycle state machine. Every transition runs
// under that plugin's own lock, so operations on different plugins never
// serialize against each other while a single plugin's transitions stay
// strictly ordered.
type Manager struct {
	logger    zerolog.Logger
	caller    host.Caller
	loader    *manifest.Loader
	verifier  *security.SignatureVerifier
	guard     *security.PermissionGuard
	limiter   *security.RateLimiter
	bus       *bus.Bus
	registry  *registry.Registry
	builder   *capability.Builder
	handlers  *schedule.HandlerRegistry
	activator Activator
	hooks     *HookDispatcher
	resolver  *DependencyResolver
	discovery *Discovery

	mu       sync.RWMutex
	plugins  map[string]*Plugin
	contexts map[string]*capability.Context
	locks    map[string]*sync.Mutex
}

// ManagerOptions carries the collaborators a Manager needs.
type ManagerOptions struct {
	Caller    host.Caller
	Loader    *manifest.Loader
	Verifier  *security.SignatureVerifier
	Guard     *security.PermissionGuard
	Limiter   *security.RateLimiter
	Bus       *bus.Bus
	Registry  *registry.Registry
	Builder   *capability.Builder
	Handlers  *schedule.HandlerRegistry
	Activator Activator
}

// NewManager creates a plugin manager.
func NewManager(logger zerolog.Logger, opts ManagerOptions) *Manager {
	return &Manager{
		logger:    logger.With().Str("component", "plugin-manager").Logger(),
		caller:    opts.Caller,
		loader:    opts.Loader,
		verifier:  opts.Verifier,
		guard:     opts.Guard,
		limiter:   opts.Limiter,
		bus:       opts.Bus,
		registry:  opts.Registry,
		builder:   opts.Builder,
		handlers:  opts.Handlers,
		activator: opts.Activator,
		hooks:     NewHookDispatcher(logger),
		resolver:  NewDependencyResolver(logger),
		discovery: NewDiscovery(logger, opts.Loader),
		plugins:   make(map[string]*Plugin),
		contexts:  make(map[string]*capability.Context),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-plugin transition lock, creating it on first use.
// Locks are never removed; a stale entry for an uninstalled plugin is a few
// bytes, not a correctness problem.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Discover scans the plugin directories and records every valid package not
// already known. Discovery installs directly; there is no awaiting-approval
// state. Packages with invalid manifests produce no record, and packages
// failing their trust policy are skipped with a warning rather than erroring
// the scan.
func (m *Manager) Discover(ctx context.Context, dirs []string) []*Plugin {
	found := m.discovery.Scan(dirs)

	var added []*Plugin
	for _, d := range found {
		id := d.Manifest.ID

		data, err := os.ReadFile(d.ManifestPath)
		if err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Failed to read discovered manifest")
			continue
		}
		if _, err := m.verifier.VerifyPackage(d.Path, data); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Discovered plugin failed verification, skipping")
			continue
		}

		lock := m.lockFor(id)
		lock.Lock()

		m.mu.Lock()
		if _, exists := m.plugins[id]; exists {
			m.mu.Unlock()
			lock.Unlock()
			continue
		}
		p := &Plugin{
			Manifest:    *d.Manifest,
			Path:        d.Path,
			Source:      SourceLocal,
			Status:      StatusInstalled,
			InstalledAt: time.Now(),
		}
		m.plugins[id] = p
		m.mu.Unlock()
		lock.Unlock()

		added = append(added, snapshot(p))
		m.logger.Info().Str("plugin", id).Msg("Plugin discovered and installed")
		m.emit(ctx, EventInstalled, p)
	}
	return added
}

// Install places and records the plugin package at path. File placement is
// delegated to the host, which may relocate the package; validation and
// signature verification run against the placed files. A package failing
// its trust policy is never recorded. Installing over an inactive existing
// record upgrades it in place.
func (m *Manager) Install(ctx context.Context, path string, opts InstallOptions) (*Plugin, error) {
	source := opts.Source
	if source == "" {
		source = SourceLocal
	}
	if !ValidSources[source] {
		return nil, fmt.Errorf("unknown install source: %s", source)
	}

	res, err := m.caller.Call(ctx, "plugins.install", host.Args{
		"path":   path,
		"source": string(source),
	})
	if err != nil {
		return nil, fmt.Errorf("host install failed: %w", err)
	}
	if placed, ok := res["path"].(string); ok && placed != "" {
		path = placed
	}

	manifestPath := filepath.Join(path, manifest.FileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	mf, err := m.loader.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	result, err := m.verifier.VerifyPackage(path, data)
	if err != nil {
		return nil, fmt.Errorf("plugin %s rejected: %w", mf.ID, err)
	}

	if opts.Config != nil {
		if err := m.loader.ValidateConfig(mf, opts.Config); err != nil {
			return nil, fmt.Errorf("invalid plugin config: %w", err)
		}
	}

	lock := m.lockFor(mf.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if existing, exists := m.plugins[mf.ID]; exists && existing.Active() {
		m.mu.Unlock()
		return nil, &InvalidTransitionError{PluginID: mf.ID, From: existing.Status, Op: "install"}
	}
	p := &Plugin{
		Manifest:    *mf,
		Path:        path,
		Source:      source,
		Status:      StatusInstalled,
		Config:      opts.Config,
		InstalledAt: time.Now(),
	}
	m.plugins[mf.ID] = p
	m.mu.Unlock()

	m.logger.Info().
		Str("plugin", mf.ID).
		Str("version", mf.Version).
		Bool("verified", result.Verified).
		Msg("Plugin installed")
	m.emit(ctx, EventInstalled, p)
	return snapshot(p), nil
}

// Load activates an installed, unloaded, or disabled plugin: the package
// signature is re-verified, permissions are registered, the capability
// context is built, and the entry point runs. Loading a disabled plugin
// tears down its existing context and rebuilds it. A failing activation
// moves the plugin to the error state.
func (m *Manager) Load(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.loadLocked(ctx, id)
}

func (m *Manager) loadLocked(ctx context.Context, id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if p.Status != StatusInstalled && p.Status != StatusUnloaded && p.Status != StatusDisabled {
		return &InvalidTransitionError{PluginID: id, From: p.Status, Op: "load"}
	}

	// The package may have changed on disk since install.
	data, err := os.ReadFile(filepath.Join(p.Path, manifest.FileName))
	if err != nil {
		m.fail(ctx, p, fmt.Errorf("failed to read manifest: %w", err))
		return fmt.Errorf("failed to load plugin %s: %w", id, err)
	}
	if _, err := m.verifier.VerifyPackage(p.Path, data); err != nil {
		m.fail(ctx, p, err)
		return fmt.Errorf("failed to load plugin %s: %w", id, err)
	}

	// Loading a disabled plugin replaces its live context wholesale.
	if p.Status == StatusDisabled {
		if err := m.activator.Deactivate(ctx, p); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Plugin deactivation reported error")
		}
		m.teardown(ctx, id)
	}

	m.guard.RegisterPlugin(id, p.Manifest.Permissions)
	capCtx := m.builder.Build(id, p.Path, p.Config)

	hooks, err := m.activator.Activate(ctx, p)
	if err != nil {
		capCtx.Destroy(ctx)
		m.fail(ctx, p, fmt.Errorf("activation failed: %w", err))
		return fmt.Errorf("failed to load plugin %s: %w", id, err)
	}
	m.hooks.RegisterAll(id, hooks)

	m.mu.Lock()
	m.contexts[id] = capCtx
	p.Status = StatusLoaded
	p.Error = ""
	m.mu.Unlock()

	m.logger.Info().Str("plugin", id).Msg("Plugin loaded")
	m.emit(ctx, EventLoaded, p)
	return nil
}

// LoadAll loads every installed plugin in dependency order. Plugins whose
// dependencies are missing or incompatible are moved to the error state and
// skipped; one bad plugin never blocks the rest.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.RLock()
	manifests := make(map[string]*manifest.Manifest)
	for id, p := range m.plugins {
		if p.Status == StatusInstalled || p.Status == StatusUnloaded {
			mf := p.Manifest
			manifests[id] = &mf
		}
	}
	m.mu.RUnlock()

	graph := m.resolver.BuildGraph(manifests)
	depErrors := m.resolver.Validate(graph)
	for id, err := range depErrors {
		lock := m.lockFor(id)
		lock.Lock()
		if p, getErr := m.get(id); getErr == nil {
			m.fail(ctx, p, err)
		}
		lock.Unlock()
		delete(graph.Nodes, id)
		delete(graph.Edges, id)
	}

	order, err := m.resolver.LoadOrder(graph)
	if err != nil {
		return fmt.Errorf("failed to compute load order: %w", err)
	}

	for _, id := range order {
		if err := m.Load(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("plugin", id).Msg("Plugin failed to load")
		}
	}
	return nil
}

// Enable registers the plugin's declared contributions and makes it active.
// A plugin that is still installed (or unloaded) is loaded first. Enabling
// an already enabled plugin is a no-op.
func (m *Manager) Enable(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.get(id)
	if err != nil {
		return err
	}
	if p.Status == StatusEnabled {
		return nil
	}
	if p.Status == StatusInstalled || p.Status == StatusUnloaded {
		if err := m.loadLocked(ctx, id); err != nil {
			return err
		}
	}
	if p.Status != StatusLoaded && p.Status != StatusDisabled {
		return &InvalidTransitionError{PluginID: id, From: p.Status, Op: "enable"}
	}

	if err := m.registerContributions(p); err != nil {
		return fmt.Errorf("failed to enable plugin %s: %w", id, err)
	}

	m.mu.Lock()
	p.Status = StatusEnabled
	m.mu.Unlock()

	m.logger.Info().Str("plugin", id).Msg("Plugin enabled")
	m.emit(ctx, EventEnabled, p)
	return nil
}

// Disable withdraws the plugin's contributions before it leaves the enabled
// state. Disabling an already disabled plugin is a no-op.
func (m *Manager) Disable(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.disableLocked(ctx, id)
}

func (m *Manager) disableLocked(ctx context.Context, id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if p.Status == StatusDisabled {
		return nil
	}
	if p.Status != StatusEnabled {
		return &InvalidTransitionError{PluginID: id, From: p.Status, Op: "disable"}
	}

	removed := m.registry.UnregisterByPlugin(id)

	m.mu.Lock()
	p.Status = StatusDisabled
	m.mu.Unlock()

	m.logger.Info().
		Str("plugin", id).
		Int("contributions", len(removed)).
		Msg("Plugin disabled")
	m.emit(ctx, EventDisabled, p)
	return nil
}

// Unload deactivates the plugin and tears down everything it registered:
// contributions, bus subscriptions, scheduler handlers, lifecycle hooks,
// and capability disposers. An enabled plugin is disabled first.
func (m *Manager) Unload(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	return m.unloadLocked(ctx, id)
}

func (m *Manager) unloadLocked(ctx context.Context, id string) error {
	p, err := m.get(id)
	if err != nil {
		return err
	}
	if p.Status == StatusEnabled {
		if err := m.disableLocked(ctx, id); err != nil {
			return err
		}
	}
	if p.Status != StatusLoaded && p.Status != StatusDisabled {
		return &InvalidTransitionError{PluginID: id, From: p.Status, Op: "unload"}
	}

	if err := m.activator.Deactivate(ctx, p); err != nil {
		m.logger.Warn().Err(err).Str("plugin", id).Msg("Plugin deactivation reported error")
	}
	m.teardown(ctx, id)

	m.mu.Lock()
	p.Status = StatusUnloaded
	m.mu.Unlock()

	m.logger.Info().Str("plugin", id).Msg("Plugin unloaded")
	m.emit(ctx, EventUnloaded, p)
	return nil
}

// Uninstall removes the plugin entirely: the package files go through a
// host removal call, then the record and its permission grants are dropped.
// An active plugin is unloaded first; uninstall is terminal. A failed
// removal leaves the plugin unloaded so the call can be retried.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.get(id)
	if err != nil {
		return err
	}
	if p.Active() {
		if err := m.unloadLocked(ctx, id); err != nil {
			return err
		}
	}

	if _, err := m.caller.Call(ctx, "plugins.remove", host.Args{
		"pluginId": id,
		"path":     p.Path,
	}); err != nil {
		return fmt.Errorf("host removal failed for plugin %s: %w", id, err)
	}

	m.guard.UnregisterPlugin(id)

	m.mu.Lock()
	delete(m.plugins, id)
	m.mu.Unlock()

	m.logger.Info().Str("plugin", id).Msg("Plugin uninstalled")
	m.emit(ctx, EventUninstalled, p)
	return nil
}

// SetConfig validates and stores new plugin configuration. The new config
// takes effect on the next load.
func (m *Manager) SetConfig(id string, config map[string]any) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := m.get(id)
	if err != nil {
		return err
	}
	if err := m.loader.ValidateConfig(&p.Manifest, config); err != nil {
		return fmt.Errorf("invalid plugin config: %w", err)
	}

	m.mu.Lock()
	p.Config = config
	m.mu.Unlock()
	return nil
}

// GetPlugin returns a copy of the plugin record.
func (m *Manager) GetPlugin(id string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return snapshot(p), nil
}

// ListPlugins returns copies of every plugin record, sorted by ID.
func (m *Manager) ListPlugins() []*Plugin {
	m.mu.RLock()
	out := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, snapshot(p))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Context returns the live capability context of an active plugin.
func (m *Manager) Context(id string) (*capability.Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contexts[id]
	return c, ok
}

// Hooks exposes the lifecycle hook dispatcher.
func (m *Manager) Hooks() *HookDispatcher {
	return m.hooks
}

// Shutdown unloads every active plugin. Best effort; errors are logged.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, p := range m.ListPlugins() {
		if !p.Active() {
			continue
		}
		if err := m.Unload(ctx, p.ID()); err != nil {
			m.logger.Warn().Err(err).Str("plugin", p.ID()).Msg("Failed to unload plugin during shutdown")
		}
	}
}

// get returns the live record; callers must hold the plugin's lock for
// mutations.
func (m *Manager) get(id string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return p, nil
}

// registerContributions registers the manifest's declared tools, modes, and
// commands. Any collision rolls back what this call registered.
func (m *Manager) registerContributions(p *Plugin) error {
	var registered []registry.Contribution

	add := func(c registry.Contribution) error {
		if err := m.registry.Register(c); err != nil {
			return err
		}
		registered = append(registered, c)
		return nil
	}

	rollback := func() {
		for _, c := range registered {
			m.registry.Unregister(c.Kind, c.Name)
		}
	}

	id := p.ID()
	for _, tool := range p.Manifest.Tools {
		if err := add(registry.Contribution{Kind: registry.KindTool, Name: tool.Name, PluginID: id, Spec: tool}); err != nil {
			rollback()
			return err
		}
	}
	for _, mode := range p.Manifest.Modes {
		if err := add(registry.Contribution{Kind: registry.KindMode, Name: mode.ID, PluginID: id, Spec: mode}); err != nil {
			rollback()
			return err
		}
	}
	for _, cmd := range p.Manifest.Commands {
		if err := add(registry.Contribution{Kind: registry.KindCommand, Name: cmd.ID, PluginID: id, Spec: cmd}); err != nil {
			rollback()
			return err
		}
	}
	return nil
}

// teardown removes every side effect of a loaded plugin.
func (m *Manager) teardown(ctx context.Context, id string) {
	m.mu.Lock()
	capCtx := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()

	if capCtx != nil {
		capCtx.Destroy(ctx)
	}
	m.bus.OffAll(id)
	m.handlers.UnregisterPlugin(id)
	m.hooks.UnregisterPlugin(id)
	m.limiter.ResetPlugin(id)
}

// fail moves a plugin to the error state.
func (m *Manager) fail(ctx context.Context, p *Plugin, err error) {
	m.mu.Lock()
	p.Status = StatusError
	p.Error = err.Error()
	m.mu.Unlock()

	m.logger.Error().Err(err).Str("plugin", p.ID()).Msg("Plugin failed")
	m.emit(ctx, EventFailed, p)
}

// emit publishes the lifecycle event on the bus and fans it out to
// registered hooks.
func (m *Manager) emit(ctx context.Context, event string, p *Plugin) {
	data := map[string]any{
		"pluginId": p.ID(),
		"version":  p.Manifest.Version,
		"status":   string(p.Status),
	}
	m.bus.EmitSystem(event, data)
	m.hooks.Dispatch(ctx, event, data)
}
