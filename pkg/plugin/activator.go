package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	goplugin "github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Activator runs a plugin's entry point. Frontend entry points execute in
// the host UI process; backend-script entry points run as a subprocess.
// Activate may return lifecycle hooks the plugin wants registered for its
// loaded lifetime.
type Activator interface {
	Activate(ctx context.Context, p *Plugin) (LifecycleHooks, error)
	Deactivate(ctx context.Context, p *Plugin) error
}

// HostActivator activates frontend plugins by delegating to the host UI
// process over the host call boundary.
type HostActivator struct {
	logger zerolog.Logger
	caller host.Caller
}

// NewHostActivator creates an activator for frontend entry points.
func NewHostActivator(logger zerolog.Logger, caller host.Caller) *HostActivator {
	return &HostActivator{
		logger: logger.With().Str("component", "host-activator").Logger(),
		caller: caller,
	}
}

func (a *HostActivator) Activate(ctx context.Context, p *Plugin) (LifecycleHooks, error) {
	_, err := a.caller.Call(ctx, "plugins.activate", host.Args{
		"pluginId": p.ID(),
		"path":     p.Path,
		"main":     p.Manifest.Main,
		"config":   p.Config,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to activate plugin in host: %w", err)
	}
	a.logger.Debug().Str("plugin", p.ID()).Msg("Activated frontend entry point")
	return nil, nil
}

func (a *HostActivator) Deactivate(ctx context.Context, p *Plugin) error {
	_, err := a.caller.Call(ctx, "plugins.deactivate", host.Args{
		"pluginId": p.ID(),
	})
	if err != nil {
		return fmt.Errorf("failed to deactivate plugin in host: %w", err)
	}
	return nil
}

// ScriptActivator activates backend-script plugins as subprocesses over the
// go-plugin RPC protocol. One client per activated plugin; Deactivate kills
// the subprocess.
type ScriptActivator struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[string]*goplugin.Client
}

// NewScriptActivator creates an activator for backend-script entry points.
func NewScriptActivator(logger zerolog.Logger) *ScriptActivator {
	return &ScriptActivator{
		logger:  logger.With().Str("component", "script-activator").Logger(),
		clients: make(map[string]*goplugin.Client),
	}
}

func (a *ScriptActivator) Activate(ctx context.Context, p *Plugin) (LifecycleHooks, error) {
	binPath := filepath.Join(p.Path, p.Manifest.ScriptMain)
	if _, err := os.Stat(binPath); err != nil {
		return nil, fmt.Errorf("plugin executable not found: %s", binPath)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(binPath),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense("backend")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	backend, ok := raw.(Backend)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin type")
	}

	hookEvents, err := backend.Activate(ctx, p.Config)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("plugin activation failed: %w", err)
	}

	a.mu.Lock()
	a.clients[p.ID()] = client
	a.mu.Unlock()

	hooks := make(LifecycleHooks, len(hookEvents))
	for _, event := range hookEvents {
		hooks[event] = backend.HandleEvent
	}

	a.logger.Info().
		Str("plugin", p.ID()).
		Int("hooks", len(hooks)).
		Msg("Activated backend-script entry point")
	return hooks, nil
}

func (a *ScriptActivator) Deactivate(ctx context.Context, p *Plugin) error {
	a.mu.Lock()
	client, ok := a.clients[p.ID()]
	delete(a.clients, p.ID())
	a.mu.Unlock()
	if !ok {
		return nil
	}

	if rpcClient, err := client.Client(); err == nil {
		if raw, err := rpcClient.Dispense("backend"); err == nil {
			if backend, ok := raw.(Backend); ok {
				if err := backend.Deactivate(ctx); err != nil {
					a.logger.Warn().Err(err).Str("plugin", p.ID()).Msg("Plugin deactivate reported error")
				}
			}
		}
	}
	client.Kill()
	return nil
}

// Stop kills every live subprocess. Called on host shutdown.
func (a *ScriptActivator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, client := range a.clients {
		client.Kill()
		delete(a.clients, id)
	}
}

// TypedActivator routes to the right activator per plugin type. Hybrid
// plugins activate both entry points; the backend's hooks win on name
// collision because frontend activation returns none.
type TypedActivator struct {
	Host   Activator
	Script Activator
}

func (t *TypedActivator) Activate(ctx context.Context, p *Plugin) (LifecycleHooks, error) {
	switch p.Manifest.Type {
	case manifest.TypeFrontend:
		return t.Host.Activate(ctx, p)
	case manifest.TypeBackendScript:
		return t.Script.Activate(ctx, p)
	case manifest.TypeHybrid:
		if _, err := t.Host.Activate(ctx, p); err != nil {
			return nil, err
		}
		hooks, err := t.Script.Activate(ctx, p)
		if err != nil {
			if derr := t.Host.Deactivate(ctx, p); derr != nil {
				return nil, fmt.Errorf("%w (frontend rollback also failed: %v)", err, derr)
			}
			return nil, err
		}
		return hooks, nil
	default:
		return nil, fmt.Errorf("unknown plugin type: %s", p.Manifest.Type)
	}
}

func (t *TypedActivator) Deactivate(ctx context.Context, p *Plugin) error {
	switch p.Manifest.Type {
	case manifest.TypeFrontend:
		return t.Host.Deactivate(ctx, p)
	case manifest.TypeBackendScript:
		return t.Script.Deactivate(ctx, p)
	case manifest.TypeHybrid:
		scriptErr := t.Script.Deactivate(ctx, p)
		hostErr := t.Host.Deactivate(ctx, p)
		if scriptErr != nil {
			return scriptErr
		}
		return hostErr
	default:
		return fmt.Errorf("unknown plugin type: %s", p.Manifest.Type)
	}
}
