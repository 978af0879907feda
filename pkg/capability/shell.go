package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/bus"
	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Shell spawns and controls host-side processes.
type Shell struct {
	gate   *gate
	events *bus.Bus
}

// SpawnOptions configures a spawned process.
type SpawnOptions struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// ExitInfo reports a process exit.
type ExitInfo struct {
	ProcessID string
	Code      int
}

// Spawn starts a process through the host and returns its handle ID.
func (s *Shell) Spawn(ctx context.Context, opts SpawnOptions) (string, error) {
	res, err := s.gate.call(ctx, "shell", manifest.PermissionShell, "shell.spawn", host.Args{
		"command": opts.Command,
		"args":    opts.Args,
		"cwd":     opts.Cwd,
		"env":     opts.Env,
	})
	if err != nil {
		return "", err
	}
	return resultString(res, "processId"), nil
}

// Kill terminates a spawned process.
func (s *Shell) Kill(ctx context.Context, processID string) error {
	_, err := s.gate.call(ctx, "shell", manifest.PermissionShell, "shell.kill", host.Args{
		"processId": processID,
	})
	return err
}

// OnExit registers a callback fired when the process exits. The host
// announces exits as system:shell:exit events; the subscription is owned
// by the plugin and cleaned up with the rest of its subscriptions on
// unload. The returned disposer removes the callback early.
func (s *Shell) OnExit(processID string, fn func(ExitInfo)) (Disposer, error) {
	if err := s.gate.guard.Require(s.gate.pluginID, manifest.PermissionShell); err != nil {
		return nil, err
	}

	sub := s.events.Once("system:shell:exit", func(e bus.Event) {
		code := 0
		if payload, ok := e.Payload.(map[string]any); ok {
			if c, err := resultInt(payload, "code"); err == nil {
				code = c
			}
		}
		fn(ExitInfo{ProcessID: processID, Code: code})
	},
		bus.WithOwner(bus.PluginSource(s.gate.pluginID)),
		bus.WithFilter(bus.Filter{Metadata: map[string]any{"processId": processID}}),
	)

	return func(context.Context) error {
		s.events.Off(sub)
		return nil
	}, nil
}
