// Package capability assembles the per-plugin API surface. Every base
// capability method runs the same gauntlet: rate limiter first, then
// permission guard, then the privileged host call. Register-style methods
// return a disposer closure that reverses exactly the side effect they
// created; honoring that closure is the only disposal contract in the
// system.
package capability

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/schedule"
	"github.com/kaori/plughost/pkg/security"
)

// Disposer reverses the side effect of the registration that returned it.
type Disposer func(ctx context.Context) error

// Context is the bundle of capability handles a plugin receives at load
// time. It is created fresh on every load, owned by the manager for the
// plugin's loaded lifetime, and destroyed on unload. After Build all
// fields are populated; extended handles are non-nil but permission-gated.
type Context struct {
	PluginID   string
	PluginPath string
	Config     map[string]any

	Network     *Network
	Filesystem  *Filesystem
	Clipboard   *Clipboard
	Shell       *Shell
	Database    *Database
	Shortcuts   *Shortcuts
	ContextMenu *ContextMenu
	Windows     *Windows
	Secrets     *Secrets

	// Extended surface.
	Session       *Session
	Project       *Project
	Vectors       *Vectors
	Theme         *Theme
	Export        *Export
	I18n          *I18n
	Canvas        *Canvas
	Notifications *Notifications
	AI            *AI
	Permissions   *Permissions
	Scheduler     *schedule.Bridge
	Messaging     *Messaging
}

// Destroy releases everything the context allocated: live disposers are
// invoked in reverse registration order and messaging subscriptions are
// dropped.
func (c *Context) Destroy(ctx context.Context) {
	for _, cap := range []interface{ disposeAll(context.Context) }{
		c.Shortcuts, c.ContextMenu, c.Windows,
	} {
		cap.disposeAll(ctx)
	}
	c.Messaging.OffAll()
}

// gate is the shared per-call bookkeeping every capability runs through.
type gate struct {
	pluginID string
	limiter  *security.RateLimiter
	guard    *security.PermissionGuard
	caller   host.Caller
	logger   zerolog.Logger
}

// call admits one operation through the rate limiter and permission guard,
// then delegates to the host. Rate-limit and permission rejections happen
// before any host call is issued.
func (g *gate) call(ctx context.Context, class string, perm manifest.Permission, command string, args host.Args) (host.Result, error) {
	if err := g.limiter.Allow(g.pluginID, class); err != nil {
		return nil, err
	}
	if err := g.guard.Require(g.pluginID, perm); err != nil {
		return nil, err
	}
	if args == nil {
		args = host.Args{}
	}
	args["pluginId"] = g.pluginID
	return g.caller.Call(ctx, command, args)
}

// disposerSet tracks the live disposers of one capability so Destroy can
// reverse whatever the plugin left registered.
type disposerSet struct {
	logger    zerolog.Logger
	disposers []Disposer
}

func (d *disposerSet) track(fn Disposer) Disposer {
	d.disposers = append(d.disposers, fn)
	return fn
}

func (d *disposerSet) disposeAll(ctx context.Context) {
	for i := len(d.disposers) - 1; i >= 0; i-- {
		if err := d.disposers[i](ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Disposer failed during context teardown")
		}
	}
	d.disposers = nil
}

func resultString(res host.Result, key string) string {
	if v, ok := res[key].(string); ok {
		return v
	}
	return ""
}

func resultInt(res host.Result, key string) (int, error) {
	switch v := res[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("host result field %q is not a number", key)
	}
}
