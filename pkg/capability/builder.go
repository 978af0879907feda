package capability

import (
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/kaori/plughost/pkg/bus"
	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/schedule"
	"github.com/kaori/plughost/pkg/security"
)

// Builder assembles plugin contexts. One builder serves the whole host;
// Build is called once per plugin load. Composition is total: every field
// of the resulting Context is populated, and access control happens per
// call through the permission guard rather than by leaving handles nil.
type Builder struct {
	logger   zerolog.Logger
	caller   host.Caller
	limiter  *security.RateLimiter
	guard    *security.PermissionGuard
	bus      *bus.Bus
	store    schedule.TaskStore
	handlers *schedule.HandlerRegistry
	runner   *schedule.Runner
	aiConfig AIConfig
	dataRoot string // per-plugin scoped dirs live under <dataRoot>/<pluginID>
}

// BuilderOptions carries the collaborators a Builder needs.
type BuilderOptions struct {
	Caller   host.Caller
	Limiter  *security.RateLimiter
	Guard    *security.PermissionGuard
	Bus      *bus.Bus
	Store    schedule.TaskStore
	Handlers *schedule.HandlerRegistry
	Runner   *schedule.Runner
	AIConfig AIConfig
	DataRoot string
}

// NewBuilder creates a context builder.
func NewBuilder(logger zerolog.Logger, opts BuilderOptions) *Builder {
	return &Builder{
		logger:   logger.With().Str("component", "context-builder").Logger(),
		caller:   opts.Caller,
		limiter:  opts.Limiter,
		guard:    opts.Guard,
		bus:      opts.Bus,
		store:    opts.Store,
		handlers: opts.Handlers,
		runner:   opts.Runner,
		aiConfig: opts.AIConfig,
		dataRoot: opts.DataRoot,
	}
}

// Build assembles a fresh Context for one plugin load.
func (b *Builder) Build(pluginID, pluginPath string, config map[string]any) *Context {
	g := &gate{
		pluginID: pluginID,
		limiter:  b.limiter,
		guard:    b.guard,
		caller:   b.caller,
		logger:   b.logger.With().Str("plugin", pluginID).Logger(),
	}

	dirs := ScopedDirs{
		Data:  filepath.Join(b.dataRoot, pluginID, "data"),
		Cache: filepath.Join(b.dataRoot, pluginID, "cache"),
		Temp:  filepath.Join(b.dataRoot, pluginID, "temp"),
	}

	ctx := &Context{
		PluginID:   pluginID,
		PluginPath: pluginPath,
		Config:     config,

		Network:     &Network{gate: g},
		Filesystem:  &Filesystem{gate: g, dirs: dirs},
		Clipboard:   &Clipboard{gate: g},
		Shell:       &Shell{gate: g, events: b.bus},
		Database:    &Database{gate: g},
		Shortcuts:   &Shortcuts{gate: g, disposerSet: disposerSet{logger: g.logger}},
		ContextMenu: &ContextMenu{gate: g, disposerSet: disposerSet{logger: g.logger}},
		Windows:     &Windows{gate: g, disposerSet: disposerSet{logger: g.logger}},
		Secrets:     &Secrets{gate: g},
	}

	b.layerExtended(ctx, g)

	b.logger.Debug().Str("plugin", pluginID).Msg("Built plugin context")
	return ctx
}

// layerExtended merges the extended capability surface onto a base context.
func (b *Builder) layerExtended(ctx *Context, g *gate) {
	ctx.Session = &Session{gate: g}
	ctx.Project = &Project{gate: g}
	ctx.Vectors = &Vectors{gate: g}
	ctx.Theme = &Theme{gate: g}
	ctx.Export = &Export{gate: g}
	ctx.I18n = &I18n{gate: g}
	ctx.Canvas = &Canvas{gate: g}
	ctx.Notifications = &Notifications{gate: g}
	ctx.AI = newAI(g, b.aiConfig)
	ctx.Permissions = &Permissions{pluginID: g.pluginID, guard: b.guard}
	ctx.Scheduler = schedule.NewBridge(b.logger, g.pluginID, b.store, b.handlers, b.runner)
	ctx.Messaging = &Messaging{pluginID: g.pluginID, bus: b.bus, guard: b.guard}
}
