// Package daemon assembles and runs the plugin host: one message bus, one
// scheduler, one security layer, and the plugin manager on top of them.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kaori/plughost/internal/config"
	"github.com/kaori/plughost/internal/logger"
	"github.com/kaori/plughost/internal/metrics"
	"github.com/kaori/plughost/pkg/bus"
	"github.com/kaori/plughost/pkg/capability"
	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/plugin"
	"github.com/kaori/plughost/pkg/registry"
	"github.com/kaori/plughost/pkg/schedule"
	"github.com/kaori/plughost/pkg/security"
)

var pluginEventPattern = regexp.MustCompile(`^system:plugin:`)

// Daemon is the running plugin host.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	bus        *bus.Bus
	guard      *security.PermissionGuard
	limiter    *security.RateLimiter
	verifier   *security.SignatureVerifier
	registry   *registry.Registry
	loader     *manifest.Loader
	store      schedule.TaskStore
	handlers   *schedule.HandlerRegistry
	runner     *schedule.Runner
	dispatcher *schedule.Dispatcher
	builder    *capability.Builder
	scripts    *plugin.ScriptActivator
	manager    *plugin.Manager
	metrics    *metrics.Metrics
	metricsSv  *http.Server
	stopWatch  func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// Options tunes daemon construction.
type Options struct {
	// Caller bridges privileged capability calls to the host surface. When
	// nil, capability calls fail until a surface attaches.
	Caller host.Caller
}

// New creates a daemon from configuration.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	zl := log.GetZerolog()

	caller := opts.Caller
	if caller == nil {
		caller = newLocalSurface(zl, cfg.PluginDirs)
	}

	b := bus.New(zl, bus.WithMaxHistory(cfg.Bus.HistorySize))
	guard := security.NewPermissionGuard(zl)
	limiter := security.NewRateLimiter(security.RateLimits{
		Default:   cfg.RateLimits.Default,
		PerClass:  cfg.RateLimits.PerClass,
		WindowDur: cfg.RateLimits.Window(),
	})
	verifier := security.NewSignatureVerifier(zl, security.TrustPolicy{
		RequireSignatures: cfg.Security.RequireSignatures,
		AllowUntrusted:    cfg.Security.AllowUntrusted,
	}, []byte(cfg.Security.SigningSecret))

	var store schedule.TaskStore
	if cfg.Scheduler.StorePath != "" {
		sqlStore, err := schedule.NewSQLiteStore(cfg.Scheduler.StorePath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to open scheduler store: %w", err)
		}
		store = sqlStore
	} else {
		store = schedule.NewMemoryStore()
	}

	handlers := schedule.NewHandlerRegistry()
	runner := schedule.NewRunner(zl, store, handlers)
	dispatcher := schedule.NewDispatcher(zl, store, runner)

	builder := capability.NewBuilder(zl, capability.BuilderOptions{
		Caller:   caller,
		Limiter:  limiter,
		Guard:    guard,
		Bus:      b,
		Store:    store,
		Handlers: handlers,
		Runner:   runner,
		AIConfig: capability.AIConfig{
			AnthropicAPIKey: cfg.AI.AnthropicAPIKey,
			OpenAIAPIKey:    cfg.AI.OpenAIAPIKey,
			DefaultModel:    cfg.AI.DefaultModel,
		},
		DataRoot: cfg.DataDir,
	})

	loader := manifest.NewLoader(zl)
	scripts := plugin.NewScriptActivator(zl)
	activator := &plugin.TypedActivator{
		Host:   plugin.NewHostActivator(zl, caller),
		Script: scripts,
	}

	reg := registry.New()
	manager := plugin.NewManager(zl, plugin.ManagerOptions{
		Caller:    caller,
		Loader:    loader,
		Verifier:  verifier,
		Guard:     guard,
		Limiter:   limiter,
		Bus:       b,
		Registry:  reg,
		Builder:   builder,
		Handlers:  handlers,
		Activator: activator,
	})

	return &Daemon{
		config:     cfg,
		logger:     log,
		bus:        b,
		guard:      guard,
		limiter:    limiter,
		verifier:   verifier,
		registry:   reg,
		loader:     loader,
		store:      store,
		handlers:   handlers,
		runner:     runner,
		dispatcher: dispatcher,
		builder:    builder,
		scripts:    scripts,
		manager:    manager,
		metrics:    metrics.NewMetrics(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Manager exposes the plugin manager.
func (d *Daemon) Manager() *plugin.Manager {
	return d.manager
}

// Bus exposes the message bus.
func (d *Daemon) Bus() *bus.Bus {
	return d.bus
}

// Registry exposes the contribution registry.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// Start discovers, installs, and activates plugins, then watches the plugin
// directories for changes.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	d.logger.Info().
		Strs("plugin_dirs", d.config.PluginDirs).
		Msg("Starting plugin host")

	d.observeMetrics()
	if d.config.Metrics.Enabled {
		if err := d.serveMetrics(); err != nil {
			d.logger.Warn().Err(err).Msg("Metrics endpoint unavailable")
		}
	}

	d.bus.EmitSystem("system:host:starting", nil)

	// Time-based triggers run off the dispatcher's scan loop; event triggers
	// run off bus traffic.
	d.dispatcher.Start()
	d.bus.On("*", func(e bus.Event) {
		d.dispatcher.DispatchEvent(e.Type, e.Source.ID)
	}, bus.WithOwner(bus.Source{Kind: bus.SourceSystem, ID: "task-dispatcher"}))

	d.syncPlugins()

	discovery := plugin.NewDiscovery(d.logger.GetZerolog(), d.loader)
	stop, err := discovery.Watch(d.config.PluginDirs, func() {
		d.syncPlugins()
	})
	if err != nil {
		d.logger.Warn().Err(err).Msg("Hot discovery unavailable")
	} else {
		d.stopWatch = stop
	}

	d.bus.EmitSystem("system:host:ready", nil)
	d.logger.Info().Msg("Plugin host started")
	return nil
}

// syncPlugins discovers new packages (discovery installs directly), loads in
// dependency order, and enables. Failures are per-plugin.
func (d *Daemon) syncPlugins() {
	d.manager.Discover(d.ctx, d.config.PluginDirs)

	if err := d.manager.LoadAll(d.ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Plugin load pass failed")
	}

	for _, p := range d.manager.ListPlugins() {
		if p.Status != plugin.StatusLoaded {
			continue
		}
		if d.config.IsPluginDisabled(p.ID()) {
			continue
		}
		if err := d.manager.Enable(d.ctx, p.ID()); err != nil {
			d.logger.Warn().Err(err).Str("plugin", p.ID()).Msg("Plugin enable failed")
		}
	}
}

// observeMetrics keeps the host metrics current from bus traffic and the
// security and scheduler rejection paths.
func (d *Daemon) observeMetrics() {
	owner := bus.Source{Kind: bus.SourceSystem, ID: "host-metrics"}

	d.runner.OnFinish(func(e *schedule.Execution) {
		d.metrics.TaskExecutionsTotal.WithLabelValues(string(e.Status)).Inc()
	})
	d.limiter.OnReject(func(pluginID, class string) {
		d.metrics.RateLimitRejectionsTotal.WithLabelValues(class).Inc()
	})
	d.guard.OnDeny(func(pluginID string, perm manifest.Permission) {
		d.metrics.PermissionRejectionsTotal.WithLabelValues(string(perm)).Inc()
	})

	d.bus.On("*", func(e bus.Event) {
		d.metrics.BusEventsTotal.WithLabelValues(string(e.Source.Kind)).Inc()
		d.metrics.BusSubscriptionsTotal.Set(float64(d.bus.SubscriptionCount()))
	}, bus.WithOwner(owner))

	d.bus.OnPattern(pluginEventPattern, func(e bus.Event) {
		d.metrics.PluginTransitionsTotal.WithLabelValues(e.Type).Inc()
		if e.Type == plugin.EventFailed {
			d.metrics.PluginErrorsTotal.Inc()
		}

		active := 0
		for _, p := range d.manager.ListPlugins() {
			if p.Active() {
				active++
			}
		}
		d.metrics.PluginsActive.Set(float64(active))
	}, bus.WithOwner(owner))
}

// serveMetrics exposes the Prometheus endpoint.
func (d *Daemon) serveMetrics() error {
	addr := net.JoinHostPort(d.config.Metrics.Host, strconv.Itoa(d.config.Metrics.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	d.metricsSv = &http.Server{Handler: mux}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsSv.Serve(ln); err != nil && err != http.ErrServerClosed {
			d.logger.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()

	d.logger.Info().Str("addr", addr).Msg("Metrics endpoint listening")
	return nil
}

// Run starts the daemon and blocks until a shutdown signal arrives.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-d.ctx.Done():
	}

	return d.Stop()
}

// Stop unloads every plugin and tears the host down.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info().Msg("Stopping plugin host")
	d.bus.EmitSystem("system:host:stopping", nil)

	if d.stopWatch != nil {
		if err := d.stopWatch(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to stop directory watcher")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if d.metricsSv != nil {
		if err := d.metricsSv.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to stop metrics server")
		}
	}

	d.manager.Shutdown(shutdownCtx)
	d.scripts.Stop()
	d.dispatcher.Stop()
	d.runner.Stop()
	d.limiter.Stop()

	if closer, ok := d.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to close scheduler store")
		}
	}

	d.cancel()
	d.wg.Wait()

	d.logger.Info().
		Dur("uptime", time.Since(d.startTime)).
		Msg("Plugin host stopped")
	return nil
}

// Close releases the resources a never-started daemon holds: the limiter
// and runner goroutines and the scheduler store. One-shot CLI commands use
// it; a started daemon tears down through Stop.
func (d *Daemon) Close() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.scripts.Stop()
	d.dispatcher.Stop()
	d.runner.Stop()
	d.limiter.Stop()
	if closer, ok := d.store.(interface{ Close() error }); ok {
		closer.Close()
	}
	d.cancel()
}

// Uptime reports how long the daemon has been running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

// Running reports whether the daemon has started.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}
