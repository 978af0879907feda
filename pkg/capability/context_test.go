package capability

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaori/plughost/pkg/bus"
	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
	"github.com/kaori/plughost/pkg/schedule"
	"github.com/kaori/plughost/pkg/security"
)

type testHarness struct {
	recorder *host.Recorder
	guard    *security.PermissionGuard
	limiter  *security.RateLimiter
	bus      *bus.Bus
	ctx      *Context
}

func newHarness(t *testing.T, perms []manifest.Permission, limits security.RateLimits) *testHarness {
	t.Helper()

	recorder := host.NewRecorder()
	guard := security.NewPermissionGuard(zerolog.Nop())
	guard.RegisterPlugin("p1", perms)

	limiter := security.NewRateLimiter(limits)
	t.Cleanup(limiter.Stop)

	b := bus.New(zerolog.Nop())
	store := schedule.NewMemoryStore()
	handlers := schedule.NewHandlerRegistry()
	runner := schedule.NewRunner(zerolog.Nop(), store, handlers)
	t.Cleanup(runner.Stop)

	builder := NewBuilder(zerolog.Nop(), BuilderOptions{
		Caller:   recorder,
		Limiter:  limiter,
		Guard:    guard,
		Bus:      b,
		Store:    store,
		Handlers: handlers,
		Runner:   runner,
		DataRoot: t.TempDir(),
	})

	return &testHarness{
		recorder: recorder,
		guard:    guard,
		limiter:  limiter,
		bus:      b,
		ctx:      builder.Build("p1", "/plugins/p1", nil),
	}
}

func generousLimits() security.RateLimits {
	return security.RateLimits{Default: 1000, WindowDur: time.Minute}
}

func allPermissions() []manifest.Permission {
	var perms []manifest.Permission
	for p := range manifest.ValidPermissions {
		perms = append(perms, p)
	}
	return perms
}

func TestGateOrdering(t *testing.T) {
	t.Run("permission checked after the limiter, host never called", func(t *testing.T) {
		h := newHarness(t, nil, security.RateLimits{Default: 1, WindowDur: time.Minute})

		_, err := h.ctx.Filesystem.ReadFile(context.Background(), "data/x")
		assert.ErrorIs(t, err, security.ErrPermissionDenied)

		// The rejected call still consumed rate-limit quota.
		_, err = h.ctx.Filesystem.ReadFile(context.Background(), "data/x")
		assert.ErrorIs(t, err, security.ErrRateLimited)

		assert.Empty(t, h.recorder.Calls())
	})

	t.Run("rate-limited call never reaches the host", func(t *testing.T) {
		h := newHarness(t, allPermissions(), security.RateLimits{Default: 1, WindowDur: time.Minute})

		_, err := h.ctx.Filesystem.ReadFile(context.Background(), "data/x")
		require.NoError(t, err)

		_, err = h.ctx.Filesystem.ReadFile(context.Background(), "data/x")
		assert.ErrorIs(t, err, security.ErrRateLimited)

		assert.Len(t, h.recorder.CallsFor("fs.read"), 1)
	})

	t.Run("plugin id is injected into every host call", func(t *testing.T) {
		h := newHarness(t, allPermissions(), generousLimits())

		_, err := h.ctx.Clipboard.ReadText(context.Background())
		require.NoError(t, err)

		calls := h.recorder.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "p1", calls[0].Args["pluginId"])
	})
}

func TestFilesystemScoping(t *testing.T) {
	h := newHarness(t, allPermissions(), generousLimits())
	fs := h.ctx.Filesystem

	t.Run("scoped paths resolve under the plugin root", func(t *testing.T) {
		_, err := fs.ReadFile(context.Background(), "data/notes.txt")
		require.NoError(t, err)

		calls := h.recorder.CallsFor("fs.read")
		require.Len(t, calls, 1)
		path, _ := calls[0].Args["path"].(string)
		assert.Contains(t, path, "p1")
		assert.Contains(t, path, "data")
		assert.Contains(t, path, "notes.txt")
	})

	t.Run("unscoped path rejected", func(t *testing.T) {
		_, err := fs.ReadFile(context.Background(), "secrets.txt")
		assert.Error(t, err)
	})

	t.Run("traversal out of the root rejected", func(t *testing.T) {
		_, err := fs.ReadFile(context.Background(), "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("traversal between scopes is normalized", func(t *testing.T) {
		err := fs.WriteFile(context.Background(), "data/../cache/blob", []byte("x"))
		require.NoError(t, err)

		calls := h.recorder.CallsFor("fs.write")
		require.Len(t, calls, 1)
		path, _ := calls[0].Args["path"].(string)
		assert.Contains(t, path, "cache")
	})

	t.Run("rejections never reach the host", func(t *testing.T) {
		before := len(h.recorder.Calls())
		_, err := fs.ReadFile(context.Background(), "/etc/hosts")
		assert.Error(t, err)
		assert.Len(t, h.recorder.Calls(), before)
	})
}

func TestDestroyRunsDisposersInReverseOrder(t *testing.T) {
	h := newHarness(t, allPermissions(), generousLimits())
	ctx := context.Background()

	h.recorder.Respond("shortcuts.register", host.Result{"shortcutId": "s1"})
	_, err := h.ctx.Shortcuts.Register(ctx, "cmd+k", "palette.open")
	require.NoError(t, err)

	h.recorder.Respond("shortcuts.register", host.Result{"shortcutId": "s2"})
	_, err = h.ctx.Shortcuts.Register(ctx, "cmd+p", "files.open")
	require.NoError(t, err)

	h.ctx.Destroy(ctx)

	unregisters := h.recorder.CallsFor("shortcuts.unregister")
	require.Len(t, unregisters, 2)
	assert.Equal(t, "s2", unregisters[0].Args["shortcutId"])
	assert.Equal(t, "s1", unregisters[1].Args["shortcutId"])
}

func TestDisposerRemovesSingleRegistration(t *testing.T) {
	h := newHarness(t, allPermissions(), generousLimits())
	ctx := context.Background()

	h.recorder.Respond("contextmenu.add", host.Result{"itemId": "m1"})
	dispose, err := h.ctx.ContextMenu.AddItem(ctx, MenuItem{Label: "Open", Command: "files.open"})
	require.NoError(t, err)

	require.NoError(t, dispose(ctx))

	removes := h.recorder.CallsFor("contextmenu.remove")
	require.Len(t, removes, 1)
	assert.Equal(t, "m1", removes[0].Args["itemId"])
	assert.Equal(t, "p1", removes[0].Args["pluginId"])
}

func TestMessaging(t *testing.T) {
	t.Run("requires the messaging permission", func(t *testing.T) {
		h := newHarness(t, nil, generousLimits())

		_, err := h.ctx.Messaging.Emit("evt", nil, nil)
		assert.ErrorIs(t, err, security.ErrPermissionDenied)

		_, err = h.ctx.Messaging.On("evt", func(bus.Event) {})
		assert.ErrorIs(t, err, security.ErrPermissionDenied)
	})

	t.Run("emits are attributed to the plugin", func(t *testing.T) {
		h := newHarness(t, allPermissions(), generousLimits())

		evt, err := h.ctx.Messaging.Emit("job:done", map[string]any{"n": 1}, nil)
		require.NoError(t, err)
		assert.Equal(t, bus.SourcePlugin, evt.Source.Kind)
		assert.Equal(t, "p1", evt.Source.ID)
	})

	t.Run("subscriptions are owned and dropped on destroy", func(t *testing.T) {
		h := newHarness(t, allPermissions(), generousLimits())

		_, err := h.ctx.Messaging.On("evt", func(bus.Event) {})
		require.NoError(t, err)
		_, err = h.ctx.Messaging.Once("evt", func(bus.Event) {})
		require.NoError(t, err)
		require.Equal(t, 2, h.bus.SubscriptionCount())

		h.ctx.Destroy(context.Background())
		assert.Equal(t, 0, h.bus.SubscriptionCount())
	})
}

func TestSchedulerHandleIsPluginScoped(t *testing.T) {
	h := newHarness(t, allPermissions(), generousLimits())

	assert.Equal(t, "p1", h.ctx.Scheduler.PluginID())
}
