package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture wires a store, handler registry, runner and two plugin bridges.
type fixture struct {
	store    *MemoryStore
	handlers *HandlerRegistry
	runner   *Runner
	p1, p2   *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	handlers := NewHandlerRegistry()
	runner := NewRunner(zerolog.Nop(), store, handlers)
	t.Cleanup(runner.Stop)

	return &fixture{
		store:    store,
		handlers: handlers,
		runner:   runner,
		p1:       NewBridge(zerolog.Nop(), "p1", store, handlers, runner),
		p2:       NewBridge(zerolog.Nop(), "p2", store, handlers, runner),
	}
}

func intervalSpec(name string) TaskSpec {
	return TaskSpec{
		Name:    name,
		Trigger: Trigger{Kind: TriggerInterval, IntervalMs: 60000},
		Handler: "run",
	}
}

func TestBridgeCreateTask(t *testing.T) {
	f := newFixture(t)

	t.Run("valid spec", func(t *testing.T) {
		task, err := f.p1.CreateTask(intervalSpec("sync"))
		require.NoError(t, err)

		assert.NotEmpty(t, task.ID)
		assert.Equal(t, "p1", task.Payload.PluginID)
		assert.Equal(t, TaskActive, task.Status)
		require.NotNil(t, task.NextRunAt)
		assert.WithinDuration(t, time.Now().Add(time.Minute), *task.NextRunAt, 5*time.Second)
	})

	t.Run("missing name", func(t *testing.T) {
		spec := intervalSpec("")
		_, err := f.p1.CreateTask(spec)
		assert.Error(t, err)
	})

	t.Run("missing handler", func(t *testing.T) {
		spec := intervalSpec("x")
		spec.Handler = ""
		_, err := f.p1.CreateTask(spec)
		assert.Error(t, err)
	})

	t.Run("invalid trigger", func(t *testing.T) {
		spec := intervalSpec("x")
		spec.Trigger = Trigger{Kind: TriggerCron, CronExpr: "bad"}
		_, err := f.p1.CreateTask(spec)
		assert.Error(t, err)
	})

	t.Run("event trigger has no next run", func(t *testing.T) {
		spec := intervalSpec("reactive")
		spec.Trigger = Trigger{Kind: TriggerEvent, EventType: "file:changed"}
		task, err := f.p1.CreateTask(spec)
		require.NoError(t, err)
		assert.Nil(t, task.NextRunAt)
	})
}

func TestBridgeScoping(t *testing.T) {
	f := newFixture(t)

	task, err := f.p1.CreateTask(intervalSpec("private"))
	require.NoError(t, err)

	t.Run("foreign get is a miss", func(t *testing.T) {
		_, err := f.p2.GetTask(task.ID)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("foreign update is a miss", func(t *testing.T) {
		name := "hijacked"
		_, err := f.p2.UpdateTask(task.ID, TaskPatch{Name: &name})
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("foreign delete is a miss", func(t *testing.T) {
		assert.ErrorIs(t, f.p2.DeleteTask(task.ID), ErrTaskNotFound)

		_, err := f.p1.GetTask(task.ID)
		assert.NoError(t, err)
	})

	t.Run("foreign run is a miss", func(t *testing.T) {
		_, err := f.p2.RunTaskNow(task.ID)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("list never widens", func(t *testing.T) {
		out, err := f.p2.ListTasks(TaskFilter{PluginID: "p1"})
		require.NoError(t, err)
		assert.Empty(t, out)

		out, err = f.p1.ListTasks(TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, out, 1)
	})

	t.Run("foreign execution history is a miss", func(t *testing.T) {
		_, err := f.p2.ListExecutions(task.ID, 0)
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})
}

func TestBridgeUpdateTask(t *testing.T) {
	f := newFixture(t)

	task, err := f.p1.CreateTask(intervalSpec("sync"))
	require.NoError(t, err)

	name := "sync-v2"
	status := TaskPaused
	trigger := Trigger{Kind: TriggerCron, CronExpr: "0 * * * *"}

	updated, err := f.p1.UpdateTask(task.ID, TaskPatch{
		Name:    &name,
		Status:  &status,
		Trigger: &trigger,
	})
	require.NoError(t, err)

	assert.Equal(t, "sync-v2", updated.Name)
	assert.Equal(t, TaskPaused, updated.Status)
	assert.Equal(t, TriggerCron, updated.Trigger.Kind)
	require.NotNil(t, updated.NextRunAt)

	t.Run("invalid trigger patch rejected", func(t *testing.T) {
		bad := Trigger{Kind: TriggerCron, CronExpr: "nope"}
		_, err := f.p1.UpdateTask(task.ID, TaskPatch{Trigger: &bad})
		assert.Error(t, err)
	})
}

func waitTerminal(t *testing.T, store TaskStore, execID string) *Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := store.GetExecution(execID)
		require.NoError(t, err)
		if exec.Status.IsTerminal() {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("execution never reached a terminal state")
	return nil
}

func TestRunTaskNow(t *testing.T) {
	f := newFixture(t)

	ran := make(chan map[string]any, 1)
	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		ran <- args
		return nil
	}))

	spec := intervalSpec("sync")
	spec.HandlerArgs = map[string]any{"depth": 2}
	task, err := f.p1.CreateTask(spec)
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	select {
	case args := <-ran:
		assert.Equal(t, 2, args["depth"])
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	final := waitTerminal(t, f.store, exec.ID)
	assert.Equal(t, ExecutionSuccess, final.Status)
	assert.Equal(t, 1, final.Attempt)
}

func TestRunnerRetries(t *testing.T) {
	f := newFixture(t)

	attempts := 0
	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	}))

	spec := intervalSpec("flaky")
	spec.MaxRetries = 2
	task, err := f.p1.CreateTask(spec)
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	final := waitTerminal(t, f.store, exec.ID)
	assert.Equal(t, ExecutionSuccess, final.Status)
	assert.Equal(t, 3, final.Attempt)
	assert.Equal(t, 3, attempts)
}

func TestRunnerExhaustsRetries(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		return assert.AnError
	}))

	spec := intervalSpec("doomed")
	spec.MaxRetries = 1
	task, err := f.p1.CreateTask(spec)
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	final := waitTerminal(t, f.store, exec.ID)
	assert.Equal(t, ExecutionError, final.Status)
	assert.Equal(t, 2, final.Attempt)
	assert.NotEmpty(t, final.Error)
}

func TestRunnerUnknownHandler(t *testing.T) {
	f := newFixture(t)

	task, err := f.p1.CreateTask(intervalSpec("orphan"))
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	final := waitTerminal(t, f.store, exec.ID)
	assert.Equal(t, ExecutionError, final.Status)
	assert.Contains(t, final.Error, "not registered")
}

func TestRunnerSkipsInFlight(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	task, err := f.p1.CreateTask(intervalSpec("slow"))
	require.NoError(t, err)

	first, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	second, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionCancelled, second.Status)
	assert.Contains(t, second.Error, "in flight")

	close(release)
	final := waitTerminal(t, f.store, first.ID)
	assert.Equal(t, ExecutionSuccess, final.Status)
}

func TestCancelExecution(t *testing.T) {
	f := newFixture(t)

	started := make(chan struct{})
	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	task, err := f.p1.CreateTask(intervalSpec("long"))
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	require.NoError(t, f.p1.CancelExecution(exec.ID))

	final := waitTerminal(t, f.store, exec.ID)
	assert.Equal(t, ExecutionCancelled, final.Status)

	t.Run("foreign cancel is a miss", func(t *testing.T) {
		assert.ErrorIs(t, f.p2.CancelExecution(exec.ID), ErrExecutionNotFound)
	})

	t.Run("cancelling a terminal execution fails", func(t *testing.T) {
		assert.Error(t, f.p1.CancelExecution(exec.ID))
	})
}

func TestUnregisterHandlers(t *testing.T) {
	f := newFixture(t)

	noop := func(ctx context.Context, args map[string]any) error { return nil }
	require.NoError(t, f.p1.RegisterHandler("a", noop))
	require.NoError(t, f.p1.RegisterHandler("b", noop))
	require.NoError(t, f.p2.RegisterHandler("c", noop))

	removed := f.p1.UnregisterHandlers()
	assert.ElementsMatch(t, []string{"a", "b"}, removed)

	_, ok := f.handlers.Lookup("p1", "a")
	assert.False(t, ok)
	_, ok = f.handlers.Lookup("p2", "c")
	assert.True(t, ok)
}

func TestRunnerOnFinish(t *testing.T) {
	f := newFixture(t)

	finished := make(chan *Execution, 1)
	f.runner.OnFinish(func(e *Execution) {
		finished <- e
	})

	require.NoError(t, f.p1.RegisterHandler("run", func(ctx context.Context, args map[string]any) error {
		return nil
	}))

	task, err := f.p1.CreateTask(intervalSpec("observed"))
	require.NoError(t, err)

	exec, err := f.p1.RunTaskNow(task.ID)
	require.NoError(t, err)

	select {
	case e := <-finished:
		assert.Equal(t, exec.ID, e.ID)
		assert.Equal(t, ExecutionSuccess, e.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("finish callback never fired")
	}
}
