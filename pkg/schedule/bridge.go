package schedule

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bridge is the plugin-facing scheduler surface. One bridge exists per
// loaded plugin; every operation it performs is scoped to tasks whose
// payload carries the owning plugin ID, so cross-plugin tampering is
// impossible even though all tasks share one store.
type Bridge struct {
	logger   zerolog.Logger
	pluginID string
	store    TaskStore
	handlers *HandlerRegistry
	runner   *Runner
}

// NewBridge creates the scheduler bridge for a plugin.
func NewBridge(logger zerolog.Logger, pluginID string, store TaskStore, handlers *HandlerRegistry, runner *Runner) *Bridge {
	return &Bridge{
		logger:   logger.With().Str("component", "scheduler-bridge").Str("plugin", pluginID).Logger(),
		pluginID: pluginID,
		store:    store,
		handlers: handlers,
		runner:   runner,
	}
}

// PluginID returns the plugin this bridge is scoped to.
func (b *Bridge) PluginID() string {
	return b.pluginID
}

// RegisterHandler stores fn under the composite pluginID:name key in the
// process-wide registry.
func (b *Bridge) RegisterHandler(name string, fn HandlerFunc) error {
	if err := b.handlers.Register(b.pluginID, name, fn); err != nil {
		return err
	}
	b.logger.Debug().Str("handler", name).Msg("Registered task handler")
	return nil
}

// CreateTask validates and persists a new task owned by this plugin.
func (b *Bridge) CreateTask(spec TaskSpec) (*Task, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	if spec.Handler == "" {
		return nil, fmt.Errorf("task handler is required")
	}

	trigger, err := NormalizeTrigger(spec.Trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	now := time.Now()
	nextRun, err := NextRun(trigger, now)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	task := &Task{
		ID:      uuid.New().String(),
		Name:    spec.Name,
		Trigger: trigger,
		Payload: Payload{
			PluginID: b.pluginID,
			Handler:  spec.Handler,
			Args:     spec.HandlerArgs,
		},
		Status:     TaskActive,
		Tags:       spec.Tags,
		MaxRetries: spec.MaxRetries,
		RetryDelay: spec.RetryDelay,
		Timeout:    spec.Timeout,
		NextRunAt:  nextRun,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := b.store.SaveTask(task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	b.logger.Info().
		Str("task", task.ID).
		Str("name", task.Name).
		Str("trigger", string(task.Trigger.Kind)).
		Msg("Task created")

	return task, nil
}

// getOwned fetches a task and verifies ownership. Foreign tasks surface as
// ErrTaskNotFound.
func (b *Bridge) getOwned(id string) (*Task, error) {
	task, err := b.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if task.Payload.PluginID != b.pluginID {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// GetTask retrieves one of the plugin's tasks.
func (b *Bridge) GetTask(id string) (*Task, error) {
	return b.getOwned(id)
}

// UpdateTask applies a patch to one of the plugin's tasks.
func (b *Bridge) UpdateTask(id string, patch TaskPatch) (*Task, error) {
	task, err := b.getOwned(id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		task.Name = *patch.Name
	}
	if patch.Trigger != nil {
		trigger, err := NormalizeTrigger(*patch.Trigger)
		if err != nil {
			return nil, fmt.Errorf("invalid trigger: %w", err)
		}
		task.Trigger = trigger
		nextRun, err := NextRun(trigger, time.Now())
		if err != nil {
			return nil, fmt.Errorf("invalid trigger: %w", err)
		}
		task.NextRunAt = nextRun
	}
	if patch.Status != nil {
		task.Status = *patch.Status
	}
	if patch.Tags != nil {
		task.Tags = *patch.Tags
	}
	if patch.MaxRetries != nil {
		task.MaxRetries = *patch.MaxRetries
	}
	if patch.RetryDelay != nil {
		task.RetryDelay = *patch.RetryDelay
	}
	if patch.Timeout != nil {
		task.Timeout = *patch.Timeout
	}
	if patch.Args != nil {
		task.Payload.Args = *patch.Args
	}
	task.UpdatedAt = time.Now()

	if err := b.store.SaveTask(task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}
	return task, nil
}

// DeleteTask removes one of the plugin's tasks and its execution history.
func (b *Bridge) DeleteTask(id string) error {
	if _, err := b.getOwned(id); err != nil {
		return err
	}
	return b.store.DeleteTask(id)
}

// ListTasks returns the plugin's tasks matching the filter. The plugin ID
// in the filter is always overwritten with the bridge's own.
func (b *Bridge) ListTasks(filter TaskFilter) ([]*Task, error) {
	filter.PluginID = b.pluginID
	return b.store.ListTasks(filter)
}

// RunTaskNow creates a pending execution for one of the plugin's tasks and
// dispatches it asynchronously through the runner.
func (b *Bridge) RunTaskNow(id string) (*Execution, error) {
	task, err := b.getOwned(id)
	if err != nil {
		return nil, err
	}

	exec := &Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    ExecutionPending,
		CreatedAt: time.Now(),
	}
	if err := b.store.SaveExecution(exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	if err := b.runner.Dispatch(task, exec); err != nil {
		return nil, fmt.Errorf("failed to dispatch execution: %w", err)
	}

	// Return the current record; the runner mutates its own copy.
	return b.store.GetExecution(exec.ID)
}

// CancelExecution cancels a pending or running execution of one of the
// plugin's tasks.
func (b *Bridge) CancelExecution(execID string) error {
	exec, err := b.store.GetExecution(execID)
	if err != nil {
		return err
	}
	if _, err := b.getOwned(exec.TaskID); err != nil {
		return ErrExecutionNotFound
	}
	return b.runner.Cancel(execID)
}

// ListExecutions returns the execution history of one of the plugin's
// tasks, newest first.
func (b *Bridge) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	if _, err := b.getOwned(taskID); err != nil {
		return nil, err
	}
	return b.store.ListExecutions(taskID, limit)
}

// UnregisterHandlers removes every handler the plugin registered. Called on
// unload.
func (b *Bridge) UnregisterHandlers() []string {
	return b.handlers.UnregisterPlugin(b.pluginID)
}
