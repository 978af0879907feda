package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Dispatcher fires tasks when their triggers come due. Time-based triggers
// (cron, interval, once) are driven by a scan loop over the persisted
// NextRunAt column; event triggers are driven by DispatchEvent, which the
// host wires to its message bus. Every firing goes through the Runner, so
// the in-flight skip and retry policy apply uniformly.
type Dispatcher struct {
	logger zerolog.Logger
	store  TaskStore
	runner *Runner
	tick   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// DispatcherOption tunes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithTick overrides the scan interval for due time-based tasks.
func WithTick(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.tick = d
		}
	}
}

// NewDispatcher creates a dispatcher over the given store and runner.
func NewDispatcher(logger zerolog.Logger, store TaskStore, runner *Runner, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: logger.With().Str("component", "task-dispatcher").Logger(),
		store:  store,
		runner: runner,
		tick:   time.Second,
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the scan loop. Stop must be called when the dispatcher is
// discarded.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.loop()
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.DispatchDue(time.Now())
		case <-d.stopCh:
			return
		}
	}
}

// DispatchDue fires every active task whose NextRunAt has passed and
// advances its schedule. Returns the number of tasks fired.
func (d *Dispatcher) DispatchDue(now time.Time) int {
	tasks, err := d.store.ListTasks(TaskFilter{Status: TaskActive})
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list tasks for dispatch")
		return 0
	}

	fired := 0
	for _, task := range tasks {
		if task.NextRunAt == nil || task.NextRunAt.After(now) {
			continue
		}
		if err := d.fire(task); err != nil {
			d.logger.Warn().Err(err).Str("task", task.ID).Msg("Failed to dispatch due task")
		} else {
			fired++
		}
		if err := d.advance(task, now); err != nil {
			d.logger.Error().Err(err).Str("task", task.ID).Msg("Failed to advance task schedule")
		}
	}
	return fired
}

// DispatchEvent fires every active event-triggered task matching the event
// type and, when the task pins one, the source ID. Returns the number of
// tasks fired.
func (d *Dispatcher) DispatchEvent(eventType, sourceID string) int {
	tasks, err := d.store.ListTasks(TaskFilter{Status: TaskActive})
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list tasks for event dispatch")
		return 0
	}

	fired := 0
	for _, task := range tasks {
		trigger := task.Trigger
		if trigger.Kind != TriggerEvent || trigger.EventType != eventType {
			continue
		}
		if trigger.EventSource != "" && trigger.EventSource != sourceID {
			continue
		}
		if err := d.fire(task); err != nil {
			d.logger.Warn().Err(err).Str("task", task.ID).Msg("Failed to dispatch event task")
		} else {
			fired++
		}
	}
	return fired
}

// fire creates a pending execution and hands it to the runner.
func (d *Dispatcher) fire(task *Task) error {
	exec := &Execution{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    ExecutionPending,
		CreatedAt: time.Now(),
	}
	if err := d.store.SaveExecution(exec); err != nil {
		return fmt.Errorf("failed to persist execution: %w", err)
	}
	if err := d.runner.Dispatch(task, exec); err != nil {
		return fmt.Errorf("failed to dispatch execution: %w", err)
	}

	d.logger.Debug().
		Str("task", task.ID).
		Str("execution", exec.ID).
		Msg("Task fired")
	return nil
}

// advance moves the task to its next occurrence. A fired "once" task
// expires; recurring tasks get a fresh NextRunAt.
func (d *Dispatcher) advance(task *Task, now time.Time) error {
	if task.Trigger.Kind == TriggerOnce {
		task.Status = TaskExpired
		task.NextRunAt = nil
	} else {
		next, err := NextRun(task.Trigger, now)
		if err != nil {
			return err
		}
		task.NextRunAt = next
	}
	task.UpdatedAt = now
	return d.store.SaveTask(task)
}

// Stop halts the scan loop. In-flight executions are the runner's to stop.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}
