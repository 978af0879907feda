package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Runner is the task-execution collaborator: it resolves handlers from the
// process-wide registry, runs them asynchronously, applies the task's retry
// policy, and writes every state change back to the store. Tasks are never
// dispatched concurrently with an earlier pending/running execution of the
// same task.
type Runner struct {
	logger   zerolog.Logger
	store    TaskStore
	handlers *HandlerRegistry

	mu       sync.Mutex
	active   map[string]context.CancelFunc // execution ID -> cancel
	wg       sync.WaitGroup
	stopped  bool
	onFinish func(*Execution)
}

// OnFinish registers a callback invoked after each execution reaches a
// terminal state. Used by the host to feed metrics.
func (r *Runner) OnFinish(fn func(*Execution)) {
	r.mu.Lock()
	r.onFinish = fn
	r.mu.Unlock()
}

// NewRunner creates a runner over the given store and handler registry.
func NewRunner(logger zerolog.Logger, store TaskStore, handlers *HandlerRegistry) *Runner {
	return &Runner{
		logger:   logger.With().Str("component", "task-runner").Logger(),
		store:    store,
		handlers: handlers,
		active:   make(map[string]context.CancelFunc),
	}
}

// Dispatch starts the asynchronous run of a pending execution. It returns
// immediately; the execution record tracks progress. A task with an
// execution still pending or running is skipped.
func (r *Runner) Dispatch(task *Task, exec *Execution) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("runner is stopped")
	}
	r.mu.Unlock()

	inFlight, err := r.hasInFlight(task.ID, exec.ID)
	if err != nil {
		return err
	}
	if inFlight {
		exec.Status = ExecutionCancelled
		exec.Error = "skipped: a previous execution is still in flight"
		now := time.Now()
		exec.FinishedAt = &now
		if err := r.store.SaveExecution(exec); err != nil {
			return err
		}
		r.logger.Debug().Str("task", task.ID).Msg("Skipped dispatch, execution in flight")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.active[exec.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, exec.ID)
			r.mu.Unlock()
			cancel()
		}()
		r.run(ctx, task, exec)
	}()

	return nil
}

func (r *Runner) hasInFlight(taskID, excludeExecID string) (bool, error) {
	execs, err := r.store.ListExecutions(taskID, 0)
	if err != nil {
		return false, err
	}
	for _, e := range execs {
		if e.ID == excludeExecID {
			continue
		}
		if e.Status == ExecutionPending || e.Status == ExecutionRunning {
			return true, nil
		}
	}
	return false, nil
}

// run executes the handler with retries. Each attempt appends to the
// execution log; the final state is success, error, or cancelled.
func (r *Runner) run(ctx context.Context, task *Task, exec *Execution) {
	fn, ok := r.handlers.Lookup(task.Payload.PluginID, task.Payload.Handler)
	if !ok {
		r.finish(exec, ExecutionError,
			fmt.Sprintf("handler %s not registered", HandlerKey(task.Payload.PluginID, task.Payload.Handler)))
		return
	}

	started := time.Now()
	exec.Status = ExecutionRunning
	exec.StartedAt = &started
	exec.Log = append(exec.Log, fmt.Sprintf("started handler %s", task.Payload.Handler))
	if err := r.store.SaveExecution(exec); err != nil {
		r.logger.Error().Err(err).Str("execution", exec.ID).Msg("Failed to persist execution start")
	}

	maxAttempts := task.MaxRetries + 1
	retryDelay := time.Duration(task.RetryDelay) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		exec.Attempt = attempt

		if ctx.Err() != nil {
			r.finish(exec, ExecutionCancelled, "cancelled before attempt")
			return
		}

		lastErr = r.runAttempt(ctx, task, fn)
		if lastErr == nil {
			exec.Log = append(exec.Log, fmt.Sprintf("attempt %d succeeded", attempt))
			r.finish(exec, ExecutionSuccess, "")
			return
		}

		if ctx.Err() != nil {
			exec.Log = append(exec.Log, fmt.Sprintf("attempt %d interrupted: %v", attempt, lastErr))
			r.finish(exec, ExecutionCancelled, "cancelled")
			return
		}

		exec.Log = append(exec.Log, fmt.Sprintf("attempt %d failed: %v", attempt, lastErr))
		if err := r.store.SaveExecution(exec); err != nil {
			r.logger.Error().Err(err).Str("execution", exec.ID).Msg("Failed to persist attempt result")
		}

		if attempt < maxAttempts && retryDelay > 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				r.finish(exec, ExecutionCancelled, "cancelled during retry delay")
				return
			}
		}
	}

	r.finish(exec, ExecutionError, lastErr.Error())
}

func (r *Runner) runAttempt(ctx context.Context, task *Task, fn HandlerFunc) error {
	attemptCtx := ctx
	cancel := func() {}
	if task.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, time.Duration(task.Timeout)*time.Millisecond)
	}
	defer cancel()
	return fn(attemptCtx, task.Payload.Args)
}

func (r *Runner) finish(exec *Execution, status ExecutionStatus, errMsg string) {
	now := time.Now()
	exec.Status = status
	exec.Error = errMsg
	exec.FinishedAt = &now
	if err := r.store.SaveExecution(exec); err != nil {
		r.logger.Error().Err(err).Str("execution", exec.ID).Msg("Failed to persist execution result")
	}

	r.mu.Lock()
	onFinish := r.onFinish
	r.mu.Unlock()
	if onFinish != nil {
		onFinish(exec)
	}

	r.logger.Debug().
		Str("execution", exec.ID).
		Str("task", exec.TaskID).
		Str("status", string(status)).
		Msg("Execution finished")
}

// Cancel transitions a pending or running execution to cancelled and, for
// running executions, cancels the handler context. Cancellation is
// best-effort: the handler may not stop immediately.
func (r *Runner) Cancel(execID string) error {
	exec, err := r.store.GetExecution(execID)
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return fmt.Errorf("execution %s is already %s", execID, exec.Status)
	}

	r.mu.Lock()
	cancel, running := r.active[execID]
	r.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	// Pending but not in flight (e.g. host restarted mid-dispatch).
	now := time.Now()
	exec.Status = ExecutionCancelled
	exec.FinishedAt = &now
	return r.store.SaveExecution(exec)
}

// Stop cancels all in-flight executions and waits for their goroutines.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}
