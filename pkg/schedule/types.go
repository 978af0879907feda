// Package schedule implements the scheduler bridge: it maps plugin-declared
// recurring tasks onto a generic trigger/execution model persisted through
// a TaskStore, and scopes every operation to the owning plugin.
package schedule

import (
	"fmt"
	"time"
)

// ErrTaskNotFound is returned for unknown task IDs, including tasks owned
// by another plugin; cross-plugin probing is indistinguishable from a miss.
var ErrTaskNotFound = fmt.Errorf("task not found")

// ErrExecutionNotFound is returned for unknown execution IDs.
var ErrExecutionNotFound = fmt.Errorf("execution not found")

// TriggerKind discriminates the trigger variants.
type TriggerKind string

const (
	TriggerCron     TriggerKind = "cron"
	TriggerInterval TriggerKind = "interval"
	TriggerOnce     TriggerKind = "once"
	TriggerEvent    TriggerKind = "event"
)

// Trigger is the normalized condition that causes a task to run.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// For "cron"
	CronExpr string `json:"cronExpr,omitempty"` // 5-field cron expression
	TZ       string `json:"tz,omitempty"`

	// For "interval"
	IntervalMs int64 `json:"intervalMs,omitempty"`

	// For "once"
	RunAt string `json:"runAt,omitempty"` // RFC 3339 timestamp

	// For "event"
	EventType   string `json:"eventType,omitempty"`
	EventSource string `json:"eventSource,omitempty"`
}

// TaskStatus is the lifecycle status of a scheduled task.
type TaskStatus string

const (
	TaskActive   TaskStatus = "active"
	TaskPaused   TaskStatus = "paused"
	TaskDisabled TaskStatus = "disabled"
	TaskExpired  TaskStatus = "expired"
)

// Payload binds a task to the plugin handler that executes it.
type Payload struct {
	PluginID string         `json:"pluginId"`
	Handler  string         `json:"handler"`
	Args     map[string]any `json:"args,omitempty"`
}

// Task is a persistent scheduled-task record.
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Trigger    Trigger    `json:"trigger"`
	Payload    Payload    `json:"payload"`
	Status     TaskStatus `json:"status"`
	Tags       []string   `json:"tags,omitempty"`
	MaxRetries int        `json:"maxRetries,omitempty"`
	RetryDelay int64      `json:"retryDelayMs,omitempty"`
	Timeout    int64      `json:"timeoutMs,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// ExecutionStatus is the lifecycle status of a single run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionSuccess || s == ExecutionError || s == ExecutionCancelled
}

// Execution is one run of a task. Executions are append-only history; a
// failed run records its error and log rather than being deleted.
type Execution struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"taskId"`
	Status     ExecutionStatus `json:"status"`
	Attempt    int             `json:"attempt"`
	Error      string          `json:"error,omitempty"`
	Log        []string        `json:"log,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// TaskSpec is the plugin-facing task description accepted by the bridge.
type TaskSpec struct {
	Name        string         `json:"name"`
	Trigger     Trigger        `json:"trigger"`
	Handler     string         `json:"handler"`
	HandlerArgs map[string]any `json:"handlerArgs,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	MaxRetries  int            `json:"maxRetries,omitempty"`
	RetryDelay  int64          `json:"retryDelayMs,omitempty"`
	Timeout     int64          `json:"timeoutMs,omitempty"`
}

// TaskPatch carries the updatable task fields; nil fields are unchanged.
type TaskPatch struct {
	Name       *string         `json:"name,omitempty"`
	Trigger    *Trigger        `json:"trigger,omitempty"`
	Status     *TaskStatus     `json:"status,omitempty"`
	Tags       *[]string       `json:"tags,omitempty"`
	MaxRetries *int            `json:"maxRetries,omitempty"`
	RetryDelay *int64          `json:"retryDelayMs,omitempty"`
	Timeout    *int64          `json:"timeoutMs,omitempty"`
	Args       *map[string]any `json:"args,omitempty"`
}

// TaskFilter narrows ListTasks results. The PluginID field is always
// forced by the bridge; plugins cannot widen it.
type TaskFilter struct {
	PluginID string
	Status   TaskStatus
	Tag      string
	Handler  string
}
