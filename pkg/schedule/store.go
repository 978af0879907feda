package schedule

import (
	"sort"
	"sync"
)

// TaskStore persists tasks and their execution history. Tasks survive host
// restarts; executions are append-only.
type TaskStore interface {
	SaveTask(task *Task) error
	GetTask(id string) (*Task, error)
	DeleteTask(id string) error
	ListTasks(filter TaskFilter) ([]*Task, error)

	SaveExecution(exec *Execution) error
	GetExecution(id string) (*Execution, error)
	ListExecutions(taskID string, limit int) ([]*Execution, error)
}

// MemoryStore is an in-memory TaskStore used by tests and by hosts that opt
// out of persistence.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	executions map[string]*Execution
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*Task),
		executions: make(map[string]*Execution),
	}
}

// SaveTask inserts or replaces a task.
func (s *MemoryStore) SaveTask(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *task
	s.tasks[task.ID] = &stored
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemoryStore) GetTask(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	out := *task
	return &out, nil
}

// DeleteTask removes a task and its executions.
func (s *MemoryStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(s.tasks, id)
	for execID, exec := range s.executions {
		if exec.TaskID == id {
			delete(s.executions, execID)
		}
	}
	return nil
}

// ListTasks returns tasks matching the filter, newest first.
func (s *MemoryStore) ListTasks(filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Task
	for _, task := range s.tasks {
		if matchesFilter(task, filter) {
			copied := *task
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SaveExecution inserts or replaces an execution record.
func (s *MemoryStore) SaveExecution(exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *exec
	stored.Log = append([]string(nil), exec.Log...)
	s.executions[exec.ID] = &stored
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *MemoryStore) GetExecution(id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	out := *exec
	out.Log = append([]string(nil), exec.Log...)
	return &out, nil
}

// ListExecutions returns executions for a task, newest first.
func (s *MemoryStore) ListExecutions(taskID string, limit int) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Execution
	for _, exec := range s.executions {
		if exec.TaskID == taskID {
			copied := *exec
			copied.Log = append([]string(nil), exec.Log...)
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFilter(task *Task, filter TaskFilter) bool {
	if filter.PluginID != "" && task.Payload.PluginID != filter.PluginID {
		return false
	}
	if filter.Status != "" && task.Status != filter.Status {
		return false
	}
	if filter.Handler != "" && task.Payload.Handler != filter.Handler {
		return false
	}
	if filter.Tag != "" {
		found := false
		for _, tag := range task.Tags {
			if tag == filter.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
