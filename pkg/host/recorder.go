package host

import (
	"context"
	"sync"
)

// RecordedCall is a single call captured by a Recorder.
type RecordedCall struct {
	Command string
	Args    Args
}

// Recorder is an in-memory Caller used by tests and dry runs. It records
// every call and answers from a command -> result table.
type Recorder struct {
	mu      sync.Mutex
	calls   []RecordedCall
	results map[string]Result
	errs    map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		results: make(map[string]Result),
		errs:    make(map[string]error),
	}
}

// Respond sets the result returned for a command.
func (r *Recorder) Respond(command string, result Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[command] = result
}

// Fail sets the error returned for a command.
func (r *Recorder) Fail(command string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs[command] = err
}

// Call implements Caller.
func (r *Recorder) Call(_ context.Context, command string, args Args) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, RecordedCall{Command: command, Args: args})

	if err, ok := r.errs[command]; ok {
		return nil, WrapError(command, err)
	}
	if res, ok := r.results[command]; ok {
		return res, nil
	}
	return Result{}, nil
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsFor returns the recorded calls for a single command.
func (r *Recorder) CallsFor(command string) []RecordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RecordedCall
	for _, c := range r.calls {
		if c.Command == command {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls and configured responses.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.results = make(map[string]Result)
	r.errs = make(map[string]error)
}
