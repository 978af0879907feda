// Package host defines the boundary to the privileged host application.
// Every privileged operation in the runtime (file placement, process spawn,
// clipboard, dialogs, sub-runtime invocations) goes through a single opaque
// call surface; the wire format behind it is owned by the host, not by us.
package host

import (
	"context"
	"fmt"
)

// Args carries the arguments of a host call.
type Args map[string]any

// Result carries the result of a successful host call.
type Result map[string]any

// Caller issues privileged commands against the host application.
type Caller interface {
	// Call invokes a host command. Command names are opaque strings owned
	// by the host. Failures surface as errors, typically *CallError.
	Call(ctx context.Context, command string, args Args) (Result, error)
}

// CallFunc adapts a plain function to the Caller interface.
type CallFunc func(ctx context.Context, command string, args Args) (Result, error)

// Call implements Caller.
func (f CallFunc) Call(ctx context.Context, command string, args Args) (Result, error) {
	return f(ctx, command, args)
}

// CallError wraps a failed host command with the command name for context.
type CallError struct {
	Command string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("host call %s failed: %v", e.Command, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// WrapError wraps err into a *CallError for the given command. A nil err
// returns nil.
func WrapError(command string, err error) error {
	if err == nil {
		return nil
	}
	return &CallError{Command: command, Err: err}
}
