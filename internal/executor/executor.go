// Package executor defines the boundary to the external work-execution
// mechanism. The coordinator hands tasks to an Executor and observes
// results; how the work actually happens is opaque.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExecutorFailure indicates a transient execution failure. The
// coordinator retries with backoff up to the task's retry limit.
var ErrExecutorFailure = errors.New("executor failure")

// Request is the task payload handed to an executor.
type Request struct {
	// TaskID identifies the task being executed.
	TaskID string `json:"task_id"`
	// Type is the task category.
	Type string `json:"type"`
	// Description is the task's work statement.
	Description string `json:"description"`
	// Payload is optional caller-defined input.
	Payload []byte `json:"payload,omitempty"`
}

// Result is the outcome of an execution.
type Result struct {
	// Success is true if the work completed.
	Success bool `json:"success"`
	// Output is the result payload.
	Output string `json:"output,omitempty"`
	// Error is the failure message when Success is false.
	Error string `json:"error,omitempty"`
}

// Executor performs the actual work for a task. Implementations may be
// slow and must honor context cancellation.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, req Request) (Result, error)

// Execute implements Executor.
func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Local is a synthetic executor for tests and demos. It succeeds after a
// configurable latency unless a failure is injected for the task.
type Local struct {
	// Latency is how long each execution takes.
	Latency time.Duration
	// FailTasks maps task IDs to the error message their execution
	// should fail with.
	FailTasks map[string]string
}

// Execute implements Executor.
func (l *Local) Execute(ctx context.Context, req Request) (Result, error) {
	if l.Latency > 0 {
		select {
		case <-time.After(l.Latency):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if msg, ok := l.FailTasks[req.TaskID]; ok {
		return Result{Success: false, Error: msg}, nil
	}
	return Result{Success: true, Output: fmt.Sprintf("completed %s", req.TaskID)}, nil
}
