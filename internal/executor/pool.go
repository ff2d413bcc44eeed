package executor

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Completion is the terminal report of one asynchronous execution.
type Completion struct {
	// TaskID identifies the executed task.
	TaskID string
	// AgentID identifies the agent the task was assigned to.
	AgentID string
	// Result is the executor's outcome. Zero when Err is set.
	Result Result
	// Err is set when the execution itself failed (cancellation,
	// transport, panic), as opposed to the work reporting failure.
	Err error
}

// Pool runs executions asynchronously and delivers completions on a
// channel the coordinator drains at its next tick. A panicking executor
// is reported as a failed execution, never crashes the pool.
type Pool struct {
	exec        Executor
	wg          *conc.WaitGroup
	completions chan Completion

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewPool creates a pool over the given executor with the given
// completion buffer.
func NewPool(exec Executor, buffer int) *Pool {
	if buffer <= 0 {
		buffer = 64
	}
	return &Pool{
		exec:        exec,
		wg:          conc.NewWaitGroup(),
		completions: make(chan Completion, buffer),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// Completions returns the channel completions are delivered on.
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Start launches an asynchronous execution for the given task/agent pair.
// The returned call runs until completion or cancellation.
func (p *Pool) Start(ctx context.Context, agentID string, req Request) {
	runCtx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancels[req.TaskID] = cancel
	p.mu.Unlock()

	p.wg.Go(func() {
		defer func() {
			p.mu.Lock()
			delete(p.cancels, req.TaskID)
			p.mu.Unlock()
			cancel()
		}()

		var (
			catcher panics.Catcher
			result  Result
			err     error
		)
		catcher.Try(func() {
			result, err = p.exec.Execute(runCtx, req)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			err = recovered.AsError()
		}

		p.completions <- Completion{
			TaskID:  req.TaskID,
			AgentID: agentID,
			Result:  result,
			Err:     err,
		}
	})
}

// Cancel requests cooperative cancellation of a running execution.
// Returns true if the task had a running execution.
func (p *Pool) Cancel(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.cancels[taskID]
	if ok {
		cancel()
	}
	return ok
}

// Running returns the number of in-flight executions.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

// Wait blocks until all in-flight executions have completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}
