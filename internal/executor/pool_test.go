package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoolDeliversCompletion(t *testing.T) {
	pool := NewPool(&Local{}, 4)

	pool.Start(context.Background(), "agent-1", Request{TaskID: "task-1", Description: "do work"})

	select {
	case c := <-pool.Completions():
		if c.TaskID != "task-1" || c.AgentID != "agent-1" {
			t.Errorf("unexpected completion routing: %+v", c)
		}
		if c.Err != nil {
			t.Errorf("unexpected error: %v", c.Err)
		}
		if !c.Result.Success {
			t.Errorf("expected success, got %+v", c.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}
	pool.Wait()
}

func TestPoolReportsWorkFailure(t *testing.T) {
	exec := &Local{FailTasks: map[string]string{"task-1": "disk full"}}
	pool := NewPool(exec, 4)

	pool.Start(context.Background(), "agent-1", Request{TaskID: "task-1"})

	c := <-pool.Completions()
	if c.Err != nil {
		t.Fatalf("work failure should not set Err: %v", c.Err)
	}
	if c.Result.Success {
		t.Error("expected failed result")
	}
	if c.Result.Error != "disk full" {
		t.Errorf("expected failure message, got %q", c.Result.Error)
	}
	pool.Wait()
}

func TestPoolCancelStopsExecution(t *testing.T) {
	slow := &Local{Latency: 10 * time.Second}
	pool := NewPool(slow, 4)

	pool.Start(context.Background(), "agent-1", Request{TaskID: "task-1"})

	if !pool.Cancel("task-1") {
		t.Fatal("expected Cancel to find the running task")
	}

	select {
	case c := <-pool.Completions():
		if !errors.Is(c.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", c.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled completion")
	}

	if pool.Cancel("task-1") {
		t.Error("expected Cancel to miss after completion")
	}
	pool.Wait()
}

func TestPoolSurvivesPanickingExecutor(t *testing.T) {
	boom := Func(func(ctx context.Context, req Request) (Result, error) {
		panic("executor bug")
	})
	pool := NewPool(boom, 4)

	pool.Start(context.Background(), "agent-1", Request{TaskID: "task-1"})

	c := <-pool.Completions()
	if c.Err == nil {
		t.Fatal("expected panic to surface as an execution error")
	}
	pool.Wait()
}

func TestPoolRunningCount(t *testing.T) {
	slow := &Local{Latency: 10 * time.Second}
	pool := NewPool(slow, 4)

	pool.Start(context.Background(), "agent-1", Request{TaskID: "task-1"})
	pool.Start(context.Background(), "agent-2", Request{TaskID: "task-2"})

	if got := pool.Running(); got != 2 {
		t.Errorf("expected 2 running, got %d", got)
	}

	pool.Cancel("task-1")
	pool.Cancel("task-2")
	<-pool.Completions()
	<-pool.Completions()
	pool.Wait()

	if got := pool.Running(); got != 0 {
		t.Errorf("expected 0 running after drain, got %d", got)
	}
}
