package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hpcgrid/simflow/core"
)

// assertEventually polls the condition until it holds or the deadline passes.
func assertEventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMemoryQueue_SubmitStartsPending(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, err := queue.Submit(ctx, "lammps", "melt.in", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	state, err := queue.State(ctx, handle)
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state != core.TaskStatePending {
		t.Errorf("Expected PENDING, got %s", state)
	}
}

func TestMemoryQueue_UnknownHandle(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	if _, err := queue.State(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("State: expected ErrNotFound, got %v", err)
	}
	if _, err := queue.Result(ctx, "nope", 0); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Result: expected ErrNotFound, got %v", err)
	}
	if _, err := queue.Revoke(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Revoke: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryQueue_TerminalStatesAbsorb(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)
	queue.Complete(handle, "result")

	// No transition leaves a terminal state.
	queue.SetState(handle, core.TaskStateRunning)
	queue.Fail(handle, "late failure")

	state, _ := queue.State(ctx, handle)
	if state != core.TaskStateSuccess {
		t.Errorf("Terminal state not absorbing: %s", state)
	}

	res, err := queue.Result(ctx, handle, 0)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Value != "result" {
		t.Errorf("Result value overwritten after terminal: %v", res.Value)
	}
}

func TestMemoryQueue_ResultWaitsForTerminal(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		queue.Complete(handle, 7)
	}()

	res, err := queue.Result(ctx, handle, time.Second)
	if err != nil {
		t.Fatalf("Result failed: %v", err)
	}
	if res.Value != 7 {
		t.Errorf("Expected 7, got %v", res.Value)
	}
	if res.StartedAt.IsZero() || res.FinishedAt.IsZero() {
		t.Error("Terminal result should carry both timestamps")
	}
}

func TestMemoryQueue_ResultTimeout(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)
	queue.SetState(handle, core.TaskStateRunning)

	_, err := queue.Result(ctx, handle, 30*time.Millisecond)
	var timeoutErr *core.WaitTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected WaitTimeoutError, got %v", err)
	}
	if timeoutErr.LastState != core.TaskStateRunning {
		t.Errorf("Expected last state RUNNING, got %s", timeoutErr.LastState)
	}
	if !timeoutErr.Timeout() {
		t.Error("WaitTimeoutError must report Timeout() == true")
	}
}

func TestMemoryQueue_RevokeNonTerminal(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)

	accepted, err := queue.Revoke(ctx, handle)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !accepted {
		t.Error("Revoke of a pending task should be accepted")
	}

	state, _ := queue.State(ctx, handle)
	if state != core.TaskStateRevoked {
		t.Errorf("Expected REVOKED, got %s", state)
	}
}

func TestMemoryQueue_RevokeTerminalRejected(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)
	queue.Complete(handle, nil)

	accepted, err := queue.Revoke(ctx, handle)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if accepted {
		t.Error("Revoke of a finished task must not be accepted")
	}
}

func TestMemoryQueue_AutoAdvance(t *testing.T) {
	queue := core.NewMemoryQueue()
	queue.SetAutoAdvance(10*time.Millisecond, 20*time.Millisecond)
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)

	assertEventually(t, time.Second, func() bool {
		state, _ := queue.State(ctx, handle)
		return state == core.TaskStateRunning || state.Terminal()
	}, "task never left PENDING")

	assertEventually(t, time.Second, func() bool {
		state, _ := queue.State(ctx, handle)
		return state == core.TaskStateSuccess
	}, "task never reached SUCCESS")
}

func TestMemoryQueue_Progress(t *testing.T) {
	queue := core.NewMemoryQueue()
	ctx := context.Background()

	handle, _ := queue.Submit(ctx, "lammps", "melt.in", nil)

	if _, ok := queue.Progress(ctx, handle); ok {
		t.Error("No progress should be reported before SetProgress")
	}

	queue.SetProgress(handle, 0.4)
	frac, ok := queue.Progress(ctx, handle)
	if !ok || frac != 0.4 {
		t.Errorf("Expected progress 0.4, got %v (%v)", frac, ok)
	}
}
