package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Task Queue Contract
// =============================================================================

// TaskState is the normalized per-task state.
//
// PENDING -> RUNNING -> {SUCCESS, FAILURE, REVOKED}; REVOKED is reachable
// from PENDING or RUNNING via Revoke. All three terminal states are absorbing.
type TaskState string

const (
	TaskStatePending TaskState = "PENDING"
	TaskStateRunning TaskState = "RUNNING"
	TaskStateSuccess TaskState = "SUCCESS"
	TaskStateFailure TaskState = "FAILURE"
	TaskStateRevoked TaskState = "REVOKED"
)

// Terminal reports whether the state has no outgoing transition.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSuccess, TaskStateFailure, TaskStateRevoked:
		return true
	}
	return false
}

// TaskResult is the recorded outcome of one terminal task. Start and finish
// stamps come from the queue so cross-task wall-clock spans can be computed.
type TaskResult struct {
	Value      any
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the recorded execution time, or zero when the queue did
// not record both stamps.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// QueueClient is the consumed task-queue contract. Implementations wrap an
// external broker; the pipeline holds no local task state and performs no
// retries of its own.
type QueueClient interface {
	// Submit enqueues one task and returns its opaque handle.
	Submit(ctx context.Context, tool, script string, params map[string]any) (string, error)

	// State returns the normalized state for a handle.
	// Unknown handles fail with ErrNotFound.
	State(ctx context.Context, handle string) (TaskState, error)

	// Result returns the recorded result for a handle, waiting up to
	// timeout for the task to reach a terminal state. A timeout of zero
	// means do not wait.
	Result(ctx context.Context, handle string, timeout time.Duration) (TaskResult, error)

	// Revoke asks the queue to cancel a task. The boolean reflects request
	// acceptance, not confirmed termination.
	Revoke(ctx context.Context, handle string) (bool, error)
}

// ProgressReporter is optionally implemented by queue clients whose broker
// exposes fractional task progress.
type ProgressReporter interface {
	// Progress returns a completion fraction in [0, 1] and whether the
	// queue reported one for this handle.
	Progress(ctx context.Context, handle string) (float64, bool)
}

// =============================================================================
// MemoryQueue Implementation
// =============================================================================

// MemoryQueue is an in-process QueueClient for tests and examples. Tasks
// move through states either by explicit SetState/Complete/Fail calls or on
// a timer when auto-advance is configured.
type MemoryQueue struct {
	mu    sync.Mutex
	tasks map[string]*memoryTask

	// auto-advance delays; zero disables the corresponding transition
	runAfter  time.Duration
	doneAfter time.Duration
}

type memoryTask struct {
	tool       string
	script     string
	params     map[string]any
	state      TaskState
	value      any
	progress   float64
	hasProg    bool
	startedAt  time.Time
	finishedAt time.Time
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{tasks: make(map[string]*memoryTask)}
}

// SetAutoAdvance makes every submitted task move to RUNNING after runAfter
// and to SUCCESS after a further doneAfter.
func (q *MemoryQueue) SetAutoAdvance(runAfter, doneAfter time.Duration) {
	q.mu.Lock()
	q.runAfter = runAfter
	q.doneAfter = doneAfter
	q.mu.Unlock()
}

func (q *MemoryQueue) Submit(ctx context.Context, tool, script string, params map[string]any) (string, error) {
	handle := uuid.NewString()

	q.mu.Lock()
	q.tasks[handle] = &memoryTask{
		tool:   tool,
		script: script,
		params: params,
		state:  TaskStatePending,
	}
	runAfter, doneAfter := q.runAfter, q.doneAfter
	q.mu.Unlock()

	if runAfter > 0 {
		go q.autoAdvance(handle, runAfter, doneAfter)
	}
	return handle, nil
}

func (q *MemoryQueue) autoAdvance(handle string, runAfter, doneAfter time.Duration) {
	time.Sleep(runAfter)
	q.SetState(handle, TaskStateRunning)
	if doneAfter > 0 {
		time.Sleep(doneAfter)
		q.Complete(handle, nil)
	}
}

// SetState forces a task into a state. Terminal states are absorbing: once
// reached, further transitions are ignored.
func (q *MemoryQueue) SetState(handle string, state TaskState) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[handle]
	if !ok || t.state.Terminal() {
		return
	}
	if state == TaskStateRunning && t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	if state.Terminal() {
		if t.startedAt.IsZero() {
			t.startedAt = time.Now()
		}
		t.finishedAt = time.Now()
	}
	t.state = state
}

// Complete marks a task SUCCESS with the given result value.
func (q *MemoryQueue) Complete(handle string, value any) {
	q.mu.Lock()
	if t, ok := q.tasks[handle]; ok && !t.state.Terminal() {
		t.value = value
	}
	q.mu.Unlock()
	q.SetState(handle, TaskStateSuccess)
}

// Fail marks a task FAILURE with the given result value.
func (q *MemoryQueue) Fail(handle string, value any) {
	q.mu.Lock()
	if t, ok := q.tasks[handle]; ok && !t.state.Terminal() {
		t.value = value
	}
	q.mu.Unlock()
	q.SetState(handle, TaskStateFailure)
}

// SetProgress records a completion fraction for a running task.
func (q *MemoryQueue) SetProgress(handle string, fraction float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[handle]; ok {
		t.progress = fraction
		t.hasProg = true
	}
}

// SetTimestamps overrides the recorded start/finish stamps of a task.
// Tests use it to script wall-clock spans.
func (q *MemoryQueue) SetTimestamps(handle string, startedAt, finishedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[handle]; ok {
		t.startedAt = startedAt
		t.finishedAt = finishedAt
	}
}

func (q *MemoryQueue) State(ctx context.Context, handle string) (TaskState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[handle]
	if !ok {
		return "", fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return t.state, nil
}

func (q *MemoryQueue) Progress(ctx context.Context, handle string) (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[handle]
	if !ok || !t.hasProg {
		return 0, false
	}
	return t.progress, true
}

func (q *MemoryQueue) Result(ctx context.Context, handle string, timeout time.Duration) (TaskResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		t, ok := q.tasks[handle]
		if !ok {
			q.mu.Unlock()
			return TaskResult{}, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
		}
		if t.state.Terminal() {
			res := TaskResult{Value: t.value, StartedAt: t.startedAt, FinishedAt: t.finishedAt}
			q.mu.Unlock()
			return res, nil
		}
		state := t.state
		q.mu.Unlock()

		if !time.Now().Before(deadline) {
			return TaskResult{}, &WaitTimeoutError{TaskID: handle, Wait: timeout, LastState: state}
		}
		select {
		case <-ctx.Done():
			return TaskResult{}, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) Revoke(ctx context.Context, handle string) (bool, error) {
	q.mu.Lock()
	t, ok := q.tasks[handle]
	if !ok {
		q.mu.Unlock()
		return false, fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	terminal := t.state.Terminal()
	q.mu.Unlock()

	if terminal {
		return false, nil
	}
	q.SetState(handle, TaskStateRevoked)
	return true, nil
}
