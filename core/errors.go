package core

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for lifecycle misuse. Callers match them with errors.Is.
var (
	// ErrNotFound indicates an unknown task ID on a status, monitor, stop
	// or cancel operation.
	ErrNotFound = errors.New("task not found")

	// ErrStateConflict indicates a lifecycle violation, e.g. StartMonitoring
	// called twice for the same task ID without an intervening StopMonitoring,
	// or a second profiling window opened before the first one was closed.
	// The offending call fails; nothing else does.
	ErrStateConflict = errors.New("state conflict")
)

// SubmissionError reports a task rejected by the queue. The queue's own
// error is preserved unchanged for errors.Is / errors.As.
type SubmissionError struct {
	Tool string
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s: %v", e.Tool, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// WaitTimeoutError reports a bounded wait that exceeded its deadline.
// It carries the last observed state so a timeout never hides what the
// queue reported last.
type WaitTimeoutError struct {
	TaskID    string
	Wait      time.Duration
	LastState TaskState

	// Workflow is set when the timeout came from WaitForWorkflow; it holds
	// the aggregate computed on the final tick.
	Workflow *WorkflowStatus
}

func (e *WaitTimeoutError) Error() string {
	if e.Workflow != nil {
		terminal := e.Workflow.Completed + e.Workflow.Failed
		return fmt.Sprintf("workflow wait timed out after %v (%d/%d tasks terminal)",
			e.Wait, terminal, e.Workflow.Total)
	}
	return fmt.Sprintf("task %s timed out after %v (last state %s)",
		e.TaskID, e.Wait, e.LastState)
}

// Timeout reports true so callers can use net-style timeout checks.
func (e *WaitTimeoutError) Timeout() bool { return true }
