package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultPollInterval is the pause between status checks in the pipeline's
// cooperative waiting loops.
const DefaultPollInterval = 500 * time.Millisecond

// =============================================================================
// Pipeline - Queued Task Orchestration
// =============================================================================

// TaskSpec is one unit of an externally produced workflow definition.
type TaskSpec struct {
	Tool   string         `json:"tool"`
	Script string         `json:"script"`
	Params map[string]any `json:"params,omitempty"`
}

// Workflow identifies a set of task handles submitted together and tracked
// jointly.
type Workflow struct {
	ID         string
	TaskIDs    []string
	Sequential bool
}

// WorkflowStatus is the ephemeral aggregate recomputed on every poll over a
// fixed set of task handles. It is never persisted.
type WorkflowStatus struct {
	Total     int
	Completed int
	Running   int
	Failed    int
}

// Done reports whether every task in the set is terminal.
func (s WorkflowStatus) Done() bool {
	return s.Completed+s.Failed >= s.Total
}

// TaskStatus is the normalized view of one queued task.
type TaskStatus struct {
	TaskID   string
	State    TaskState
	Ready    bool    // true iff State is terminal
	Progress float64 // 0 unless the queue reports fractional progress
	Result   any     // recorded result value, set once terminal
}

// SweepProgress is passed to the ParameterSweep callback after each batch.
type SweepProgress struct {
	BatchNum  int
	BatchSize int
	Submitted int
	Total     int
}

// ParallelStats summarizes a set of concurrently executed tasks.
//
// Speedup is the sum of individual task durations divided by the observed
// wall-clock span; Efficiency is Speedup divided by the task count. The
// figures assume the tasks actually ran concurrently (i.e. were submitted
// non-sequentially); this is not verified.
type ParallelStats struct {
	Count              int
	TotalTaskSeconds   float64
	WallClockSeconds   float64
	AvgDurationSeconds float64
	Speedup            float64
	Efficiency         float64
}

// PipelineStats is a snapshot of pipeline counters for observability pollers.
type PipelineStats struct {
	Submitted int64
	Cancelled int64
	Sweeps    int64
}

// Pipeline submits tasks to an external queue and polls it for status.
// All waiting is single-threaded and cooperative: each call blocks its
// caller, sleeping between checks, and spawns no internal goroutines.
type Pipeline struct {
	queue        QueueClient
	logger       Logger
	pollInterval time.Duration

	submitted atomic.Int64
	cancelled atomic.Int64
	sweeps    atomic.Int64
}

// NewPipeline creates a pipeline over the given queue client.
func NewPipeline(queue QueueClient) *Pipeline {
	return &Pipeline{
		queue:        queue,
		logger:       NewNoOpLogger(),
		pollInterval: DefaultPollInterval,
	}
}

// SetLogger sets the logger for the pipeline
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// SetPollInterval sets the default pause between status checks.
func (p *Pipeline) SetPollInterval(interval time.Duration) {
	if interval > 0 {
		p.pollInterval = interval
	}
}

// Stats returns a snapshot of the pipeline's submission counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Submitted: p.submitted.Load(),
		Cancelled: p.cancelled.Load(),
		Sweeps:    p.sweeps.Load(),
	}
}

// =============================================================================
// Submission
// =============================================================================

// SubmitTask passes one task to the queue's asynchronous submit. It holds
// no local state; the returned handle is the queue's own identifier.
func (p *Pipeline) SubmitTask(ctx context.Context, tool, script string, params map[string]any) (string, error) {
	handle, err := p.queue.Submit(ctx, tool, script, params)
	if err != nil {
		return "", &SubmissionError{Tool: tool, Err: err}
	}

	p.submitted.Add(1)
	p.logger.Debug("task submitted", F("task", handle), F("tool", tool), F("script", script))
	return handle, nil
}

// SubmitWorkflow submits an ordered list of tasks.
//
// In sequential mode, task i+1 is submitted only after task i reaches a
// terminal state - any terminal state, not necessarily success, so a failed
// task does not halt the remaining submissions. In parallel mode all tasks
// are submitted immediately. The two modes trade latency against burst load
// on the worker pool.
func (p *Pipeline) SubmitWorkflow(ctx context.Context, tasks []TaskSpec, sequential bool) (*Workflow, error) {
	wf := &Workflow{
		ID:         uuid.NewString(),
		TaskIDs:    make([]string, 0, len(tasks)),
		Sequential: sequential,
	}

	for i, spec := range tasks {
		if sequential && i > 0 {
			prev := wf.TaskIDs[i-1]
			if err := p.waitTerminal(ctx, prev); err != nil {
				return wf, err
			}
		}

		handle, err := p.SubmitTask(ctx, spec.Tool, spec.Script, spec.Params)
		if err != nil {
			return wf, err
		}
		wf.TaskIDs = append(wf.TaskIDs, handle)
	}

	p.logger.Info("workflow submitted",
		F("workflow", wf.ID), F("tasks", len(wf.TaskIDs)), F("sequential", sequential))
	return wf, nil
}

// waitTerminal blocks until the handle reaches any terminal state. Only the
// caller's context bounds the wait.
func (p *Pipeline) waitTerminal(ctx context.Context, handle string) error {
	for {
		state, err := p.queue.State(ctx, handle)
		if err != nil {
			return err
		}
		if state.Terminal() {
			return nil
		}
		if err := sleepCtx(ctx, p.pollInterval); err != nil {
			return err
		}
	}
}

// =============================================================================
// Status and Waiting
// =============================================================================

// GetTaskStatus normalizes the queue's native state for one handle.
func (p *Pipeline) GetTaskStatus(ctx context.Context, taskID string) (TaskStatus, error) {
	state, err := p.queue.State(ctx, taskID)
	if err != nil {
		return TaskStatus{}, err
	}

	status := TaskStatus{TaskID: taskID, State: state, Ready: state.Terminal()}

	if pr, ok := p.queue.(ProgressReporter); ok {
		if frac, reported := pr.Progress(ctx, taskID); reported {
			status.Progress = frac
		}
	}

	if status.Ready {
		// Result fetch is opportunistic here; a queue that cannot return
		// it immediately just leaves the field unset.
		if res, err := p.queue.Result(ctx, taskID, 0); err == nil {
			status.Result = res.Value
		}
	}
	return status, nil
}

// MonitorTask polls a task cooperatively, invoking callback with each
// observed status until the task is ready. It returns the final status.
func (p *Pipeline) MonitorTask(ctx context.Context, taskID string, pollInterval time.Duration, callback func(TaskStatus)) (TaskStatus, error) {
	if pollInterval <= 0 {
		pollInterval = p.pollInterval
	}

	for {
		status, err := p.GetTaskStatus(ctx, taskID)
		if err != nil {
			return TaskStatus{}, err
		}
		if callback != nil {
			callback(status)
		}
		if status.Ready {
			return status, nil
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return status, err
		}
	}
}

// WaitForTask polls until the task is terminal or the timeout elapses, then
// returns the recorded result. A timeout fails with WaitTimeoutError
// carrying the last observed state.
func (p *Pipeline) WaitForTask(ctx context.Context, taskID string, timeout time.Duration) (TaskResult, error) {
	deadline := time.Now().Add(timeout)
	lastState := TaskStatePending

	for {
		state, err := p.queue.State(ctx, taskID)
		if err != nil {
			return TaskResult{}, err
		}
		lastState = state

		if state.Terminal() {
			return p.queue.Result(ctx, taskID, 0)
		}
		if !time.Now().Before(deadline) {
			return TaskResult{}, &WaitTimeoutError{TaskID: taskID, Wait: timeout, LastState: lastState}
		}
		if err := sleepCtx(ctx, minDuration(p.pollInterval, time.Until(deadline))); err != nil {
			return TaskResult{}, err
		}
	}
}

// WaitForWorkflow recomputes the aggregate status each tick, invoking
// callback, and returns once every handle is terminal. When the timeout
// elapses first it fails with WaitTimeoutError carrying the aggregate from
// the final tick; a timeout of zero checks exactly once without blocking.
func (p *Pipeline) WaitForWorkflow(ctx context.Context, taskIDs []string, timeout time.Duration, pollInterval time.Duration, callback func(WorkflowStatus)) (WorkflowStatus, error) {
	if pollInterval <= 0 {
		pollInterval = p.pollInterval
	}
	deadline := time.Now().Add(timeout)

	for {
		status, err := p.workflowStatus(ctx, taskIDs)
		if err != nil {
			return WorkflowStatus{}, err
		}
		if callback != nil {
			callback(status)
		}
		if status.Done() {
			return status, nil
		}
		if !time.Now().Before(deadline) {
			st := status
			return status, &WaitTimeoutError{Wait: timeout, Workflow: &st}
		}
		if err := sleepCtx(ctx, minDuration(pollInterval, time.Until(deadline))); err != nil {
			return status, err
		}
	}
}

// workflowStatus computes the aggregate over a fixed set of handles.
func (p *Pipeline) workflowStatus(ctx context.Context, taskIDs []string) (WorkflowStatus, error) {
	status := WorkflowStatus{Total: len(taskIDs)}

	for _, id := range taskIDs {
		state, err := p.queue.State(ctx, id)
		if err != nil {
			return WorkflowStatus{}, err
		}
		switch state {
		case TaskStateSuccess:
			status.Completed++
		case TaskStateFailure, TaskStateRevoked:
			status.Failed++
		default:
			status.Running++
		}
	}
	return status, nil
}

// =============================================================================
// Parameter Sweeps
// =============================================================================

// GridAxis is one named parameter with its candidate values.
type GridAxis struct {
	Name   string
	Values []any
}

// ParamGrid is an ordered parameter grid. Its Cartesian product defines a
// sweep; the first axis varies slowest.
type ParamGrid []GridAxis

// Size returns the Cartesian product size of the grid.
func (g ParamGrid) Size() int {
	if len(g) == 0 {
		return 0
	}
	total := 1
	for _, axis := range g {
		total *= len(axis.Values)
	}
	return total
}

// point materializes the i-th combination in nested-iteration order.
func (g ParamGrid) point(i int) map[string]any {
	params := make(map[string]any, len(g))
	for k := len(g) - 1; k >= 0; k-- {
		n := len(g[k].Values)
		params[g[k].Name] = g[k].Values[i%n]
		i /= n
	}
	return params
}

// ParameterSweep submits the full Cartesian product of the grid in
// fixed-size batches, invoking callback after each batch. It returns the
// handles of all submitted tasks; a submission failure returns the handles
// submitted so far together with the error.
func (p *Pipeline) ParameterSweep(ctx context.Context, tool, script string, grid ParamGrid, batchSize int, callback func(SweepProgress)) ([]string, error) {
	total := grid.Size()
	if batchSize <= 0 {
		batchSize = total
	}

	sweepID := uuid.NewString()
	p.logger.Info("parameter sweep starting",
		F("sweep", sweepID), F("tool", tool), F("total", total), F("batchSize", batchSize))

	handles := make([]string, 0, total)
	batchNum := 0

	for i := 0; i < total; i++ {
		handle, err := p.SubmitTask(ctx, tool, script, grid.point(i))
		if err != nil {
			return handles, err
		}
		handles = append(handles, handle)

		if len(handles)%batchSize == 0 || len(handles) == total {
			batchNum++
			if callback != nil {
				callback(SweepProgress{
					BatchNum:  batchNum,
					BatchSize: batchSize,
					Submitted: len(handles),
					Total:     total,
				})
			}
		}
	}

	p.sweeps.Add(1)
	p.logger.Info("parameter sweep submitted", F("sweep", sweepID), F("submitted", len(handles)))
	return handles, nil
}

// =============================================================================
// Cross-Task Statistics
// =============================================================================

// ParallelExecutionStats computes speedup and efficiency over a set of
// terminal tasks from their recorded durations and the observed wall-clock
// span.
func (p *Pipeline) ParallelExecutionStats(ctx context.Context, taskIDs []string) (ParallelStats, error) {
	stats := ParallelStats{Count: len(taskIDs)}
	if len(taskIDs) == 0 {
		return stats, nil
	}

	var earliest, latest time.Time
	for _, id := range taskIDs {
		res, err := p.queue.Result(ctx, id, 0)
		if err != nil {
			return ParallelStats{}, err
		}
		stats.TotalTaskSeconds += res.Duration().Seconds()
		if earliest.IsZero() || res.StartedAt.Before(earliest) {
			earliest = res.StartedAt
		}
		if res.FinishedAt.After(latest) {
			latest = res.FinishedAt
		}
	}

	stats.AvgDurationSeconds = stats.TotalTaskSeconds / float64(stats.Count)
	if latest.After(earliest) {
		stats.WallClockSeconds = latest.Sub(earliest).Seconds()
		stats.Speedup = stats.TotalTaskSeconds / stats.WallClockSeconds
		stats.Efficiency = stats.Speedup / float64(stats.Count)
	}
	return stats, nil
}

// =============================================================================
// Cancellation
// =============================================================================

// CancelTask delegates to the queue's revoke primitive. Cancellation is
// best-effort and asynchronous; the boolean reflects request acceptance,
// not confirmed termination, and no local monitoring cleanup happens here.
func (p *Pipeline) CancelTask(ctx context.Context, taskID string) (bool, error) {
	accepted, err := p.queue.Revoke(ctx, taskID)
	if err != nil {
		return false, err
	}
	if accepted {
		p.cancelled.Add(1)
		p.logger.Info("task revoke requested", F("task", taskID))
	}
	return accepted, nil
}

// =============================================================================
// Helpers
// =============================================================================

// sleepCtx pauses for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if b > 0 && b < a {
		return b
	}
	return a
}
