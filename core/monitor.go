package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MonitorStats is a snapshot of monitor state for observability pollers.
type MonitorStats struct {
	ActiveJobs    int
	FinalizedJobs int64
	Succeeded     int64
	Failed        int64
}

// JobMonitor records one lifecycle record per monitored job, drives the
// profiler around it, and appends finalized records to a history store.
//
// At most one active (unfinalized) record may exist per task ID at a time
// within a process; this is an in-memory guarantee, not a distributed one.
type JobMonitor struct {
	profiler *Profiler
	history  HistoryStore
	logger   Logger

	mu     sync.Mutex
	active map[string]*activeJob

	finalized atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// activeJob tracks one running record and whether it owns the profiling
// window. With a single shared profiler, only one concurrent job can
// profile; the others degrade to lifecycle-only records.
type activeJob struct {
	rec      *JobRecord
	profiled bool
}

// NewJobMonitor creates a monitor over the given profiler and history
// store. The profiler may be nil, in which case records carry no resource
// usage.
func NewJobMonitor(profiler *Profiler, history HistoryStore) *JobMonitor {
	return &JobMonitor{
		profiler: profiler,
		history:  history,
		logger:   NewNoOpLogger(),
		active:   make(map[string]*activeJob),
	}
}

// SetLogger sets the logger for the monitor
func (m *JobMonitor) SetLogger(logger Logger) {
	m.logger = logger
}

// Stats returns a snapshot of monitor counters.
func (m *JobMonitor) Stats() MonitorStats {
	m.mu.Lock()
	activeCount := len(m.active)
	m.mu.Unlock()

	return MonitorStats{
		ActiveJobs:    activeCount,
		FinalizedJobs: m.finalized.Load(),
		Succeeded:     m.succeeded.Load(),
		Failed:        m.failed.Load(),
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// StartMonitoring registers a running record for taskID and opens a
// profiling window. It fails with ErrStateConflict when taskID already has
// an active record. The returned record is a copy.
func (m *JobMonitor) StartMonitoring(ctx context.Context, taskID, tool, script string, params map[string]any, containerName string) (*JobRecord, error) {
	rec := &JobRecord{
		TaskID:    taskID,
		Tool:      tool,
		Script:    script,
		Params:    params,
		StartTime: time.Now(),
		Status:    JobStatusRunning,
	}

	m.mu.Lock()
	if _, exists := m.active[taskID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s already monitored: %w", taskID, ErrStateConflict)
	}
	entry := &activeJob{rec: rec}
	m.active[taskID] = entry
	m.mu.Unlock()

	if m.profiler != nil {
		// A busy profiler only degrades this record to lifecycle-only; the
		// job itself is still monitored.
		if err := m.profiler.Start(ctx, containerName); err != nil {
			m.logger.Warn("profiling unavailable for job",
				F("task", taskID), F("error", err))
		} else {
			entry.profiled = true
		}
	}

	m.logger.Info("job monitoring started", F("task", taskID), F("tool", tool))
	return rec.Clone(), nil
}

// StopMonitoring finalizes the record for taskID: it closes the profiling
// window, computes the duration from the same start/stop stamps that bound
// the window, appends the record to history and removes the active entry.
// It fails with ErrNotFound when taskID has no active record. Calling it a
// second time for the same start is therefore a hard error, not a no-op.
func (m *JobMonitor) StopMonitoring(ctx context.Context, taskID string, status JobStatus, returncode int, errMsg string) (*JobRecord, error) {
	m.mu.Lock()
	entry, ok := m.active[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %s has no active record: %w", taskID, ErrNotFound)
	}
	delete(m.active, taskID)
	m.mu.Unlock()

	rec := entry.rec
	if entry.profiled {
		summary, err := m.profiler.Stop()
		if err != nil {
			m.logger.Warn("profiler stop failed", F("task", taskID), F("error", err))
		} else {
			rec.ResourceUsage = summary
		}
	}

	rec.EndTime = time.Now()
	rec.DurationSeconds = rec.EndTime.Sub(rec.StartTime).Seconds()
	rec.Status = status
	rec.Returncode = returncode
	rec.Error = errMsg

	if err := m.history.Append(ctx, rec); err != nil {
		// The record is still finalized and returned; losing a history line
		// must not wedge the job's own completion.
		m.logger.Error("history append failed", F("task", taskID), F("error", err))
	}

	m.finalized.Add(1)
	if status == JobStatusSuccess {
		m.succeeded.Add(1)
	} else {
		m.failed.Add(1)
	}

	m.logger.Info("job monitoring stopped",
		F("task", taskID), F("status", status), F("duration", rec.DurationSeconds))
	return rec.Clone(), nil
}

// =============================================================================
// Scoped Tracking
// =============================================================================

// Track is the scoped form of StartMonitoring/StopMonitoring. It starts
// monitoring immediately; Close finalizes exactly once on every exit path.
// Unless the caller records a different outcome first, Close reports
// success with returncode 0.
//
//	tracker, err := monitor.Track(ctx, id, tool, script, params, "")
//	if err != nil { ... }
//	defer tracker.Close(ctx)
//
//	if err := run(); err != nil {
//		tracker.Fail(err)
//	}
func (m *JobMonitor) Track(ctx context.Context, taskID, tool, script string, params map[string]any, containerName string) (*JobTracker, error) {
	if _, err := m.StartMonitoring(ctx, taskID, tool, script, params, containerName); err != nil {
		return nil, err
	}
	return &JobTracker{
		monitor:    m,
		taskID:     taskID,
		status:     JobStatusSuccess,
		returncode: 0,
	}, nil
}

// JobTracker guards one monitored job. Its zero outcome is success; Fail or
// SetResult override it. Close is idempotent and finalizes exactly once.
type JobTracker struct {
	monitor *JobMonitor
	taskID  string

	mu         sync.Mutex
	status     JobStatus
	returncode int
	errMsg     string

	once     sync.Once
	final    *JobRecord
	closeErr error
}

// SetResult records the outcome Close will report.
func (t *JobTracker) SetResult(status JobStatus, returncode int, errMsg string) {
	t.mu.Lock()
	t.status = status
	t.returncode = returncode
	t.errMsg = errMsg
	t.mu.Unlock()
}

// Fail forces the outcome to error with the failure message, overriding any
// earlier SetResult.
func (t *JobTracker) Fail(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.SetResult(JobStatusError, 1, msg)
}

// Close finalizes the job. Only the first call stops monitoring; later
// calls return the first call's outcome, so a deferred Close after an
// explicit one can never double-finalize.
func (t *JobTracker) Close(ctx context.Context) (*JobRecord, error) {
	t.once.Do(func() {
		t.mu.Lock()
		status, returncode, errMsg := t.status, t.returncode, t.errMsg
		t.mu.Unlock()

		t.final, t.closeErr = t.monitor.StopMonitoring(ctx, t.taskID, status, returncode, errMsg)
	})
	return t.final, t.closeErr
}

// =============================================================================
// History Queries
// =============================================================================

// JobStats returns the most recent finalized record for taskID, or
// ErrNotFound when the history holds none.
func (m *JobMonitor) JobStats(ctx context.Context, taskID string) (*JobRecord, error) {
	records, err := m.history.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.TaskID == taskID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
}

// History returns the most recent limit finalized records, newest first.
func (m *JobMonitor) History(ctx context.Context, limit int) ([]*JobRecord, error) {
	return m.history.List(ctx, limit)
}

// SummaryStatistics aggregates the full history. On an empty history every
// count and rate is zero; no division by zero occurs.
func (m *JobMonitor) SummaryStatistics(ctx context.Context) (*SummaryStatistics, error) {
	records, err := m.history.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	stats := &SummaryStatistics{ByTool: make(map[string]ToolStats)}
	for _, rec := range records {
		stats.TotalJobs++
		stats.TotalDurationSeconds += rec.DurationSeconds

		success := rec.Status == JobStatusSuccess
		if success {
			stats.Successful++
		} else {
			stats.Failed++
		}

		if rec.ResourceUsage != nil && rec.ResourceUsage.SamplesCollected > 0 {
			stats.TotalCPUTimeSeconds += rec.DurationSeconds * rec.ResourceUsage.CPUPercent.Mean / 100
		}

		tool := stats.ByTool[rec.Tool]
		tool.Count++
		if success {
			tool.Successful++
		} else {
			tool.Failed++
		}
		tool.TotalDurationSeconds += rec.DurationSeconds
		tool.AverageDurationSeconds = tool.TotalDurationSeconds / float64(tool.Count)
		stats.ByTool[rec.Tool] = tool
	}

	if stats.TotalJobs > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalJobs)
		stats.AverageDurationSeconds = stats.TotalDurationSeconds / float64(stats.TotalJobs)
	}
	return stats, nil
}
