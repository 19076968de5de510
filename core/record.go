package core

import (
	"time"
)

// =============================================================================
// Job Data Models
// =============================================================================

// JobStatus is the terminal (or running) outcome of one monitored job.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusFailed    JobStatus = "failed"
	JobStatusError     JobStatus = "error"
	JobStatusTimeout   JobStatus = "timeout"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s != JobStatusRunning && s != ""
}

// JobRecord is one job's lifecycle record. It is created at
// StartMonitoring with status running, finalized exactly once at
// StopMonitoring, and never mutated after it has been appended to history.
type JobRecord struct {
	TaskID          string           `json:"task_id"`
	Tool            string           `json:"tool"`
	Script          string           `json:"script"`
	Params          map[string]any   `json:"params,omitempty"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time,omitzero"`
	DurationSeconds float64          `json:"duration_seconds"`
	Status          JobStatus        `json:"status"`
	Returncode      int              `json:"returncode"`
	Error           string           `json:"error,omitempty"`
	ResourceUsage   *ResourceSummary `json:"resource_usage,omitempty"`
}

// Clone returns a deep copy so callers can never mutate monitor-owned state.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Params != nil {
		cp.Params = make(map[string]any, len(r.Params))
		for k, v := range r.Params {
			cp.Params[k] = v
		}
	}
	if r.ResourceUsage != nil {
		usage := *r.ResourceUsage
		if r.ResourceUsage.GPU != nil {
			gpu := *r.ResourceUsage.GPU
			usage.GPU = &gpu
		}
		if r.ResourceUsage.Container != nil {
			c := *r.ResourceUsage.Container
			usage.Container = &c
		}
		cp.ResourceUsage = &usage
	}
	return &cp
}

// =============================================================================
// Resource Samples
// =============================================================================

// CPUStat is one process CPU reading.
type CPUStat struct {
	Percent float64 `json:"percent"`
}

// MemoryStat is one process memory reading.
type MemoryStat struct {
	UsedMB float64 `json:"used_mb"`
}

// IOStat is one cumulative process IO reading.
type IOStat struct {
	ReadMB  float64 `json:"read_mb"`
	WriteMB float64 `json:"write_mb"`
}

// GPUStat is one GPU reading, parsed opportunistically from the vendor tool.
type GPUStat struct {
	UtilizationPercent float64 `json:"utilization_percent"`
	MemoryUsedMB       float64 `json:"memory_used_mb"`
}

// ContainerStat is one container runtime reading. The zero value means the
// container could not be inspected.
type ContainerStat struct {
	CPUPercent   float64 `json:"cpu_percent"`
	MemoryUsedMB float64 `json:"memory_used_mb"`
}

// Empty reports whether the probe produced no reading.
func (c ContainerStat) Empty() bool {
	return c.CPUPercent == 0 && c.MemoryUsedMB == 0
}

// Sample is one timestamped reading taken by the profiling loop. A nil
// field means that source failed or was not configured for this tick;
// the remaining fields are still valid.
type Sample struct {
	Timestamp time.Time      `json:"timestamp"`
	CPU       *CPUStat       `json:"cpu,omitempty"`
	Memory    *MemoryStat    `json:"memory,omitempty"`
	IO        *IOStat        `json:"io,omitempty"`
	GPU       *GPUStat       `json:"gpu,omitempty"`
	Container *ContainerStat `json:"container,omitempty"`
}

// =============================================================================
// Resource Summaries
// =============================================================================

// MetricSummary reduces one metric's samples to min/mean/max.
type MetricSummary struct {
	Min  float64 `json:"min"`
	Mean float64 `json:"mean"`
	Max  float64 `json:"max"`
}

// summarize reduces a value series. An empty series yields the zero summary.
func summarize(values []float64) MetricSummary {
	if len(values) == 0 {
		return MetricSummary{}
	}
	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return MetricSummary{Min: min, Mean: sum / float64(len(values)), Max: max}
}

// GPUSummary reduces the GPU samples of one window.
type GPUSummary struct {
	UtilizationPercent MetricSummary `json:"utilization_percent"`
	MemoryUsedMB       MetricSummary `json:"memory_used_mb"`
}

// ContainerSummary reduces the container samples of one window.
type ContainerSummary struct {
	CPUPercent   MetricSummary `json:"cpu_percent"`
	MemoryUsedMB MetricSummary `json:"memory_used_mb"`
}

// ResourceSummary is the reduction of one profiling window. Its metric
// fields are only meaningful when SamplesCollected > 0.
type ResourceSummary struct {
	DurationSeconds  float64           `json:"duration_seconds"`
	SamplesCollected int               `json:"samples_collected"`
	CPUPercent       MetricSummary     `json:"cpu_percent"`
	MemoryUsedMB     MetricSummary     `json:"memory_used_mb"`
	IOReadMB         MetricSummary     `json:"io_read_mb"`
	IOWriteMB        MetricSummary     `json:"io_write_mb"`
	GPU              *GPUSummary       `json:"gpu_stats,omitempty"`
	Container        *ContainerSummary `json:"container_stats,omitempty"`
}

// =============================================================================
// Aggregate Statistics
// =============================================================================

// ToolStats aggregates history records for a single tool.
type ToolStats struct {
	Count                  int     `json:"count"`
	Successful             int     `json:"successful"`
	Failed                 int     `json:"failed"`
	TotalDurationSeconds   float64 `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
}

// SummaryStatistics aggregates the full job history. SuccessRate is 0 when
// TotalJobs is 0.
type SummaryStatistics struct {
	TotalJobs              int                  `json:"total_jobs"`
	Successful             int                  `json:"successful"`
	Failed                 int                  `json:"failed"`
	SuccessRate            float64              `json:"success_rate"`
	TotalCPUTimeSeconds    float64              `json:"total_cpu_time_seconds"`
	TotalDurationSeconds   float64              `json:"total_duration_seconds"`
	AverageDurationSeconds float64              `json:"average_duration_seconds"`
	ByTool                 map[string]ToolStats `json:"by_tool"`
}
