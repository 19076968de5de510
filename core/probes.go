package core

import (
	"context"
	"errors"
)

// =============================================================================
// SystemProbe: process-level counters
// =============================================================================

// SystemStat is one reading of the monitored process's counters. IO values
// are cumulative since process start.
type SystemStat struct {
	CPUPercent   float64
	MemoryUsedMB float64
	IOReadMB     float64
	IOWriteMB    float64
}

// SystemProbe reads CPU, memory and IO counters for the current process.
//
// Implementations may fail transiently; the sampling loop absorbs a failure
// by dropping the system fields from that tick's sample only.
type SystemProbe interface {
	Sample() (SystemStat, error)
}

// =============================================================================
// GPUProbe: vendor tool readings
// =============================================================================

// GPUProbe reads GPU utilization from a vendor tool. Absence of a GPU or of
// the tool is never an error that aborts sampling; implementations return
// an error and the loop drops the field.
type GPUProbe interface {
	Sample() (GPUStat, error)
}

// =============================================================================
// ContainerProbe: runtime-reported counters
// =============================================================================

// ContainerProbe resolves a container identifier to runtime-reported
// resource counters. When the container cannot be inspected the probe
// returns the zero ContainerStat (see ContainerStat.Empty), not an error
// the caller has to branch on.
type ContainerProbe interface {
	Inspect(ctx context.Context, name string) (ContainerStat, error)
}

// errProbeUnavailable marks a probe with nothing to report for this tick.
var errProbeUnavailable = errors.New("probe unavailable")

// NilSystemProbe is a probe that never produces a reading. It is the
// default when no probe is configured.
type NilSystemProbe struct{}

func (NilSystemProbe) Sample() (SystemStat, error) {
	return SystemStat{}, errProbeUnavailable
}
