// Package probe provides concrete metric sources for the profiler: process
// counters via gopsutil, container counters via the Docker Engine API, and
// GPU counters via the NVIDIA vendor tool.
package probe

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hpcgrid/simflow/core"
)

const bytesPerMB = 1024 * 1024

// SystemProbe reads CPU, memory and IO counters for the current process.
type SystemProbe struct {
	proc *process.Process
}

// NewSystemProbe creates a probe bound to the current process.
func NewSystemProbe() (*SystemProbe, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("resolve current process: %w", err)
	}
	return &SystemProbe{proc: proc}, nil
}

// Sample reads the current counters. CPU percent is measured since the
// previous call. IO counters are unsupported on some platforms; they
// degrade to zero rather than failing the whole reading.
func (p *SystemProbe) Sample() (core.SystemStat, error) {
	cpu, err := p.proc.CPUPercent()
	if err != nil {
		return core.SystemStat{}, fmt.Errorf("cpu percent: %w", err)
	}

	mem, err := p.proc.MemoryInfo()
	if err != nil {
		return core.SystemStat{}, fmt.Errorf("memory info: %w", err)
	}

	stat := core.SystemStat{
		CPUPercent:   cpu,
		MemoryUsedMB: float64(mem.RSS) / bytesPerMB,
	}

	if io, err := p.proc.IOCounters(); err == nil {
		stat.IOReadMB = float64(io.ReadBytes) / bytesPerMB
		stat.IOWriteMB = float64(io.WriteBytes) / bytesPerMB
	}
	return stat, nil
}
