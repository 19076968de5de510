package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/hpcgrid/simflow/core"
)

const nvidiaSMITimeout = 2 * time.Second

// NvidiaProbe reads GPU utilization by invoking nvidia-smi. A missing tool
// or a parse failure is reported as an error to the sampling loop, which
// drops the GPU field for that tick; it is never fatal.
type NvidiaProbe struct {
	// Path to the nvidia-smi binary; "nvidia-smi" resolves via PATH.
	Path string
}

// NewNvidiaProbe creates a probe using nvidia-smi from PATH.
func NewNvidiaProbe() *NvidiaProbe {
	return &NvidiaProbe{Path: "nvidia-smi"}
}

// Sample queries utilization and memory for all visible GPUs and reduces
// multi-GPU hosts to mean utilization and total memory used.
func (p *NvidiaProbe) Sample() (core.GPUStat, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nvidiaSMITimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.Path,
		"--query-gpu=utilization.gpu,memory.used",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return core.GPUStat{}, fmt.Errorf("nvidia-smi: %w", err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI parses "util, mem" CSV lines, one per GPU.
func parseNvidiaSMI(out string) (core.GPUStat, error) {
	var utilSum, memTotal float64
	gpus := 0

	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return core.GPUStat{}, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		util, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return core.GPUStat{}, fmt.Errorf("parse utilization %q: %w", parts[0], err)
		}
		mem, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return core.GPUStat{}, fmt.Errorf("parse memory %q: %w", parts[1], err)
		}
		utilSum += util
		memTotal += mem
		gpus++
	}

	if gpus == 0 {
		return core.GPUStat{}, fmt.Errorf("nvidia-smi reported no GPUs")
	}
	return core.GPUStat{
		UtilizationPercent: utilSum / float64(gpus),
		MemoryUsedMB:       memTotal,
	}, nil
}
