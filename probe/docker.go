package probe

import (
	"context"
	"encoding/json"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"github.com/hpcgrid/simflow/core"
)

// DockerProbe resolves a container name to engine-reported resource
// counters. Any inspection failure - unknown container, stopped daemon,
// truncated stats - yields the empty ContainerStat rather than an error:
// the container runtime being unreachable must never abort sampling.
type DockerProbe struct {
	cli *client.Client
}

// NewDockerProbe connects to the engine using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDockerProbe() (*DockerProbe, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerProbe{cli: cli}, nil
}

// Close releases the engine connection.
func (p *DockerProbe) Close() error {
	return p.cli.Close()
}

// Inspect reads one stats snapshot for the named container.
func (p *DockerProbe) Inspect(ctx context.Context, name string) (core.ContainerStat, error) {
	resp, err := p.cli.ContainerStats(ctx, name, false)
	if err != nil {
		return core.ContainerStat{}, nil
	}
	defer resp.Body.Close()

	var stats types.StatsJSON
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return core.ContainerStat{}, nil
	}

	return core.ContainerStat{
		CPUPercent:   cpuPercent(&stats),
		MemoryUsedMB: float64(memoryUsage(&stats)) / bytesPerMB,
	}, nil
}

// cpuPercent follows the docker CLI's calculation: usage delta over system
// delta, scaled by online CPUs.
func cpuPercent(s *types.StatsJSON) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || sysDelta <= 0 {
		return 0
	}

	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	return cpuDelta / sysDelta * online * 100
}

// memoryUsage subtracts the page cache the way docker stats does, so the
// figure tracks actual anonymous usage.
func memoryUsage(s *types.StatsJSON) uint64 {
	usage := s.MemoryStats.Usage
	if cache, ok := s.MemoryStats.Stats["inactive_file"]; ok && cache < usage {
		return usage - cache
	}
	if cache, ok := s.MemoryStats.Stats["cache"]; ok && cache < usage {
		return usage - cache
	}
	return usage
}
