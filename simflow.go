package simflow

import (
	"sync"
	"time"

	"github.com/hpcgrid/simflow/core"
	"github.com/hpcgrid/simflow/probe"
)

// Config collects the collaborators the Runtime wires together. Every field
// is optional except Queue, which Pipeline requires.
type Config struct {
	// Queue is the external task-queue client the pipeline submits to.
	Queue core.QueueClient

	// HistoryPath is the append-only JSONL history file. Empty selects an
	// in-memory history, useful for tests and short-lived tools.
	HistoryPath string

	// SampleInterval overrides the profiler's sampling interval.
	SampleInterval time.Duration

	// Logger is shared by all constructed components. Defaults to NoOpLogger.
	Logger core.Logger

	// SystemProbe overrides the default gopsutil process probe.
	SystemProbe core.SystemProbe

	// GPUProbe overrides the default nvidia-smi probe.
	GPUProbe core.GPUProbe

	// ContainerProbe overrides the default Docker engine probe. When left
	// nil and no engine is reachable, container sampling is simply absent.
	ContainerProbe core.ContainerProbe
}

// Runtime is the composition root. It owns exactly one Profiler, one
// JobMonitor and one Pipeline, each constructed lazily on first use and
// shared by every later caller, so call sites never race to build
// redundant sampling goroutines.
type Runtime struct {
	cfg    Config
	logger core.Logger

	profilerOnce sync.Once
	profiler     *core.Profiler

	monitorOnce sync.Once
	monitor     *core.JobMonitor

	pipelineOnce sync.Once
	pipeline     *core.Pipeline
}

// New creates a Runtime from the given configuration.
func New(cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	return &Runtime{cfg: cfg, logger: logger}
}

// Profiler returns the runtime's single profiler, constructing it on first
// call. Probes that cannot be constructed degrade to absent metrics.
func (r *Runtime) Profiler() *core.Profiler {
	r.profilerOnce.Do(func() {
		system := r.cfg.SystemProbe
		if system == nil {
			sys, err := probe.NewSystemProbe()
			if err != nil {
				r.logger.Warn("system probe unavailable", core.F("error", err))
			} else {
				system = sys
			}
		}

		p := core.NewProfiler(system)
		p.SetLogger(r.logger)
		if r.cfg.SampleInterval > 0 {
			p.SetInterval(r.cfg.SampleInterval)
		}

		if r.cfg.GPUProbe != nil {
			p.SetGPUProbe(r.cfg.GPUProbe)
		} else {
			p.SetGPUProbe(probe.NewNvidiaProbe())
		}

		if r.cfg.ContainerProbe != nil {
			p.SetContainerProbe(r.cfg.ContainerProbe)
		} else if docker, err := probe.NewDockerProbe(); err == nil {
			p.SetContainerProbe(docker)
		} else {
			r.logger.Debug("container probe unavailable", core.F("error", err))
		}

		r.profiler = p
	})
	return r.profiler
}

// Monitor returns the runtime's single job monitor, constructing it (and
// its history store) on first call.
func (r *Runtime) Monitor() *core.JobMonitor {
	r.monitorOnce.Do(func() {
		var history core.HistoryStore
		if r.cfg.HistoryPath != "" {
			jsonl := core.NewJSONLHistory(r.cfg.HistoryPath)
			jsonl.SetLogger(r.logger)
			history = jsonl
		} else {
			history = core.NewMemoryHistory()
		}

		m := core.NewJobMonitor(r.Profiler(), history)
		m.SetLogger(r.logger)
		r.monitor = m
	})
	return r.monitor
}

// Pipeline returns the runtime's single pipeline, constructing it on first
// call. It panics when Config.Queue was not provided; the pipeline cannot
// exist without a queue.
func (r *Runtime) Pipeline() *core.Pipeline {
	r.pipelineOnce.Do(func() {
		if r.cfg.Queue == nil {
			panic("simflow: Config.Queue is required for Pipeline")
		}
		p := core.NewPipeline(r.cfg.Queue)
		p.SetLogger(r.logger)
		r.pipeline = p
	})
	return r.pipeline
}
