package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultSampleInterval is the pause between resource samples within a
// profiling window.
const DefaultSampleInterval = 500 * time.Millisecond

// ProfilerStats is a snapshot of profiler state for observability pollers.
type ProfilerStats struct {
	Running       bool
	Samples       int
	WindowSeconds float64
}

// Profiler collects resource samples over one profiling window at a time.
//
// Start launches a dedicated sampling goroutine on a wall-clock timer; Stop
// performs a synchronized handoff (cancel, then join) so no sample is taken
// after Stop returns and none in flight is lost before it. One profiler
// tracks exactly one active window; opening a second before closing the
// first fails with ErrStateConflict.
type Profiler struct {
	interval  time.Duration
	system    SystemProbe
	gpu       GPUProbe
	container ContainerProbe
	logger    Logger

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	window  *profileWindow
}

// profileWindow holds the samples of one Start/Stop interval.
type profileWindow struct {
	mu            sync.Mutex
	startedAt     time.Time
	containerName string
	samples       []Sample
}

func (w *profileWindow) append(s Sample) {
	w.mu.Lock()
	w.samples = append(w.samples, s)
	w.mu.Unlock()
}

func (w *profileWindow) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples)
}

// NewProfiler creates a profiler sampling the given system probe at the
// default interval. GPU and container probes are optional extras.
func NewProfiler(system SystemProbe) *Profiler {
	if system == nil {
		system = NilSystemProbe{}
	}
	return &Profiler{
		interval: DefaultSampleInterval,
		system:   system,
		logger:   NewNoOpLogger(),
	}
}

// SetInterval sets the sampling interval for subsequent windows.
func (p *Profiler) SetInterval(interval time.Duration) {
	if interval > 0 {
		p.interval = interval
	}
}

// SetGPUProbe attaches an optional GPU probe.
func (p *Profiler) SetGPUProbe(probe GPUProbe) {
	p.gpu = probe
}

// SetContainerProbe attaches an optional container probe.
func (p *Profiler) SetContainerProbe(probe ContainerProbe) {
	p.container = probe
}

// SetLogger sets the logger for the profiler
func (p *Profiler) SetLogger(logger Logger) {
	p.logger = logger
}

// Start opens a profiling window and begins background sampling. The
// containerName is passed to the container probe each tick; pass "" when
// the job does not run in a container.
func (p *Profiler) Start(ctx context.Context, containerName string) error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.running {
		return fmt.Errorf("profiling window already active: %w", ErrStateConflict)
	}

	window := &profileWindow{startedAt: time.Now(), containerName: containerName}
	loopCtx, cancel := context.WithCancel(ctx)
	p.window = window
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx, window)
	return nil
}

// Stop closes the window, flushes one final sample after the loop has
// joined, and reduces all samples to a summary. Calling Stop without an
// active window fails with ErrStateConflict.
func (p *Profiler) Stop() (*ResourceSummary, error) {
	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return nil, fmt.Errorf("no active profiling window: %w", ErrStateConflict)
	}
	cancel := p.cancel
	done := p.done
	window := p.window
	p.stateMu.Unlock()

	cancel()
	<-done

	// Final flush after the join: the loop is guaranteed quiescent, so this
	// is the last sample of the window.
	p.collectOnce(context.Background(), window)
	endedAt := time.Now()

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.window = nil
	p.stateMu.Unlock()

	return window.summarize(endedAt), nil
}

// Stats returns a snapshot of the current window, or the zero value when no
// window is active.
func (p *Profiler) Stats() ProfilerStats {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if !p.running || p.window == nil {
		return ProfilerStats{}
	}
	return ProfilerStats{
		Running:       true,
		Samples:       p.window.count(),
		WindowSeconds: time.Since(p.window.startedAt).Seconds(),
	}
}

func (p *Profiler) loop(ctx context.Context, window *profileWindow) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce(ctx, window)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce(ctx, window)
		}
	}
}

// collectOnce reads every configured source independently. A failing source
// drops only its own fields from this tick's sample; sampling never aborts
// because one metric source is unavailable.
func (p *Profiler) collectOnce(ctx context.Context, window *profileWindow) {
	sample := Sample{Timestamp: time.Now()}

	if stat, err := p.system.Sample(); err == nil {
		sample.CPU = &CPUStat{Percent: stat.CPUPercent}
		sample.Memory = &MemoryStat{UsedMB: stat.MemoryUsedMB}
		sample.IO = &IOStat{ReadMB: stat.IOReadMB, WriteMB: stat.IOWriteMB}
	} else {
		p.logger.Debug("system probe failed", F("error", err))
	}

	if p.gpu != nil {
		if stat, err := p.gpu.Sample(); err == nil {
			gpu := stat
			sample.GPU = &gpu
		}
	}

	if p.container != nil && window.containerName != "" {
		if stat, err := p.container.Inspect(ctx, window.containerName); err == nil && !stat.Empty() {
			c := stat
			sample.Container = &c
		}
	}

	window.append(sample)
}

// summarize reduces the window to per-metric min/mean/max statistics.
func (w *profileWindow) summarize(endedAt time.Time) *ResourceSummary {
	w.mu.Lock()
	defer w.mu.Unlock()

	summary := &ResourceSummary{
		DurationSeconds:  endedAt.Sub(w.startedAt).Seconds(),
		SamplesCollected: len(w.samples),
	}
	if len(w.samples) == 0 {
		return summary
	}

	var cpu, mem, ioRead, ioWrite []float64
	var gpuUtil, gpuMem []float64
	var ctrCPU, ctrMem []float64

	for _, s := range w.samples {
		if s.CPU != nil {
			cpu = append(cpu, s.CPU.Percent)
		}
		if s.Memory != nil {
			mem = append(mem, s.Memory.UsedMB)
		}
		if s.IO != nil {
			ioRead = append(ioRead, s.IO.ReadMB)
			ioWrite = append(ioWrite, s.IO.WriteMB)
		}
		if s.GPU != nil {
			gpuUtil = append(gpuUtil, s.GPU.UtilizationPercent)
			gpuMem = append(gpuMem, s.GPU.MemoryUsedMB)
		}
		if s.Container != nil {
			ctrCPU = append(ctrCPU, s.Container.CPUPercent)
			ctrMem = append(ctrMem, s.Container.MemoryUsedMB)
		}
	}

	summary.CPUPercent = summarize(cpu)
	summary.MemoryUsedMB = summarize(mem)
	summary.IOReadMB = summarize(ioRead)
	summary.IOWriteMB = summarize(ioWrite)

	if len(gpuUtil) > 0 {
		summary.GPU = &GPUSummary{
			UtilizationPercent: summarize(gpuUtil),
			MemoryUsedMB:       summarize(gpuMem),
		}
	}
	if len(ctrCPU) > 0 {
		summary.Container = &ContainerSummary{
			CPUPercent:   summarize(ctrCPU),
			MemoryUsedMB: summarize(ctrMem),
		}
	}
	return summary
}
