package prometheus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hpcgrid/simflow/core"
)

// MonitorSnapshotProvider provides current job-monitor stats snapshots.
type MonitorSnapshotProvider interface {
	Stats() core.MonitorStats
}

// ProfilerSnapshotProvider provides current profiler stats snapshots.
type ProfilerSnapshotProvider interface {
	Stats() core.ProfilerStats
}

// PipelineSnapshotProvider provides current pipeline stats snapshots.
type PipelineSnapshotProvider interface {
	Stats() core.PipelineStats
}

// SnapshotPoller periodically exports monitor/profiler/pipeline Stats()
// snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	monitorsMu sync.RWMutex
	monitors   map[string]MonitorSnapshotProvider

	profilersMu sync.RWMutex
	profilers   map[string]ProfilerSnapshotProvider

	pipelinesMu sync.RWMutex
	pipelines   map[string]PipelineSnapshotProvider

	monitorActive    *prom.GaugeVec
	monitorFinalized *prom.GaugeVec
	monitorSucceeded *prom.GaugeVec
	monitorFailed    *prom.GaugeVec

	profilerRunning *prom.GaugeVec
	profilerSamples *prom.GaugeVec
	profilerWindow  *prom.GaugeVec

	pipelineSubmitted *prom.GaugeVec
	pipelineCancelled *prom.GaugeVec
	pipelineSweeps    *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	monitorActive := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "monitor_active_jobs",
		Help:      "Jobs currently monitored (unfinalized records).",
	}, []string{"monitor"})
	monitorFinalized := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "monitor_finalized_jobs",
		Help:      "Finalized job record count snapshot.",
	}, []string{"monitor"})
	monitorSucceeded := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "monitor_succeeded_jobs",
		Help:      "Finalized jobs with status success.",
	}, []string{"monitor"})
	monitorFailed := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "monitor_failed_jobs",
		Help:      "Finalized jobs with a non-success status.",
	}, []string{"monitor"})

	profilerRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "profiler_window_active",
		Help:      "Profiling window state (1=open, 0=closed).",
	}, []string{"profiler"})
	profilerSamples := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "profiler_samples",
		Help:      "Samples collected in the open window.",
	}, []string{"profiler"})
	profilerWindow := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "profiler_window_seconds",
		Help:      "Age of the open profiling window in seconds.",
	}, []string{"profiler"})

	pipelineSubmitted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "pipeline_submitted_tasks",
		Help:      "Tasks submitted to the queue snapshot.",
	}, []string{"pipeline"})
	pipelineCancelled := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "pipeline_cancelled_tasks",
		Help:      "Accepted revoke requests snapshot.",
	}, []string{"pipeline"})
	pipelineSweeps := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "simflow",
		Name:      "pipeline_sweeps",
		Help:      "Completed parameter sweep submissions snapshot.",
	}, []string{"pipeline"})

	var err error
	if monitorActive, err = registerCollector(reg, monitorActive); err != nil {
		return nil, err
	}
	if monitorFinalized, err = registerCollector(reg, monitorFinalized); err != nil {
		return nil, err
	}
	if monitorSucceeded, err = registerCollector(reg, monitorSucceeded); err != nil {
		return nil, err
	}
	if monitorFailed, err = registerCollector(reg, monitorFailed); err != nil {
		return nil, err
	}
	if profilerRunning, err = registerCollector(reg, profilerRunning); err != nil {
		return nil, err
	}
	if profilerSamples, err = registerCollector(reg, profilerSamples); err != nil {
		return nil, err
	}
	if profilerWindow, err = registerCollector(reg, profilerWindow); err != nil {
		return nil, err
	}
	if pipelineSubmitted, err = registerCollector(reg, pipelineSubmitted); err != nil {
		return nil, err
	}
	if pipelineCancelled, err = registerCollector(reg, pipelineCancelled); err != nil {
		return nil, err
	}
	if pipelineSweeps, err = registerCollector(reg, pipelineSweeps); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:          interval,
		monitors:          make(map[string]MonitorSnapshotProvider),
		profilers:         make(map[string]ProfilerSnapshotProvider),
		pipelines:         make(map[string]PipelineSnapshotProvider),
		monitorActive:     monitorActive,
		monitorFinalized:  monitorFinalized,
		monitorSucceeded:  monitorSucceeded,
		monitorFailed:     monitorFailed,
		profilerRunning:   profilerRunning,
		profilerSamples:   profilerSamples,
		profilerWindow:    profilerWindow,
		pipelineSubmitted: pipelineSubmitted,
		pipelineCancelled: pipelineCancelled,
		pipelineSweeps:    pipelineSweeps,
	}, nil
}

// AddMonitor adds or replaces a monitor snapshot provider by name.
func (p *SnapshotPoller) AddMonitor(name string, provider MonitorSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "monitor")
	p.monitorsMu.Lock()
	p.monitors[name] = provider
	p.monitorsMu.Unlock()
}

// AddProfiler adds or replaces a profiler snapshot provider by name.
func (p *SnapshotPoller) AddProfiler(name string, provider ProfilerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "profiler")
	p.profilersMu.Lock()
	p.profilers[name] = provider
	p.profilersMu.Unlock()
}

// AddPipeline adds or replaces a pipeline snapshot provider by name.
func (p *SnapshotPoller) AddPipeline(name string, provider PipelineSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pipeline")
	p.pipelinesMu.Lock()
	p.pipelines[name] = provider
	p.pipelinesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.monitorsMu.RLock()
	for name, provider := range p.monitors {
		stats := provider.Stats()
		p.monitorActive.WithLabelValues(name).Set(float64(stats.ActiveJobs))
		p.monitorFinalized.WithLabelValues(name).Set(float64(stats.FinalizedJobs))
		p.monitorSucceeded.WithLabelValues(name).Set(float64(stats.Succeeded))
		p.monitorFailed.WithLabelValues(name).Set(float64(stats.Failed))
	}
	p.monitorsMu.RUnlock()

	p.profilersMu.RLock()
	for name, provider := range p.profilers {
		stats := provider.Stats()
		if stats.Running {
			p.profilerRunning.WithLabelValues(name).Set(1)
		} else {
			p.profilerRunning.WithLabelValues(name).Set(0)
		}
		p.profilerSamples.WithLabelValues(name).Set(float64(stats.Samples))
		p.profilerWindow.WithLabelValues(name).Set(stats.WindowSeconds)
	}
	p.profilersMu.RUnlock()

	p.pipelinesMu.RLock()
	for name, provider := range p.pipelines {
		stats := provider.Stats()
		p.pipelineSubmitted.WithLabelValues(name).Set(float64(stats.Submitted))
		p.pipelineCancelled.WithLabelValues(name).Set(float64(stats.Cancelled))
		p.pipelineSweeps.WithLabelValues(name).Set(float64(stats.Sweeps))
	}
	p.pipelinesMu.RUnlock()
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
