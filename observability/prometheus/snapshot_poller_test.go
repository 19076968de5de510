package prometheus

import (
	"context"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hpcgrid/simflow/core"
)

type monitorStub struct {
	stats core.MonitorStats
}

func (s monitorStub) Stats() core.MonitorStats { return s.stats }

type profilerStub struct {
	stats core.ProfilerStats
}

func (s profilerStub) Stats() core.ProfilerStats { return s.stats }

type pipelineStub struct {
	stats core.PipelineStats
}

func (s pipelineStub) Stats() core.PipelineStats { return s.stats }

func TestSnapshotPoller_CollectsStats(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	poller.AddMonitor("monitor-a", monitorStub{stats: core.MonitorStats{
		ActiveJobs:    2,
		FinalizedJobs: 9,
		Succeeded:     7,
		Failed:        2,
	}})
	poller.AddProfiler("profiler-a", profilerStub{stats: core.ProfilerStats{
		Running:       true,
		Samples:       14,
		WindowSeconds: 6.5,
	}})
	poller.AddPipeline("pipeline-a", pipelineStub{stats: core.PipelineStats{
		Submitted: 40,
		Cancelled: 3,
		Sweeps:    2,
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	poller.Start(ctx)
	defer poller.Stop()

	assertEventually(t, 2*time.Second, func() bool {
		active := testutil.ToFloat64(poller.monitorActive.WithLabelValues("monitor-a"))
		submitted := testutil.ToFloat64(poller.pipelineSubmitted.WithLabelValues("pipeline-a"))
		return active == 2 && submitted == 40
	})

	if got := testutil.ToFloat64(poller.monitorSucceeded.WithLabelValues("monitor-a")); got != 7 {
		t.Fatalf("monitor succeeded gauge = %v, want 7", got)
	}
	if got := testutil.ToFloat64(poller.profilerRunning.WithLabelValues("profiler-a")); got != 1 {
		t.Fatalf("profiler running gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(poller.profilerSamples.WithLabelValues("profiler-a")); got != 14 {
		t.Fatalf("profiler samples gauge = %v, want 14", got)
	}
	if got := testutil.ToFloat64(poller.pipelineSweeps.WithLabelValues("pipeline-a")); got != 2 {
		t.Fatalf("pipeline sweeps gauge = %v, want 2", got)
	}
}

func TestSnapshotPoller_SharedRegistryReusesCollectors(t *testing.T) {
	reg := prom.NewRegistry()
	if _, err := NewSnapshotPoller(reg, time.Second); err != nil {
		t.Fatalf("first NewSnapshotPoller failed: %v", err)
	}
	if _, err := NewSnapshotPoller(reg, time.Second); err != nil {
		t.Fatalf("second NewSnapshotPoller failed: %v", err)
	}
}

func TestSnapshotPoller_StartStop_Idempotent(t *testing.T) {
	reg := prom.NewRegistry()
	poller, err := NewSnapshotPoller(reg, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSnapshotPoller failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poller.Start(ctx)
	poller.Start(ctx)
	poller.Stop()
	poller.Stop()
}

func assertEventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
