// Package simflow orchestrates long-running, containerized simulation jobs
// dispatched through an asynchronous task queue, and instruments their
// resource consumption.
//
// The module has two halves that never call each other directly:
//
// core.Pipeline submits tasks to an external queue - singly, sequentially,
// in parallel, or as Cartesian parameter sweeps - and polls it with bounded,
// cooperative waits. core.JobMonitor records each job's lifecycle around the
// actual execution, sampling CPU/memory/IO/GPU/container usage in the
// background through core.Profiler, and appends finalized records to an
// append-only history log. The executing process composes the two.
//
// # Quick Start
//
// Build a Runtime at the composition root and pull components from it:
//
//	rt := simflow.New(simflow.Config{
//		Queue:       queueClient,
//		HistoryPath: "jobs.jsonl",
//	})
//
//	pipeline := rt.Pipeline()
//	monitor := rt.Monitor()
//
//	taskID, err := pipeline.SubmitTask(ctx, "lammps", "melt.in", params)
//	...
//	tracker, err := monitor.Track(ctx, taskID, "lammps", "melt.in", params, "")
//	defer tracker.Close(ctx)
//
// # Key Concepts
//
// Task handle: opaque identifier returned by the external queue for one
// unit of queued work. The pipeline tracks and compares handles but never
// interprets their structure.
//
// Profiling window: the interval between Profiler.Start and Profiler.Stop
// during which samples are collected by a dedicated background goroutine.
// One profiler owns at most one open window.
//
// History log: append-only line-delimited JSON, one finalized record per
// line. Readers tolerate a trailing partial line from a crashed writer.
//
// # Observability
//
// The observability/prometheus package exports monitor, profiler and
// pipeline snapshots as Prometheus gauges on a fixed polling interval.
package simflow
