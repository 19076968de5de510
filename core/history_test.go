package core_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpcgrid/simflow/core"
)

func testRecord(id string, status core.JobStatus) *core.JobRecord {
	return &core.JobRecord{
		TaskID:          id,
		Tool:            "lammps",
		Script:          "melt.in",
		StartTime:       time.Now().Add(-time.Minute),
		EndTime:         time.Now(),
		DurationSeconds: 60,
		Status:          status,
	}
}

// =============================================================================
// JSONL file store
// =============================================================================

func TestJSONLHistory_AppendAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	history := core.NewJSONLHistory(path)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := history.Append(ctx, testRecord(id, core.JobStatusSuccess)); err != nil {
			t.Fatalf("Append %s failed: %v", id, err)
		}
	}

	records, err := history.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	// Newest first.
	if records[0].TaskID != "c" || records[2].TaskID != "a" {
		t.Errorf("Wrong order: %s, %s, %s", records[0].TaskID, records[1].TaskID, records[2].TaskID)
	}
}

func TestJSONLHistory_Limit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	history := core.NewJSONLHistory(path)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		history.Append(ctx, testRecord(id, core.JobStatusSuccess))
	}

	records, err := history.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].TaskID != "d" || records[1].TaskID != "c" {
		t.Errorf("Expected newest two (d, c), got (%s, %s)", records[0].TaskID, records[1].TaskID)
	}
}

func TestJSONLHistory_MissingFile(t *testing.T) {
	history := core.NewJSONLHistory(filepath.Join(t.TempDir(), "never-written.jsonl"))

	records, err := history.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("List on missing file failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %d", len(records))
	}
}

func TestJSONLHistory_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	history := core.NewJSONLHistory(path)
	ctx := context.Background()

	history.Append(ctx, testRecord("a", core.JobStatusSuccess))

	// Inject a corrupted line between two valid ones.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString("{this is not json}\n")
	f.Close()

	history.Append(ctx, testRecord("b", core.JobStatusFailed))

	records, err := history.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 valid records, got %d", len(records))
	}
	if records[0].TaskID != "b" || records[1].TaskID != "a" {
		t.Errorf("Wrong records survived: %s, %s", records[0].TaskID, records[1].TaskID)
	}
}

func TestJSONLHistory_ToleratesPartialTrailingLine(t *testing.T) {
	// A crashed writer can leave a truncated final line without a newline.
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	history := core.NewJSONLHistory(path)
	ctx := context.Background()

	history.Append(ctx, testRecord("a", core.JobStatusSuccess))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	f.WriteString(`{"task_id":"trunc","too`)
	f.Close()

	records, err := history.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 intact record, got %d", len(records))
	}
	if records[0].TaskID != "a" {
		t.Errorf("Expected record a, got %s", records[0].TaskID)
	}
}

func TestJSONLHistory_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	ctx := context.Background()

	first := core.NewJSONLHistory(path)
	first.Append(ctx, testRecord("a", core.JobStatusSuccess))

	// A new store over the same path sees prior runs' records.
	second := core.NewJSONLHistory(path)
	second.Append(ctx, testRecord("b", core.JobStatusSuccess))

	records, err := second.List(ctx, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records across store instances, got %d", len(records))
	}
}

func TestJSONLHistory_RoundTripsResourceUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.jsonl")
	history := core.NewJSONLHistory(path)
	ctx := context.Background()

	rec := testRecord("a", core.JobStatusSuccess)
	rec.ResourceUsage = &core.ResourceSummary{
		DurationSeconds:  12.5,
		SamplesCollected: 25,
		CPUPercent:       core.MetricSummary{Min: 10, Mean: 42.5, Max: 80},
		GPU: &core.GPUSummary{
			UtilizationPercent: core.MetricSummary{Mean: 60},
		},
	}
	if err := history.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := history.List(ctx, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got := records[0].ResourceUsage
	if got == nil {
		t.Fatal("Resource usage lost in round trip")
	}
	if got.SamplesCollected != 25 || got.CPUPercent.Mean != 42.5 {
		t.Errorf("Unexpected usage after round trip: %+v", got)
	}
	if got.GPU == nil || got.GPU.UtilizationPercent.Mean != 60 {
		t.Error("GPU summary lost in round trip")
	}
}

// =============================================================================
// In-memory store
// =============================================================================

func TestMemoryHistory_NewestFirstWithLimit(t *testing.T) {
	history := core.NewMemoryHistory()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		history.Append(ctx, testRecord(id, core.JobStatusSuccess))
	}

	records, err := history.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 || records[0].TaskID != "c" || records[1].TaskID != "b" {
		t.Errorf("Unexpected listing: %+v", records)
	}
}

func TestMemoryHistory_AppendIsolatesCaller(t *testing.T) {
	history := core.NewMemoryHistory()
	ctx := context.Background()

	rec := testRecord("a", core.JobStatusSuccess)
	rec.Params = map[string]any{"temp": 300}
	history.Append(ctx, rec)

	// Mutating the caller's record after append must not reach the store.
	rec.Params["temp"] = 999

	records, _ := history.List(ctx, 0)
	if records[0].Params["temp"] != 300 {
		t.Errorf("Stored record shares state with the caller: %v", records[0].Params["temp"])
	}
}
