package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// =============================================================================
// HistoryStore Interface
// =============================================================================

// HistoryStore persists finalized job records. Records are immutable once
// appended; stores only ever grow.
type HistoryStore interface {
	// Append adds one finalized record.
	Append(ctx context.Context, rec *JobRecord) error

	// List returns finalized records newest first, at most limit of them
	// (limit <= 0 means all).
	List(ctx context.Context, limit int) ([]*JobRecord, error)
}

// =============================================================================
// JSONLHistory Implementation
// =============================================================================

// JSONLHistory is an append-only, line-delimited JSON history file. One
// line is one finalized JobRecord. The file is opened per append with
// O_APPEND so the underlying storage provides atomic line-append; it is
// single-writer within a process and must never be rewritten.
type JSONLHistory struct {
	path   string
	mu     sync.Mutex
	retry  RetryPolicy
	logger Logger
}

// NewJSONLHistory creates a history store backed by the given file path.
// The file is created on first append.
func NewJSONLHistory(path string) *JSONLHistory {
	return &JSONLHistory{
		path:   path,
		retry:  DefaultRetryPolicy(),
		logger: NewNoOpLogger(),
	}
}

// SetRetryPolicy sets the retry policy for append failures.
func (h *JSONLHistory) SetRetryPolicy(policy RetryPolicy) {
	h.retry = policy
}

// SetLogger sets the logger for the history store
func (h *JSONLHistory) SetLogger(logger Logger) {
	h.logger = logger
}

// Path returns the backing file path.
func (h *JSONLHistory) Path() string {
	return h.path
}

func (h *JSONLHistory) Append(ctx context.Context, rec *JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	line := append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= h.retry.MaxRetries; attempt++ {
		if lastErr = h.appendLine(line); lastErr == nil {
			if attempt > 0 {
				h.logger.Debug("history append succeeded after retry",
					F("task", rec.TaskID), F("attempt", attempt))
			}
			return nil
		}

		h.logger.Warn("history append failed",
			F("task", rec.TaskID), F("attempt", attempt), F("error", lastErr))

		if attempt < h.retry.MaxRetries {
			delay := h.retry.calculateDelay(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("append history record: %w", lastErr)
}

func (h *JSONLHistory) appendLine(line []byte) error {
	f, err := os.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// List reads the full file on every call so a restarted process sees the
// records of previous runs. Malformed lines - including a trailing partial
// line left by a crashed writer - are skipped, not errors.
func (h *JSONLHistory) List(ctx context.Context, limit int) ([]*JobRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var records []*JobRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec JobRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			h.logger.Warn("skipping malformed history line", F("error", err))
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	// Newest first.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// =============================================================================
// MemoryHistory Implementation
// =============================================================================

// MemoryHistory is an in-memory HistoryStore for tests.
type MemoryHistory struct {
	mu      sync.Mutex
	records []*JobRecord
}

// NewMemoryHistory creates an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(ctx context.Context, rec *JobRecord) error {
	h.mu.Lock()
	h.records = append(h.records, rec.Clone())
	h.mu.Unlock()
	return nil
}

func (h *MemoryHistory) List(ctx context.Context, limit int) ([]*JobRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*JobRecord, 0, len(h.records))
	for i := len(h.records) - 1; i >= 0; i-- {
		out = append(out, h.records[i].Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of stored records.
func (h *MemoryHistory) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}
