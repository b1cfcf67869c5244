package eventlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLStore is the filesystem EventLog backend: one directory per workflow
// id, containing a single append-only events.log file of newline-delimited
// JSON records (spec.md §6 "one directory per workflow id, JSONL file").
// Grounded on graph/emit.LogEmitter's JSON-mode writer, generalized from a
// single shared stream to a per-workflow directory layout.
//
// Rotation, if ever needed operationally, is by renaming the completed
// events.log aside (e.g. events.log.1) and starting a fresh file; this
// store never truncates or rewrites an existing file in place.
type JSONLStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewJSONLStore creates a filesystem-backed Log rooted at baseDir. The
// directory is created on first Append if it does not exist.
func NewJSONLStore(baseDir string) *JSONLStore {
	return &JSONLStore{baseDir: baseDir}
}

func (s *JSONLStore) workflowDir(workflowID string) string {
	return filepath.Join(s.baseDir, workflowID)
}

func (s *JSONLStore) logPath(workflowID string) string {
	return filepath.Join(s.workflowDir(workflowID), "events.log")
}

// Append writes events to the workflow's events.log, creating the
// directory and file as needed. Each event is one JSON object per line.
func (s *JSONLStore) Append(ctx context.Context, workflowID string, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.workflowDir(workflowID), 0o755); err != nil {
		return fmt.Errorf("eventlog: create workflow dir: %w", err)
	}
	f, err := os.OpenFile(s.logPath(workflowID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("eventlog: encode event: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("eventlog: flush: %w", err)
	}
	return f.Sync()
}

// Read loads every event recorded for workflowID, in append order. A
// missing log (workflow never started) returns an empty slice, not an
// error.
func (s *JSONLStore) Read(ctx context.Context, workflowID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.logPath(workflowID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: open log: %w", err)
	}
	defer f.Close()

	var events []Event
	dec := json.NewDecoder(f)
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, fmt.Errorf("eventlog: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
