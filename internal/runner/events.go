package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventLog appends one JSON object per line to the orchestration event
// file: {"timestamp": ..., "event": "dag_start", ...context}. It is shared
// by the runner and the worker loop; a nil *EventLog is valid and drops
// every emit, so callers never need a guard.
type EventLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// OpenEventLog prepares an EventLog writing to path, creating parent
// directories as needed.
func OpenEventLog(path string) (*EventLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("events: mkdir %s: %w", dir, err)
		}
	}
	return &EventLog{path: path, now: time.Now}, nil
}

// Emit appends one event line. Errors are returned, not fatal: the event
// log is an observability surface, so callers log and continue on failure.
func (l *EventLog) Emit(event string, fields map[string]any) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	record := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		record[k] = v
	}
	record["timestamp"] = l.now().UTC().Format(time.RFC3339Nano)
	record["event"] = event

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event, err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("events: open %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("events: write %s: %w", event, err)
	}
	return nil
}
