// Package telemetry appends structured process events to a local JSONL
// log (spec §6.1's log/telemetry.jsonl). Grounded on internal/logging's
// rotation-aware file writer, simplified to pure append-only JSON lines
// since telemetry events are read by line-oriented tooling, not a log
// viewer expecting logfmt/text output.
package telemetry

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	arcerrors "github.com/arc-computer/arc-memory/internal/errors"
)

// Event is one row of the telemetry log: an operation name, its outcome,
// and arbitrary structured fields (duration, counts, error kind).
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Operation string         `json:"operation"`
	Status    string         `json:"status"` // "ok" or "error"
	Fields    map[string]any `json:"fields,omitempty"`
}

// Recorder appends Events to a single JSONL file. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the telemetry log at path for
// appending.
func Open(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, arcerrors.Wrap(err, arcerrors.KindDatabase, "telemetry", "open", "could not open telemetry log "+path)
	}
	return &Recorder{file: f}, nil
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// Record appends one event as a single JSON line.
func (r *Recorder) Record(operation, status string, fields map[string]any) error {
	event := Event{Timestamp: time.Now().UTC(), Operation: operation, Status: status, Fields: fields}

	line, err := json.Marshal(event)
	if err != nil {
		return arcerrors.Wrap(err, arcerrors.KindParse, "telemetry", "marshal", "could not encode telemetry event")
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.Write(line); err != nil {
		return arcerrors.Wrap(err, arcerrors.KindDatabase, "telemetry", "write", "could not append telemetry event")
	}
	return nil
}

// Ok is a convenience for Record(operation, "ok", fields).
func (r *Recorder) Ok(operation string, fields map[string]any) error {
	return r.Record(operation, "ok", fields)
}

// Error is a convenience for Record(operation, "error", fields merged
// with the failing error's message).
func (r *Recorder) Error(operation string, err error, fields map[string]any) error {
	merged := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}
	merged["error"] = err.Error()
	if kind := arcerrors.KindOf(err); kind != "" {
		merged["error_kind"] = string(kind)
	}
	return r.Record(operation, "error", merged)
}
