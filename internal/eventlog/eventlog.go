// Package eventlog implements the append-only, fsynced JSONL event log
// that is the orchestrator's ground truth history.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/antigravity-dev/aurelia/internal/model"
)

// Log is an append-only JSON-lines event log. Records are independently
// parseable; malformed or blank lines encountered on read are skipped so
// the log tolerates partial writes after a crash.
type Log struct {
	path string
}

// New returns a Log backed by path. Parent directories are created lazily
// on the first Append.
func New(path string) *Log {
	return &Log{path: path}
}

// Append serializes event to JSON, writes it as a single line, and fsyncs
// before returning. I/O errors propagate to the caller.
func (l *Log) Append(event model.Event) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("eventlog: mkdir: %w", err)
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("eventlog: write: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("eventlog: fsync: %w", err)
	}
	return nil
}

// ReadAll returns every parseable record in file order.
func (l *Log) ReadAll() ([]model.Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	var events []model.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e model.Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Crash-recovery tolerance: skip malformed lines.
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, nil
}

// ReadSince returns every event whose Seq is >= seq.
func (l *Log) ReadSince(seq int64) ([]model.Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []model.Event
	for _, e := range all {
		if e.Seq >= seq {
			out = append(out, e)
		}
	}
	return out, nil
}

// FindUnmatched returns startType events whose data["task_id"] has no
// matching endType event anywhere in the log. Used for crash diagnostics.
func (l *Log) FindUnmatched(startType, endType string) ([]model.Event, error) {
	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}

	completed := make(map[any]struct{})
	for _, e := range all {
		if e.Type != endType {
			continue
		}
		if id, ok := e.Data["task_id"]; ok {
			completed[id] = struct{}{}
		}
	}

	var out []model.Event
	for _, e := range all {
		if e.Type != startType {
			continue
		}
		id, ok := e.Data["task_id"]
		if !ok {
			continue
		}
		if _, done := completed[id]; !done {
			out = append(out, e)
		}
	}
	return out, nil
}
