// Package audit carries the per-decision record to whatever persists it.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is emitted once per authorization decision.
type Record struct {
	ID      string
	Time    time.Time
	Target  string
	Command string
	Kind    string
	Verdict string
	// Cause is the deny reason, empty on allow.
	Cause string
}

// NewRecord stamps a record with a fresh ID and the current time.
func NewRecord(target, command, kind, verdict, cause string) Record {
	return Record{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Target:  target,
		Command: command,
		Kind:    kind,
		Verdict: verdict,
		Cause:   cause,
	}
}

// Sink receives audit records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(ctx context.Context, rec Record)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Emit(context.Context, Record) {}

// LogSink writes records as structured log lines.
type LogSink struct {
	logger *slog.Logger
	closer io.Closer
}

// NewLogSink writes JSON lines to w.
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

// DefaultPath is where records go when no output is configured:
// $XDG_STATE_HOME/ward/audit.log, else ~/.local/state/ward/audit.log.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "ward", "audit.log"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve audit path: %w", err)
	}
	return filepath.Join(home, ".local", "state", "ward", "audit.log"), nil
}

// Open resolves an output name: "stderr", "stdout" or a file path that
// is appended to. The empty name is DefaultPath, created on demand.
func Open(output string) (*LogSink, error) {
	switch output {
	case "stderr":
		return NewLogSink(os.Stderr), nil
	case "stdout":
		return NewLogSink(os.Stdout), nil
	case "":
		path, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("open audit output: %w", err)
		}
		output = path
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit output: %w", err)
	}
	s := NewLogSink(f)
	s.closer = f
	return s, nil
}

// Emit writes rec.
func (s *LogSink) Emit(ctx context.Context, rec Record) {
	attrs := []slog.Attr{
		slog.String("id", rec.ID),
		slog.Time("decided_at", rec.Time),
		slog.String("target", rec.Target),
		slog.String("command", rec.Command),
		slog.String("kind", rec.Kind),
		slog.String("verdict", rec.Verdict),
	}
	if rec.Cause != "" {
		attrs = append(attrs, slog.String("cause", rec.Cause))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "ward decision", attrs...)
}

// Close releases the output file, if one was opened.
func (s *LogSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Memory keeps records in memory.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Emit(_ context.Context, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
}

// Records returns a copy of everything emitted so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
