package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInkwellHandler_Handle(t *testing.T) {
	ts := time.Date(2026, 3, 1, 14, 30, 45, 120*int(time.Millisecond), time.UTC)

	tests := []struct {
		name    string
		opID    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			opID:    "op-123",
			level:   slog.LevelInfo,
			message: "project saved",
			want:    "2026-03-01T14:30:45.120Z\tINFO\top-123\tproject saved\n",
		},
		{
			name:    "debug level",
			opID:    "op-456",
			level:   slog.LevelDebug,
			message: "draining queue",
			want:    "2026-03-01T14:30:45.120Z\tDEBUG\top-456\tdraining queue\n",
		},
		{
			name:    "with record attrs",
			opID:    "op-789",
			level:   slog.LevelWarn,
			message: "write queued",
			attrs:   []slog.Attr{slog.String("key", "inkwell_project_p1"), slog.Int("queued", 3)},
			want:    "2026-03-01T14:30:45.120Z\tWARN\top-789\twrite queued\tkey=inkwell_project_p1\tqueued=3\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := &inkwellHandler{w: &buf, opID: tt.opID}

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			for _, a := range tt.attrs {
				r.AddAttrs(a)
			}

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}

			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestInkwellHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := &inkwellHandler{w: &buf, opID: "op-1"}

	h2 := h.WithAttrs([]slog.Attr{slog.String("component", "monitor")}).(*inkwellHandler)

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := slog.NewRecord(ts, slog.LevelInfo, "drain finished", 0)
	r.AddAttrs(slog.Int("succeeded", 2))

	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "component=monitor") {
		t.Errorf("expected pre-set attr component=monitor, got: %q", got)
	}
	if !strings.Contains(got, "succeeded=2") {
		t.Errorf("expected record attr succeeded=2, got: %q", got)
	}
}

func TestInkwellHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := &inkwellHandler{w: &buf, opID: "op-1", attrs: []slog.Attr{slog.String("a", "1")}}

	h2 := h.WithAttrs([]slog.Attr{slog.String("b", "2")}).(*inkwellHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}
}

func TestInkwellHandler_Enabled(t *testing.T) {
	h := &inkwellHandler{level: slog.LevelWarn}
	tests := []struct {
		level slog.Level
		want  bool
	}{
		{slog.LevelDebug, false},
		{slog.LevelInfo, false},
		{slog.LevelWarn, true},
		{slog.LevelError, true},
	}
	for _, tt := range tests {
		if got := h.Enabled(context.Background(), tt.level); got != tt.want {
			t.Errorf("Enabled(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestTeeHandler_RespectsEachLevel(t *testing.T) {
	var file, stderr bytes.Buffer
	logger := slog.New(&teeHandler{handlers: []slog.Handler{
		&inkwellHandler{w: &file, opID: "op", level: slog.LevelDebug},
		&inkwellHandler{w: &stderr, opID: "op", level: slog.LevelWarn},
	}}).With("device", "d1")

	logger.Debug("checking quota")
	logger.Warn("storage nearly full")

	if got := strings.Count(file.String(), "\n"); got != 2 {
		t.Errorf("file lines = %d, want 2:\n%s", got, file.String())
	}
	if strings.Contains(stderr.String(), "checking quota") {
		t.Errorf("debug line reached stderr: %q", stderr.String())
	}
	if !strings.Contains(stderr.String(), "storage nearly full\tdevice=d1") {
		t.Errorf("stderr = %q, want warning with device attr", stderr.String())
	}
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	logger, f, err := newLogger(dir, "test-op")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}

	logger.Info("hello", "n", 1)
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "inkwell.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "\tINFO\ttest-op\thello\tn=1") {
		t.Errorf("log file = %q", data)
	}
}
