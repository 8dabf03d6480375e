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

func TestLineHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

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
			message: "save manager initialised",
			want:    "2024-06-15T14:30:45Z\tINFO\top-123\tsave manager initialised\n",
		},
		{
			name:    "warn with record attrs",
			opID:    "op-789",
			level:   slog.LevelWarn,
			message: "quarantined corrupted save",
			attrs:   []slog.Attr{slog.String("path", "/saves/c/auto/s.json"), slog.String("kind", "invalid_json")},
			want:    "2024-06-15T14:30:45Z\tWARN\top-789\tquarantined corrupted save\tpath=/saves/c/auto/s.json\tkind=invalid_json\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLineHandler(&buf, tt.opID, slog.LevelDebug)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestLineHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newLineHandler(&buf, "op-1", slog.LevelDebug)
	h2 := h.WithAttrs([]slog.Attr{slog.String("backend", "multifile")}).(*lineHandler)

	r := slog.NewRecord(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), slog.LevelInfo, "evicted auto saves", 0)
	r.AddAttrs(slog.Int("count", 2))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "\tbackend=multifile\tcount=2\n") {
		t.Errorf("output = %q, want pre-set attr before record attr", got)
	}
	if len(h.attrs) != 0 {
		t.Errorf("original handler attrs modified: got %d, want 0", len(h.attrs))
	}
}

func TestLineHandler_Enabled(t *testing.T) {
	h := newLineHandler(&bytes.Buffer{}, "op", slog.LevelWarn)
	tests := map[slog.Level]bool{
		slog.LevelDebug: false,
		slog.LevelInfo:  false,
		slog.LevelWarn:  true,
		slog.LevelError: true,
	}
	for level, want := range tests {
		if got := h.Enabled(context.Background(), level); got != want {
			t.Errorf("Enabled(%v) = %v, want %v", level, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	var stderr bytes.Buffer

	logger, f, err := newLogger(dir, "test-op", &stderr)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	adapter := &slogAdapter{l: logger}
	adapter.Debug("loading saves")
	adapter.Warn("quarantined corrupted save", "kind", "invalid_json")
	f.Close()

	data, err := os.ReadFile(filepath.Join(dir, "savekeeper.log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Errorf("log file has %d lines, want 2:\n%s", lines, data)
	}
	if !strings.Contains(string(data), "\ttest-op\tloading saves") {
		t.Errorf("log file = %q, want debug record", data)
	}

	got := stderr.String()
	if strings.Contains(got, "loading saves") {
		t.Errorf("stderr = %q, debug records must stay in the file", got)
	}
	if !strings.Contains(got, "WARN\ttest-op\tquarantined corrupted save\tkind=invalid_json") {
		t.Errorf("stderr = %q, want the warning", got)
	}
}
