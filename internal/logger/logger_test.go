package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONParsingWriterReformats(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONParsingWriter{base: &buf}

	line := `{"level":"info","message":"dialog created","call_id":"abc"}` + "\n"
	if _, err := w.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "[INFO]") {
		t.Errorf("output missing level: %q", out)
	}
	if !strings.Contains(out, "dialog created") {
		t.Errorf("output missing message: %q", out)
	}
	if !strings.Contains(out, "call_id=abc") {
		t.Errorf("output missing attribute: %q", out)
	}
}

func TestJSONParsingWriterPassthrough(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONParsingWriter{base: &buf}

	if _, err := w.Write([]byte("plain text line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := buf.String(); got != "plain text line\n" {
		t.Errorf("passthrough mangled output: %q", got)
	}
}

func TestWithAttrsEmittedOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	base := &customHandler{outs: []io.Writer{&buf}}

	bound := base.WithAttrs([]slog.Attr{slog.String("local_party", "carol")})

	record := slog.NewRecord(time.Now(), slog.LevelInfo, "call finished", 0)
	record.AddAttrs(slog.String("session_id", "sess-9"))
	if err := bound.Handle(context.Background(), record); err != nil {
		t.Fatalf("handle: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "local_party=carol") {
		t.Errorf("bound attribute missing from output: %q", out)
	}
	if !strings.Contains(out, "session_id=sess-9") {
		t.Errorf("record attribute missing from output: %q", out)
	}

	// The base handler must not pick up the bound attrs.
	buf.Reset()
	plain := slog.NewRecord(time.Now(), slog.LevelInfo, "plain", 0)
	if err := base.Handle(context.Background(), plain); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if strings.Contains(buf.String(), "local_party") {
		t.Errorf("base handler leaked bound attrs: %q", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	h := &customHandler{}
	SetLevel("warn")
	defer SetLevel("info")

	if h.Enabled(nil, slog.LevelInfo) {
		t.Error("info should be filtered at warn level")
	}
	if !h.Enabled(nil, slog.LevelError) {
		t.Error("error should pass at warn level")
	}
}
