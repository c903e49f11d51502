package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"", InfoLevel},
		{"verbose", InfoLevel},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "TEST", WarnLevel)

	log.Debug("debug %d", 1)
	log.Info("info %d", 2)
	log.Warn("warn %d", 3)
	log.Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Expected debug and info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "TEST [WARN] warn 3") {
		t.Errorf("Expected warn line, got %q", out)
	}
	if !strings.Contains(out, "TEST [ERROR] error 4") {
		t.Errorf("Expected error line, got %q", out)
	}
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, "PULSE", InfoLevel)
	child := parent.WithPrefix("Relay")

	child.Debug("hidden")
	parent.SetLevel(DebugLevel)
	child.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug to be filtered before level change, got %q", out)
	}
	if !strings.Contains(out, "PULSE [Relay] [DEBUG] visible") {
		t.Errorf("Expected child to pick up parent level, got %q", out)
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	log.Error("nothing should happen")
	if log.Level() <= ErrorLevel {
		t.Errorf("Expected discard logger to be above error level, got %s", log.Level())
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "PULSE", InfoLevel).WithPrefix("HTTP")

	n, err := log.Writer(InfoLevel).Write([]byte("200 GET /health\n404 GET /nope\n"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 30 {
		t.Errorf("Expected 30 bytes written, got %d", n)
	}
	_, _ = log.Writer(DebugLevel).Write([]byte("hidden\n"))

	out := buf.String()
	if !strings.Contains(out, "PULSE [HTTP] [INFO] 200 GET /health") || !strings.Contains(out, "[INFO] 404 GET /nope") {
		t.Errorf("Expected one entry per line, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug writer to be filtered, got %q", out)
	}
}
