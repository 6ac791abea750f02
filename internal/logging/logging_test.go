package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: " DEBUG ", want: slog.LevelDebug},
		{in: "warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseLevel(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "info", "json")
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	slog.New(h).Info("phase finished", "phase", "stopping")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if rec["phase"] != "stopping" {
		t.Fatalf("phase attr = %v, want stopping", rec["phase"])
	}
}

func TestNewHandlerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, "warn", "text")
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	logger := slog.New(h)
	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestNewHandlerRejectsUnknownFormat(t *testing.T) {
	if _, err := NewHandler(&bytes.Buffer{}, "info", "xml"); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}
