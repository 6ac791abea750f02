package lifecycle

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() error = %v", err)
	}
}

func TestPolicyValidateReportsEveryProblem(t *testing.T) {
	p := DefaultPolicy()
	p.StartTimeout = 0
	p.StopRetries = -1
	p.ProbeSuccesses = 3
	p.ProbeAttempts = 2

	err := p.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"start timeout", "stop retries", "probe attempts"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("Validate() error = %q, want mention of %q", err, want)
		}
	}
}

func TestPolicyTimeoutPerPhase(t *testing.T) {
	p := DefaultPolicy()
	if got := p.timeout(PhaseStarting); got != 30*time.Second {
		t.Fatalf("timeout(starting) = %s", got)
	}
	if got := p.timeout(PhaseInstalling); got != 10*time.Minute {
		t.Fatalf("timeout(installing) = %s", got)
	}
}

func TestParseBusyPolicy(t *testing.T) {
	tests := []struct {
		raw  string
		want BusyPolicy
	}{
		{"", BusyReject},
		{"reject", BusyReject},
		{" Queue ", BusyQueue},
	}
	for _, tt := range tests {
		got, err := ParseBusyPolicy(tt.raw)
		if err != nil || got != tt.want {
			t.Fatalf("ParseBusyPolicy(%q) = (%s, %v), want %s", tt.raw, got, err, tt.want)
		}
	}
	if _, err := ParseBusyPolicy("drop"); err == nil {
		t.Fatal("ParseBusyPolicy(drop) error = nil")
	}

	var b BusyPolicy
	if err := json.Unmarshal([]byte(`"queue"`), &b); err != nil || b != BusyQueue {
		t.Fatalf("Unmarshal() = (%s, %v), want queue", b, err)
	}
}
