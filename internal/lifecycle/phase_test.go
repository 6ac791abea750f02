package lifecycle

import (
	"encoding/json"
	"testing"
)

func TestPhaseTransitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     Phase
	}{
		{PhaseIdle, PhaseBeforeInstall, PhaseBeforeInstall},
		{PhaseBeforeInstall, PhaseStopping, PhaseStopping},
		{PhaseStopping, PhaseInstalling, PhaseInstalling},
		{PhaseInstalling, PhaseStarting, PhaseStarting},
		{PhaseStarting, PhaseValidating, PhaseValidating},
		{PhaseValidating, PhaseSucceeded, PhaseSucceeded},
		{PhaseStarting, PhaseStopping, PhaseStopping},
		{PhaseValidating, PhaseRolledBack, PhaseRolledBack},
		{PhaseIdle, PhaseFailed, PhaseFailed},
	}
	for _, tt := range tests {
		if got := tt.from.Transition(tt.to); got != tt.want {
			t.Fatalf("%s.Transition(%s) = %s, want %s", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range forwardPhases {
		if p.IsTerminal() {
			t.Fatalf("%s.IsTerminal() = true", p)
		}
	}
	for _, p := range []Phase{PhaseSucceeded, PhaseFailed, PhaseRolledBack} {
		if !p.IsTerminal() {
			t.Fatalf("%s.IsTerminal() = false", p)
		}
	}
}

func TestPhaseOrderIsFixed(t *testing.T) {
	want := []Phase{PhaseBeforeInstall, PhaseStopping, PhaseInstalling, PhaseStarting, PhaseValidating}
	got := ForwardPhases()
	if len(got) != len(want) {
		t.Fatalf("ForwardPhases() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ForwardPhases()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	got[0] = PhaseFailed
	if forwardPhases[0] != PhaseBeforeInstall {
		t.Fatal("ForwardPhases() exposes internal order")
	}
	if rb := RollbackPhases(); len(rb) != 4 || rb[0] != PhaseStopping {
		t.Fatalf("RollbackPhases() = %v", rb)
	}
}

func TestPhaseJSON(t *testing.T) {
	data, err := json.Marshal(PhaseBeforeInstall)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"before_install"` {
		t.Fatalf("Marshal() = %s", data)
	}
	var p Phase
	if err := json.Unmarshal([]byte(`"rolled_back"`), &p); err != nil || p != PhaseRolledBack {
		t.Fatalf("Unmarshal() = (%s, %v), want rolled_back", p, err)
	}
	if err := json.Unmarshal([]byte(`"paused"`), &p); err == nil {
		t.Fatal("Unmarshal(paused) error = nil")
	}
	if _, err := json.Marshal(Phase(0)); err == nil {
		t.Fatal("Marshal(zero phase) error = nil")
	}
}

func TestOutcomeParse(t *testing.T) {
	for _, o := range []Outcome{OutcomePending, OutcomeSucceeded, OutcomeFailed, OutcomeRolledBack} {
		got, ok := ParseOutcome(o.String())
		if !ok || got != o {
			t.Fatalf("ParseOutcome(%q) = (%s, %v)", o.String(), got, ok)
		}
	}
	if OutcomePending.IsTerminal() {
		t.Fatal("pending outcome is terminal")
	}
}
