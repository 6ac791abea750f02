package ui

import (
	"bytes"
	"strings"
	"testing"

	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/types"
)

func TestFormatStepLine(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		step stepState
		msg  string
		want string
	}{
		{
			name: "running phase",
			step: stepState{ID: "stopping", Title: "stopping", Status: stepRunning},
			want: "  [->] stopping",
		},
		{
			name: "done rollback phase",
			step: stepState{ID: "rollback/starting", ParentID: rollbackStep, Title: "starting", Status: stepDone},
			want: "    [ok] starting",
		},
		{
			name: "failed with message",
			step: stepState{ID: "validating", Title: "validating", Status: stepFailed},
			msg:  "marker missing",
			want: "  [x] validating (marker missing)",
		},
		{
			name: "skipped",
			step: stepState{ID: "validating", Title: "validating", Status: stepSkipped},
			want: "  [--] validating",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatStepLine(tc.step, tc.msg); got != tc.want {
				t.Fatalf("formatStepLine() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEnvTruthyValues(t *testing.T) {
	testCases := []struct {
		value string
		want  bool
	}{
		{"1", true}, {"true", true}, {"YES", true}, {"on", true},
		{"0", false}, {"false", false}, {"", false},
	}
	for _, tc := range testCases {
		t.Setenv("DEPLOYD_TEST_TRUTHY", tc.value)
		if got := envTruthy("DEPLOYD_TEST_TRUTHY"); got != tc.want {
			t.Fatalf("envTruthy(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func phaseEvent(typ, phase string, rollback bool, result string) types.ProgressEvent {
	return types.ProgressEvent{Type: typ, AttemptID: "a1", Target: "host-1", Phase: phase, Rollback: rollback, Result: result}
}

func TestStepObserverPlansForwardPhases(t *testing.T) {
	t.Parallel()

	var last stepSnapshot
	obs := newStepObserver(func(s stepSnapshot) { last = s })
	obs.OnEvent(phaseEvent(lifecycle.EventPhaseStarted, "before_install", false, ""))

	if len(last.Steps) != len(lifecycle.ForwardPhases()) {
		t.Fatalf("snapshot has %d steps, want %d", len(last.Steps), len(lifecycle.ForwardPhases()))
	}
	if last.Steps[0].Status != stepRunning {
		t.Fatalf("first step = %s, want running", last.Steps[0].Status)
	}
	for _, s := range last.Steps[1:] {
		if s.Status != stepPending {
			t.Fatalf("step %s = %s, want pending", s.ID, s.Status)
		}
	}
}

func TestStepObserverRollback(t *testing.T) {
	t.Parallel()

	var last stepSnapshot
	obs := newStepObserver(func(s stepSnapshot) { last = s })
	obs.OnEvent(phaseEvent(lifecycle.EventPhaseFinished, "starting", false, "failed"))
	obs.OnEvent(phaseEvent(lifecycle.EventPhaseFinished, "validating", false, "skipped"))
	obs.OnEvent(types.ProgressEvent{Type: lifecycle.EventRollbackStarted, AttemptID: "a1", Rollback: true, Message: "launch failed"})
	for _, p := range lifecycle.RollbackPhases() {
		obs.OnEvent(phaseEvent(lifecycle.EventPhaseFinished, p.String(), true, "succeeded"))
	}
	obs.OnEvent(types.ProgressEvent{Type: lifecycle.EventAttemptFinished, AttemptID: "a1", Outcome: types.OutcomeRolledBack})

	// five forward steps, the rollback header and four rollback steps
	if len(last.Steps) != 10 {
		t.Fatalf("snapshot has %d steps, want 10", len(last.Steps))
	}
	byID := map[string]stepState{}
	for _, s := range last.Steps {
		byID[s.ID] = s
	}
	if byID["starting"].Status != stepFailed || byID["validating"].Status != stepSkipped {
		t.Fatalf("forward steps = %+v / %+v", byID["starting"], byID["validating"])
	}
	if byID[rollbackStep].Status != stepDone {
		t.Fatalf("rollback step = %s, want done", byID[rollbackStep].Status)
	}
	if s := byID["rollback/validating"]; s.Status != stepDone || s.ParentID != rollbackStep {
		t.Fatalf("rollback/validating = %+v", s)
	}
}

func TestLineTelemetryPrintsChangesOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := newLineTelemetry(&buf, "host-1 ")
	snap := stepSnapshot{Steps: []stepState{
		{ID: "before_install", Title: "before_install", Status: stepDone},
		{ID: "stopping", Title: "stopping", Status: stepRunning},
		{ID: "installing", Title: "installing", Status: stepPending},
	}}
	l.OnSnapshot(snap)
	l.OnSnapshot(snap)

	got := strings.Split(strings.TrimSpace(buf.String()), "\n")
	want := []string{"host-1   [ok] before_install", "host-1   [->] stopping"}
	if len(got) != len(want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}
