package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestHealthCheckEvaluate(t *testing.T) {
	h := healthCheck{marker: "ecommerce", ceiling: time.Second}
	running := ContainerState{Name: "ecommerce-app", Status: "running", Running: true}
	good := ProbeResult{Status: 200, Body: "<h1>ecommerce</h1>", Latency: 20 * time.Millisecond}

	tests := []struct {
		name     string
		state    ContainerState
		stateErr error
		res      ProbeResult
		probeErr error
		want     string
	}{
		{name: "healthy", state: running, res: good},
		{name: "gone", stateErr: fmt.Errorf("inspect: %w", ErrContainerNotFound), want: "gone"},
		{name: "exited", state: ContainerState{Status: "exited", ExitCode: 137}, want: "exit code 137"},
		{name: "unreachable", state: running, probeErr: ErrUnreachable, want: "probe"},
		{name: "redirect", state: running, res: ProbeResult{Status: 302, Body: "ecommerce"}, want: "HTTP 302"},
		{name: "empty body", state: running, res: ProbeResult{Status: 200, Body: "  "}, want: "empty body"},
		{name: "wrong page", state: running, res: ProbeResult{Status: 200, Body: "Welcome to nginx"}, want: "does not contain"},
		{name: "slow", state: running, res: ProbeResult{Status: 204, Body: "ecommerce", Latency: 2 * time.Second}, want: "exceeds ceiling"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.evaluate(tt.state, tt.stateErr, tt.res, tt.probeErr)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("evaluate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("evaluate() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestProbeTally(t *testing.T) {
	issue := errors.New("bad")
	tally := probeTally{need: 2, budget: 4}

	tally.observe(issue)
	tally.observe(nil)
	if tally.healthy() || tally.exhausted() {
		t.Fatalf("after fail+pass: healthy=%v exhausted=%v", tally.healthy(), tally.exhausted())
	}
	tally.observe(issue)
	if !tally.exhausted() {
		t.Fatal("one probe left cannot make a streak of two, want exhausted")
	}

	tally = probeTally{need: 2, budget: 4}
	tally.observe(nil)
	tally.observe(nil)
	if !tally.healthy() || tally.tries != 2 {
		t.Fatalf("healthy=%v tries=%d, want healthy after 2", tally.healthy(), tally.tries)
	}
}

func TestRetryFixed(t *testing.T) {
	calls := 0
	tries, err := retryFixed(t.Context(), 3, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("busy")
		}
		return nil
	})
	if err != nil || tries != 2 {
		t.Fatalf("retryFixed() = (%d, %v), want (2, nil)", tries, err)
	}

	tries, err = retryFixed(t.Context(), 3, time.Millisecond, func(context.Context) error { return errors.New("stuck") })
	if err == nil || tries != 3 {
		t.Fatalf("retryFixed() = (%d, %v), want 3 failed tries", tries, err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	tries, err = retryFixed(ctx, 5, time.Hour, func(context.Context) error { return errors.New("stuck") })
	if err == nil || tries != 1 {
		t.Fatalf("retryFixed(cancelled) = (%d, %v), want 1 try", tries, err)
	}
}

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := error(&Error{Kind: KindLaunch, Phase: PhaseStarting, Message: "boom", Err: ErrContainerNotFound})
	if !errors.Is(err, ErrLaunch) || !errors.Is(err, ErrContainerNotFound) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("launch error matches ErrValidation")
	}
	if KindOf(fmt.Errorf("wrapped: %w", err)) != KindLaunch {
		t.Fatal("KindOf() lost the kind through wrapping")
	}
}
