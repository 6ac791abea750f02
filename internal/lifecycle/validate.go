package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// healthCheck is the three-signal health rule: the process is running, the
// health path answers 2xx, and the body is non-empty and carries the marker.
// The response must also arrive under the latency ceiling.
type healthCheck struct {
	marker  string
	ceiling time.Duration
}

func (h healthCheck) evaluate(state ContainerState, stateErr error, res ProbeResult, probeErr error) error {
	if stateErr != nil {
		if errors.Is(stateErr, ErrContainerNotFound) {
			return errors.New("container is gone")
		}
		return fmt.Errorf("inspect container: %w", stateErr)
	}
	if !state.Running {
		return fmt.Errorf("container is %s (exit code %d)", statusOrUnknown(state.Status), state.ExitCode)
	}
	if probeErr != nil {
		return fmt.Errorf("probe: %w", probeErr)
	}
	if res.Status < 200 || res.Status > 299 {
		return fmt.Errorf("health endpoint returned HTTP %d", res.Status)
	}
	if strings.TrimSpace(res.Body) == "" {
		return errors.New("health endpoint returned an empty body")
	}
	if !strings.Contains(res.Body, h.marker) {
		return fmt.Errorf("health body does not contain %q", h.marker)
	}
	if res.Latency > h.ceiling {
		return fmt.Errorf("health latency %s exceeds ceiling %s", res.Latency.Round(time.Millisecond), h.ceiling)
	}
	return nil
}

func statusOrUnknown(status string) string {
	if strings.TrimSpace(status) == "" {
		return "not running"
	}
	return status
}

// probeTally tracks consecutive passing probes against a bounded budget.
type probeTally struct {
	need      int
	budget    int
	tries     int
	streak    int
	lastIssue error
}

func (t *probeTally) observe(issue error) {
	t.tries++
	if issue != nil {
		t.streak = 0
		t.lastIssue = issue
		return
	}
	t.streak++
}

func (t *probeTally) healthy() bool {
	return t.streak >= t.need
}

// exhausted reports whether the remaining budget can no longer produce
// the required streak.
func (t *probeTally) exhausted() bool {
	remaining := t.budget - t.tries
	return t.streak+remaining < t.need
}
