package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy holds the per-phase budgets. Each phase runs under its own timeout;
// only Stopping and the liveness probes retry.
type Policy struct {
	PreconditionTimeout  time.Duration
	BeforeInstallTimeout time.Duration

	StopTimeout time.Duration
	StopRetries int
	StopBackoff time.Duration

	InstallTimeout time.Duration

	StartTimeout      time.Duration
	StartPollInterval time.Duration

	ValidateTimeout time.Duration
	// ProbeSuccesses consecutive passing probes mark the service healthy.
	ProbeSuccesses int
	ProbeAttempts  int
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	LatencyCeiling time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		PreconditionTimeout:  10 * time.Second,
		BeforeInstallTimeout: 30 * time.Second,
		StopTimeout:          45 * time.Second,
		StopRetries:          2,
		StopBackoff:          2 * time.Second,
		InstallTimeout:       10 * time.Minute,
		StartTimeout:         30 * time.Second,
		StartPollInterval:    500 * time.Millisecond,
		ValidateTimeout:      30 * time.Second,
		ProbeSuccesses:       2,
		ProbeAttempts:        6,
		ProbeInterval:        2 * time.Second,
		ProbeTimeout:         3 * time.Second,
		LatencyCeiling:       1500 * time.Millisecond,
	}
}

func (p Policy) Validate() error {
	var errs []error
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"precondition timeout", p.PreconditionTimeout},
		{"before_install timeout", p.BeforeInstallTimeout},
		{"stop timeout", p.StopTimeout},
		{"install timeout", p.InstallTimeout},
		{"start timeout", p.StartTimeout},
		{"start poll interval", p.StartPollInterval},
		{"validate timeout", p.ValidateTimeout},
		{"probe timeout", p.ProbeTimeout},
		{"latency ceiling", p.LatencyCeiling},
	}
	for _, f := range positive {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", f.name, f.d))
		}
	}
	if p.StopRetries < 0 {
		errs = append(errs, fmt.Errorf("stop retries must not be negative, got %d", p.StopRetries))
	}
	if p.StopBackoff < 0 || p.ProbeInterval < 0 {
		errs = append(errs, errors.New("backoff intervals must not be negative"))
	}
	if p.ProbeSuccesses < 1 {
		errs = append(errs, fmt.Errorf("probe successes must be at least 1, got %d", p.ProbeSuccesses))
	}
	if p.ProbeAttempts < p.ProbeSuccesses {
		errs = append(errs, fmt.Errorf("probe attempts (%d) must be at least probe successes (%d)", p.ProbeAttempts, p.ProbeSuccesses))
	}
	return errors.Join(errs...)
}

func (p Policy) timeout(phase Phase) time.Duration {
	switch phase {
	case PhaseIdle:
		return p.PreconditionTimeout
	case PhaseBeforeInstall:
		return p.BeforeInstallTimeout
	case PhaseStopping:
		return p.StopTimeout
	case PhaseInstalling:
		return p.InstallTimeout
	case PhaseStarting:
		return p.StartTimeout
	case PhaseValidating:
		return p.ValidateTimeout
	default:
		return 0
	}
}

// BusyPolicy decides what happens to a deploy for a target that already
// has an attempt in flight.
type BusyPolicy uint8

const (
	BusyReject BusyPolicy = iota + 1
	BusyQueue
)

func (b BusyPolicy) String() string {
	switch b {
	case BusyReject:
		return "reject"
	case BusyQueue:
		return "queue"
	default:
		return "unknown"
	}
}

func (b BusyPolicy) IsValid() bool {
	return b == BusyReject || b == BusyQueue
}

func (b BusyPolicy) MarshalJSON() ([]byte, error) {
	if !b.IsValid() {
		return nil, fmt.Errorf("invalid busy policy: %d", b)
	}
	return json.Marshal(b.String())
}

func (b *BusyPolicy) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, err := ParseBusyPolicy(raw)
	if err != nil {
		return err
	}
	*b = next
	return nil
}

func ParseBusyPolicy(raw string) (BusyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "reject":
		return BusyReject, nil
	case "queue":
		return BusyQueue, nil
	default:
		return 0, fmt.Errorf("invalid busy policy %q", raw)
	}
}
