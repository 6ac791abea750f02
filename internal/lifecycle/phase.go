package lifecycle

import (
	"encoding/json"
	"fmt"
	"strings"

	"deployd/internal/check"
)

// Phase is a step of one deployment attempt. Idle through Validating are
// active; Succeeded, Failed and RolledBack are terminal.
type Phase uint8

const (
	PhaseIdle Phase = iota + 1
	PhaseBeforeInstall
	PhaseStopping
	PhaseInstalling
	PhaseStarting
	PhaseValidating
	PhaseSucceeded
	PhaseFailed
	PhaseRolledBack
)

// forwardPhases is the fixed order recorded in every attempt's phase log.
var forwardPhases = [...]Phase{
	PhaseBeforeInstall,
	PhaseStopping,
	PhaseInstalling,
	PhaseStarting,
	PhaseValidating,
}

// rollbackPhases re-enter the tail of the forward order with the previous artifact.
var rollbackPhases = [...]Phase{
	PhaseStopping,
	PhaseInstalling,
	PhaseStarting,
	PhaseValidating,
}

// ForwardPhases returns the fixed forward phase order.
func ForwardPhases() []Phase {
	return append([]Phase(nil), forwardPhases[:]...)
}

// RollbackPhases returns the phases re-entered by the rollback path.
func RollbackPhases() []Phase {
	return append([]Phase(nil), rollbackPhases[:]...)
}

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseBeforeInstall:
		return "before_install"
	case PhaseStopping:
		return "stopping"
	case PhaseInstalling:
		return "installing"
	case PhaseStarting:
		return "starting"
	case PhaseValidating:
		return "validating"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

func (p Phase) IsValid() bool {
	return p >= PhaseIdle && p <= PhaseRolledBack
}

func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseRolledBack:
		return true
	default:
		return false
	}
}

// Transition returns to if the move is legal and p otherwise.
// Rollback re-enters Stopping from any phase that touched the container.
func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case PhaseIdle:
		ok = to == PhaseBeforeInstall || to == PhaseFailed
	case PhaseBeforeInstall:
		ok = to == PhaseStopping || to == PhaseFailed
	case PhaseStopping:
		ok = to == PhaseInstalling || to == PhaseStopping || to == PhaseFailed
	case PhaseInstalling:
		ok = to == PhaseStarting || to == PhaseStopping || to == PhaseFailed
	case PhaseStarting:
		ok = to == PhaseValidating || to == PhaseStopping || to == PhaseFailed
	case PhaseValidating:
		ok = to == PhaseSucceeded || to == PhaseRolledBack || to == PhaseStopping || to == PhaseFailed
	case PhaseSucceeded, PhaseFailed, PhaseRolledBack:
		ok = false
	}
	check.Assertf(ok, "lifecycle phase transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

func (p Phase) MarshalJSON() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("invalid lifecycle phase: %d", p)
	}
	return json.Marshal(p.String())
}

func (p *Phase) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := parsePhase(raw)
	if !ok {
		return fmt.Errorf("invalid lifecycle phase: %q", raw)
	}
	*p = next
	return nil
}

func parsePhase(raw string) (Phase, bool) {
	switch strings.TrimSpace(raw) {
	case "idle":
		return PhaseIdle, true
	case "before_install":
		return PhaseBeforeInstall, true
	case "stopping":
		return PhaseStopping, true
	case "installing":
		return PhaseInstalling, true
	case "starting":
		return PhaseStarting, true
	case "validating":
		return PhaseValidating, true
	case "succeeded":
		return PhaseSucceeded, true
	case "failed":
		return PhaseFailed, true
	case "rolled_back":
		return PhaseRolledBack, true
	default:
		return 0, false
	}
}

// PhaseResult is the recorded result of one phase log entry.
type PhaseResult uint8

const (
	ResultSucceeded PhaseResult = iota + 1
	ResultFailed
	ResultSkipped
)

func (r PhaseResult) String() string {
	switch r {
	case ResultSucceeded:
		return "succeeded"
	case ResultFailed:
		return "failed"
	case ResultSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

func (r PhaseResult) IsValid() bool {
	return r >= ResultSucceeded && r <= ResultSkipped
}

func (r PhaseResult) MarshalJSON() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid phase result: %d", r)
	}
	return json.Marshal(r.String())
}

func (r *PhaseResult) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.TrimSpace(raw) {
	case "succeeded":
		*r = ResultSucceeded
	case "failed":
		*r = ResultFailed
	case "skipped":
		*r = ResultSkipped
	default:
		return fmt.Errorf("invalid phase result: %q", raw)
	}
	return nil
}

// Outcome is the attempt-level result. Pending until the attempt is terminal.
type Outcome uint8

const (
	OutcomePending Outcome = iota + 1
	OutcomeSucceeded
	OutcomeFailed
	OutcomeRolledBack
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

func (o Outcome) IsValid() bool {
	return o >= OutcomePending && o <= OutcomeRolledBack
}

func (o Outcome) IsTerminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeRolledBack
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	if !o.IsValid() {
		return nil, fmt.Errorf("invalid outcome: %d", o)
	}
	return json.Marshal(o.String())
}

func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseOutcome(raw)
	if !ok {
		return fmt.Errorf("invalid outcome: %q", raw)
	}
	*o = next
	return nil
}

func ParseOutcome(raw string) (Outcome, bool) {
	switch strings.TrimSpace(raw) {
	case "pending":
		return OutcomePending, true
	case "succeeded":
		return OutcomeSucceeded, true
	case "failed":
		return OutcomeFailed, true
	case "rolled_back":
		return OutcomeRolledBack, true
	default:
		return 0, false
	}
}
