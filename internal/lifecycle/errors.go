package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPrecondition      = errors.New("precondition failed")
	ErrStop              = errors.New("container would not stop")
	ErrResolution        = errors.New("artifact resolution failed")
	ErrLaunch            = errors.New("container launch failed")
	ErrValidation        = errors.New("service validation failed")
	ErrRollbackExhausted = errors.New("rollback exhausted")

	ErrInvalidRequest  = errors.New("invalid deploy request")
	ErrTargetBusy      = errors.New("target has an attempt in flight")
	ErrUnknownTarget   = errors.New("unknown target")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAttemptTerminal = errors.New("attempt is terminal")
	ErrAborted         = errors.New("attempt aborted")
	ErrShutdown        = errors.New("coordinator is shutting down")
)

// Collaborator errors. Adapters wrap their native failures with these.
var (
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
	ErrContainerNotFound  = errors.New("container not found")
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrTransfer           = errors.New("artifact transfer failed")
	ErrUnreachable        = errors.New("health endpoint unreachable")
	ErrInvalidArtifact    = errors.New("invalid artifact reference")
)

// ErrorKind classifies the failure that made an attempt terminal.
type ErrorKind uint8

const (
	KindPrecondition ErrorKind = iota + 1
	KindStop
	KindResolution
	KindLaunch
	KindValidation
	KindRollbackExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindStop:
		return "stop"
	case KindResolution:
		return "resolution"
	case KindLaunch:
		return "launch"
	case KindValidation:
		return "validation"
	case KindRollbackExhausted:
		return "rollback_exhausted"
	default:
		return "unknown"
	}
}

func (k ErrorKind) IsValid() bool {
	return k >= KindPrecondition && k <= KindRollbackExhausted
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPrecondition:
		return ErrPrecondition
	case KindStop:
		return ErrStop
	case KindResolution:
		return ErrResolution
	case KindLaunch:
		return ErrLaunch
	case KindValidation:
		return ErrValidation
	case KindRollbackExhausted:
		return ErrRollbackExhausted
	default:
		return nil
	}
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid error kind: %d", k)
	}
	return json.Marshal(k.String())
}

func (k *ErrorKind) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next, ok := ParseErrorKind(raw)
	if !ok {
		return fmt.Errorf("invalid error kind: %q", raw)
	}
	*k = next
	return nil
}

func ParseErrorKind(raw string) (ErrorKind, bool) {
	switch strings.TrimSpace(raw) {
	case "precondition":
		return KindPrecondition, true
	case "stop":
		return KindStop, true
	case "resolution":
		return KindResolution, true
	case "launch":
		return KindLaunch, true
	case "validation":
		return KindValidation, true
	case "rollback_exhausted":
		return KindRollbackExhausted, true
	default:
		return 0, false
	}
}

// phaseKind maps the phase a failure happened in to its error kind.
func phaseKind(p Phase) ErrorKind {
	switch p {
	case PhaseIdle, PhaseBeforeInstall:
		return KindPrecondition
	case PhaseStopping:
		return KindStop
	case PhaseInstalling:
		return KindResolution
	case PhaseStarting:
		return KindLaunch
	case PhaseValidating:
		return KindValidation
	default:
		return 0
	}
}

// Error is the terminal failure of an attempt. errors.Is matches both the
// kind sentinel (ErrLaunch, ErrValidation, ...) and the underlying cause.
type Error struct {
	AttemptID string
	Kind      ErrorKind
	Phase     Phase
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.AttemptID != "" {
		return fmt.Sprintf("attempt %s: %s failed at %s: %s", e.AttemptID, e.Kind, e.Phase, e.Message)
	}
	return fmt.Sprintf("%s failed at %s: %s", e.Kind, e.Phase, e.Message)
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the error kind carried by err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}
