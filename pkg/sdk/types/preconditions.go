package types

// PreconditionCode is a machine-readable reason attached to
// FailedPrecondition errors.
type PreconditionCode string

const (
	PreconditionTargetBusy      PreconditionCode = "target_busy"
	PreconditionAttemptTerminal PreconditionCode = "attempt_terminal"
)
