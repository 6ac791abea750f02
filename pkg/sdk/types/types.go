// Package types holds the wire shapes of the deployd daemon API.
package types

import "time"

type DeployRequest struct {
	Target   string `json:"target"`
	Artifact string `json:"artifact"`
	// Previous overrides the rollback artifact.
	Previous string `json:"previous,omitempty"`
}

type StartResponse struct {
	AttemptID string `json:"attempt_id"`
}

// DeployMessage is one frame of a streamed deploy: progress events while
// the attempt runs, then a final frame carrying the terminal attempt.
type DeployMessage struct {
	Event   *ProgressEvent `json:"event,omitempty"`
	Attempt *Attempt       `json:"attempt,omitempty"`
}

type GetAttemptRequest struct {
	AttemptID string `json:"attempt_id"`
	// Wait blocks until the attempt is terminal.
	Wait bool `json:"wait,omitempty"`
}

type ListAttemptsRequest struct {
	Target string `json:"target,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListAttemptsResponse struct {
	Attempts []Attempt `json:"attempts"`
}

type AbortRequest struct {
	AttemptID string `json:"attempt_id"`
}

type AbortResponse struct{}

type Attempt struct {
	ID          string       `json:"id"`
	Target      string       `json:"target"`
	Container   string       `json:"container"`
	Artifact    string       `json:"artifact"`
	Previous    string       `json:"previous,omitempty"`
	Phase       string       `json:"phase"`
	Outcome     string       `json:"outcome"`
	FailedPhase string       `json:"failed_phase,omitempty"`
	ErrorKind   string       `json:"error_kind,omitempty"`
	Message     string       `json:"message,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	Log         []PhaseEntry `json:"log,omitempty"`
}

func (a Attempt) Terminal() bool {
	switch a.Outcome {
	case OutcomeSucceeded, OutcomeFailed, OutcomeRolledBack:
		return true
	default:
		return false
	}
}

type PhaseEntry struct {
	Phase    string        `json:"phase"`
	Result   string        `json:"result"`
	Artifact string        `json:"artifact,omitempty"`
	Rollback bool          `json:"rollback,omitempty"`
	Tries    int           `json:"tries,omitempty"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

type ProgressEvent struct {
	Type      string `json:"type"`
	AttemptID string `json:"attempt_id"`
	Target    string `json:"target"`
	Phase     string `json:"phase,omitempty"`
	Rollback  bool   `json:"rollback,omitempty"`
	Result    string `json:"result,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	OutcomePending    = "pending"
	OutcomeSucceeded  = "succeeded"
	OutcomeFailed     = "failed"
	OutcomeRolledBack = "rolled_back"
)
