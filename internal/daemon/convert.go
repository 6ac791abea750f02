package daemon

import (
	"fmt"

	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/types"
)

// --- lifecycle ↔ wire conversion boundary ---

// RequestFromWire parses a wire deploy request. Parse failures wrap
// lifecycle.ErrInvalidArtifact.
func RequestFromWire(req *types.DeployRequest) (lifecycle.Request, error) {
	if req == nil {
		return lifecycle.Request{}, fmt.Errorf("%w: request is required", lifecycle.ErrInvalidRequest)
	}
	artifact, err := lifecycle.ParseArtifactRef(req.Artifact)
	if err != nil {
		return lifecycle.Request{}, err
	}
	out := lifecycle.Request{TargetID: req.Target, Artifact: artifact}
	if req.Previous != "" {
		prev, err := lifecycle.ParseArtifactRef(req.Previous)
		if err != nil {
			return lifecycle.Request{}, fmt.Errorf("previous: %w", err)
		}
		out.Previous = &prev
	}
	return out, nil
}

func AttemptToWire(a lifecycle.Attempt) types.Attempt {
	out := types.Attempt{
		ID:         a.ID,
		Target:     a.TargetID,
		Container:  a.ContainerName,
		Artifact:   a.Artifact.String(),
		Phase:      a.Phase.String(),
		Outcome:    a.Outcome.String(),
		Message:    a.Message,
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
		Log:        make([]types.PhaseEntry, len(a.Log)),
	}
	if a.Previous != nil {
		out.Previous = a.Previous.String()
	}
	if a.FailedPhase.IsValid() {
		out.FailedPhase = a.FailedPhase.String()
	}
	if a.ErrorKind.IsValid() {
		out.ErrorKind = a.ErrorKind.String()
	}
	for i, rec := range a.Log {
		entry := types.PhaseEntry{
			Phase:    rec.Phase.String(),
			Result:   rec.Result.String(),
			Rollback: rec.Rollback,
			Tries:    rec.Tries,
			Duration: rec.Duration,
			Message:  rec.Message,
		}
		if !rec.Artifact.IsZero() {
			entry.Artifact = rec.Artifact.String()
		}
		out.Log[i] = entry
	}
	return out
}

func EventToWire(ev lifecycle.ProgressEvent) types.ProgressEvent {
	out := types.ProgressEvent{
		Type:      ev.Type,
		AttemptID: ev.AttemptID,
		Target:    ev.TargetID,
		Rollback:  ev.Rollback,
		Message:   ev.Message,
	}
	if ev.Phase.IsValid() {
		out.Phase = ev.Phase.String()
	}
	if ev.Result.IsValid() {
		out.Result = ev.Result.String()
	}
	if ev.Outcome.IsValid() {
		out.Outcome = ev.Outcome.String()
	}
	return out
}
