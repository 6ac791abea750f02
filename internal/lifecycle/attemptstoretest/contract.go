// Package attemptstoretest provides contract tests for
// [lifecycle.AttemptStore] implementations.
package attemptstoretest

import (
	"errors"
	"testing"
	"time"

	"deployd/internal/lifecycle"
)

// Factory creates a fresh [lifecycle.AttemptStore] for each test.
type Factory func(t *testing.T) lifecycle.AttemptStore

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleAttempt(id, target, artifact string, offset time.Duration) lifecycle.Attempt {
	return lifecycle.Attempt{
		ID:            id,
		TargetID:      target,
		ContainerName: lifecycle.DefaultContainerName,
		Artifact:      lifecycle.MustParseArtifactRef(artifact),
		Phase:         lifecycle.PhaseStopping,
		Outcome:       lifecycle.OutcomePending,
		StartedAt:     base.Add(offset),
		Log: []lifecycle.PhaseRecord{{
			Phase:    lifecycle.PhaseBeforeInstall,
			Result:   lifecycle.ResultSucceeded,
			Artifact: lifecycle.MustParseArtifactRef(artifact),
			Tries:    1,
			Duration: 1500 * time.Millisecond,
			Message:  "no existing container",
		}},
	}
}

func finish(a lifecycle.Attempt, outcome lifecycle.Outcome) lifecycle.Attempt {
	a.Outcome = outcome
	a.FinishedAt = a.StartedAt.Add(time.Minute)
	switch outcome {
	case lifecycle.OutcomeSucceeded:
		a.Phase = lifecycle.PhaseSucceeded
	case lifecycle.OutcomeRolledBack:
		a.Phase = lifecycle.PhaseRolledBack
		a.ErrorKind = lifecycle.KindLaunch
		a.FailedPhase = lifecycle.PhaseStarting
		a.Message = "container never reached running"
	default:
		a.Phase = lifecycle.PhaseFailed
		a.ErrorKind = lifecycle.KindResolution
		a.FailedPhase = lifecycle.PhaseInstalling
		a.Message = "artifact not found"
	}
	return a
}

// Run exercises the [lifecycle.AttemptStore] contract.
func Run(t *testing.T, factory Factory) {
	t.Run("SaveAndGet", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		prev := lifecycle.MustParseArtifactRef("repo/app:v1")
		a := sampleAttempt("a1", "host-1", "repo/app:v2", 0)
		a.Previous = &prev

		if err := store.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
		got, ok, err := store.GetAttempt(ctx, "a1")
		if err != nil || !ok {
			t.Fatalf("GetAttempt = (%v, %v), want found", ok, err)
		}
		if got.TargetID != "host-1" || got.Phase != lifecycle.PhaseStopping || got.Outcome != lifecycle.OutcomePending {
			t.Errorf("GetAttempt = %+v, want host-1 stopping pending", got)
		}
		if !got.Artifact.Equal(a.Artifact) {
			t.Errorf("Artifact = %s, want %s", got.Artifact, a.Artifact)
		}
		if got.Previous == nil || !got.Previous.Equal(prev) {
			t.Errorf("Previous = %v, want %s", got.Previous, prev)
		}
		if !got.StartedAt.Equal(a.StartedAt) {
			t.Errorf("StartedAt = %v, want %v", got.StartedAt, a.StartedAt)
		}
		if len(got.Log) != 1 || got.Log[0].Duration != 1500*time.Millisecond || got.Log[0].Message != "no existing container" {
			t.Errorf("Log = %+v, want one before_install entry", got.Log)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		store := factory(t)
		_, ok, err := store.GetAttempt(t.Context(), "missing")
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if ok {
			t.Fatal("GetAttempt found an attempt that was never saved")
		}
	})

	t.Run("UpdateUntilTerminal", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		a := sampleAttempt("a1", "host-1", "repo/app:v2", 0)
		if err := store.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}

		a.Phase = lifecycle.PhaseInstalling
		if err := store.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt update: %v", err)
		}
		done := finish(a, lifecycle.OutcomeSucceeded)
		if err := store.SaveAttempt(ctx, done); err != nil {
			t.Fatalf("SaveAttempt terminal: %v", err)
		}

		again := done
		again.Message = "rewritten"
		err := store.SaveAttempt(ctx, again)
		if !errors.Is(err, lifecycle.ErrAttemptTerminal) {
			t.Fatalf("SaveAttempt over terminal: got %v, want ErrAttemptTerminal", err)
		}

		got, _, err := store.GetAttempt(ctx, "a1")
		if err != nil {
			t.Fatalf("GetAttempt: %v", err)
		}
		if got.Outcome != lifecycle.OutcomeSucceeded || got.Message != "" {
			t.Errorf("GetAttempt = %s %q, want unchanged terminal attempt", got.Outcome, got.Message)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()
		for _, a := range []lifecycle.Attempt{
			sampleAttempt("a1", "host-1", "repo/app:v1", 0),
			sampleAttempt("a2", "host-2", "repo/app:v1", time.Minute),
			sampleAttempt("a3", "host-1", "repo/app:v2", 2*time.Minute),
		} {
			if err := store.SaveAttempt(ctx, a); err != nil {
				t.Fatalf("SaveAttempt %s: %v", a.ID, err)
			}
		}

		all, err := store.ListAttempts(ctx, "", 0)
		if err != nil {
			t.Fatalf("ListAttempts: %v", err)
		}
		if ids := attemptIDs(all); len(ids) != 3 || ids[0] != "a3" || ids[1] != "a2" || ids[2] != "a1" {
			t.Fatalf("ListAttempts all = %v, want [a3 a2 a1]", ids)
		}

		host1, err := store.ListAttempts(ctx, "host-1", 0)
		if err != nil {
			t.Fatalf("ListAttempts host-1: %v", err)
		}
		if ids := attemptIDs(host1); len(ids) != 2 || ids[0] != "a3" || ids[1] != "a1" {
			t.Fatalf("ListAttempts host-1 = %v, want [a3 a1]", ids)
		}

		limited, err := store.ListAttempts(ctx, "", 1)
		if err != nil {
			t.Fatalf("ListAttempts limit: %v", err)
		}
		if ids := attemptIDs(limited); len(ids) != 1 || ids[0] != "a3" {
			t.Fatalf("ListAttempts limit 1 = %v, want [a3]", ids)
		}
	})

	t.Run("LastServing", func(t *testing.T) {
		store := factory(t)
		ctx := t.Context()

		if _, ok, err := store.LastServing(ctx, "host-1"); err != nil || ok {
			t.Fatalf("LastServing empty = (%v, %v), want (false, nil)", ok, err)
		}

		v1 := finish(sampleAttempt("a1", "host-1", "repo/app:v1", 0), lifecycle.OutcomeSucceeded)
		rolled := sampleAttempt("a2", "host-1", "repo/app:v2", time.Minute)
		prev := lifecycle.MustParseArtifactRef("repo/app:v1.1")
		rolled.Previous = &prev
		rolled = finish(rolled, lifecycle.OutcomeRolledBack)
		failed := finish(sampleAttempt("a3", "host-1", "repo/app:v3", 2*time.Minute), lifecycle.OutcomeFailed)
		other := finish(sampleAttempt("a4", "host-2", "repo/app:v9", 3*time.Minute), lifecycle.OutcomeSucceeded)
		for _, a := range []lifecycle.Attempt{v1, rolled, failed, other} {
			if err := store.SaveAttempt(ctx, a); err != nil {
				t.Fatalf("SaveAttempt %s: %v", a.ID, err)
			}
		}

		ref, ok, err := store.LastServing(ctx, "host-1")
		if err != nil || !ok {
			t.Fatalf("LastServing = (%v, %v), want found", ok, err)
		}
		if !ref.Equal(prev) {
			t.Fatalf("LastServing = %s, want %s", ref, prev)
		}
	})
}

func attemptIDs(attempts []lifecycle.Attempt) []string {
	ids := make([]string, len(attempts))
	for i, a := range attempts {
		ids[i] = a.ID
	}
	return ids
}
