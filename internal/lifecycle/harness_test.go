package lifecycle_test

import (
	"log/slog"
	"testing"
	"time"

	"deployd/internal/adapter/fake"
	"deployd/internal/lifecycle"
)

const container = lifecycle.DefaultContainerName

var (
	v1 = lifecycle.MustParseArtifactRef("repo/app:v1")
	v2 = lifecycle.MustParseArtifactRef("repo/app:v2")

	healthy = lifecycle.ProbeResult{Status: 200, Body: "ecommerce ok", Latency: 10 * time.Millisecond}
)

type harness struct {
	rt        *fake.Runtime
	artifacts *fake.Artifacts
	health    *fake.HealthOracle
	store     *fake.AttemptStore
	clock     *fake.Clock
	coord     *lifecycle.Coordinator
}

func fastPolicy() lifecycle.Policy {
	p := lifecycle.DefaultPolicy()
	p.StopBackoff = time.Millisecond
	p.StartTimeout = 60 * time.Millisecond
	p.StartPollInterval = 2 * time.Millisecond
	p.ValidateTimeout = 2 * time.Second
	p.ProbeInterval = time.Millisecond
	return p
}

func newHarness(t *testing.T, opts ...lifecycle.Option) *harness {
	t.Helper()

	h := &harness{
		rt:        fake.NewRuntime(),
		artifacts: fake.NewArtifacts(v1.String(), v2.String()),
		store:     fake.NewAttemptStore(),
		clock:     fake.NewClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	h.clock.AutoAdvance(time.Second)
	h.health = fake.NewHealthOracle(fake.ByImage(h.rt, container, map[string]lifecycle.ProbeResult{
		v1.String(): healthy,
		v2.String(): healthy,
	}))

	base := []lifecycle.Option{
		lifecycle.WithStore(h.store),
		lifecycle.WithClock(h.clock),
		lifecycle.WithPolicy(fastPolicy()),
		lifecycle.WithLogger(slog.New(slog.DiscardHandler)),
	}
	coord, err := lifecycle.New(lifecycle.StaticTarget(h.target()), append(base, opts...)...)
	if err != nil {
		t.Fatalf("lifecycle.New() error = %v", err)
	}
	h.coord = coord
	return h
}

func (h *harness) target() lifecycle.Target {
	return lifecycle.Target{Runtime: h.rt, Artifacts: h.artifacts, Health: h.health}
}

// respondFor answers probes per running image; images left out are unreachable.
func (h *harness) respondFor(responses map[string]lifecycle.ProbeResult) {
	h.health.SetResponder(fake.ByImage(h.rt, container, responses))
}

// assertPhaseOrder checks the log is the forward order, optionally followed
// by exactly one rollback pass.
func assertPhaseOrder(t *testing.T, a lifecycle.Attempt) {
	t.Helper()

	forward := lifecycle.ForwardPhases()
	if len(a.Log) != len(forward) && len(a.Log) != len(forward)+len(lifecycle.RollbackPhases()) {
		t.Fatalf("phase log length = %d, want %d or %d: %+v", len(a.Log), len(forward), len(forward)+4, a.Log)
	}
	for i, phase := range forward {
		if a.Log[i].Phase != phase || a.Log[i].Rollback {
			t.Fatalf("log[%d] = %s (rollback=%v), want forward %s", i, a.Log[i].Phase, a.Log[i].Rollback, phase)
		}
	}
	for i, phase := range lifecycle.RollbackPhases() {
		idx := len(forward) + i
		if idx >= len(a.Log) {
			break
		}
		if a.Log[idx].Phase != phase || !a.Log[idx].Rollback {
			t.Fatalf("log[%d] = %s (rollback=%v), want rollback %s", idx, a.Log[idx].Phase, a.Log[idx].Rollback, phase)
		}
	}
}

func countPhase(a lifecycle.Attempt, phase lifecycle.Phase) int {
	n := 0
	for _, rec := range a.Log {
		if rec.Phase == phase {
			n++
		}
	}
	return n
}

func findRecord(t *testing.T, a lifecycle.Attempt, phase lifecycle.Phase, rollback bool) lifecycle.PhaseRecord {
	t.Helper()
	for _, rec := range a.Log {
		if rec.Phase == phase && rec.Rollback == rollback {
			return rec
		}
	}
	t.Fatalf("no %s record (rollback=%v) in %+v", phase, rollback, a.Log)
	return lifecycle.PhaseRecord{}
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
