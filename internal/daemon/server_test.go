package daemon_test

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"deployd/internal/adapter/fake"
	"deployd/internal/daemon"
	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/client"
	"deployd/pkg/sdk/types"

	"google.golang.org/grpc/test/bufconn"
)

const container = lifecycle.DefaultContainerName

var (
	v1 = lifecycle.MustParseArtifactRef("repo/app:v1")
	v2 = lifecycle.MustParseArtifactRef("repo/app:v2")
)

type env struct {
	rt        *fake.Runtime
	artifacts *fake.Artifacts
	store     *fake.AttemptStore
	coord     *lifecycle.Coordinator
	cli       *client.Client
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		rt:        fake.NewRuntime(),
		artifacts: fake.NewArtifacts(v1.String(), v2.String()),
		store:     fake.NewAttemptStore(),
	}
	healthy := lifecycle.ProbeResult{Status: 200, Body: "ecommerce ok", Latency: 5 * time.Millisecond}
	health := fake.NewHealthOracle(fake.ByImage(e.rt, container, map[string]lifecycle.ProbeResult{
		v1.String(): healthy,
		v2.String(): healthy,
	}))

	policy := lifecycle.DefaultPolicy()
	policy.StopBackoff = time.Millisecond
	policy.StartTimeout = 100 * time.Millisecond
	policy.StartPollInterval = 2 * time.Millisecond
	policy.ProbeInterval = time.Millisecond

	discard := slog.New(slog.DiscardHandler)
	coord, err := lifecycle.New(
		lifecycle.TargetSet{"host-1": {Runtime: e.rt, Artifacts: e.artifacts, Health: health}},
		lifecycle.WithStore(e.store),
		lifecycle.WithPolicy(policy),
		lifecycle.WithLogger(discard),
	)
	if err != nil {
		t.Fatalf("lifecycle.New() error = %v", err)
	}
	e.coord = coord

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	srv := daemon.New(coord, daemon.WithShutdownGrace(time.Second), daemon.WithServerLogger(discard))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	})

	cli, err := client.NewWithDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	if err != nil {
		t.Fatalf("client.NewWithDialer() error = %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })
	e.cli = cli
	return e
}

// gateResolve blocks the first resolve of ref until release closes or the
// phase is cancelled.
func (e *env) gateResolve(ref lifecycle.ArtifactRef) (entered <-chan struct{}, release chan struct{}) {
	in := make(chan struct{})
	rel := make(chan struct{})
	var calls atomic.Int32
	e.artifacts.Faults.SetHook(fake.FaultArtifactsResolve, func(ctx context.Context, args ...any) error {
		got, _ := args[0].(lifecycle.ArtifactRef)
		if !got.Equal(ref) || calls.Add(1) != 1 {
			return nil
		}
		close(in)
		select {
		case <-rel:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return in, rel
}

func TestDeployStreamsProgressAndResult(t *testing.T) {
	e := newEnv(t)

	var events []types.ProgressEvent
	a, err := e.cli.Deploy(t.Context(), types.DeployRequest{Target: "host-1", Artifact: v2.String()}, func(ev types.ProgressEvent) {
		events = append(events, ev)
	})
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if a.Outcome != types.OutcomeSucceeded {
		t.Fatalf("Outcome = %q, want succeeded", a.Outcome)
	}
	if len(a.Log) != 5 {
		t.Fatalf("log has %d entries, want 5", len(a.Log))
	}
	if a.Artifact != v2.String() || a.Container != container || a.Target != "host-1" {
		t.Fatalf("attempt = %+v", a)
	}
	if len(events) == 0 {
		t.Fatal("no progress events streamed")
	}
	if events[0].Type != lifecycle.EventAttemptStarted || events[len(events)-1].Type != lifecycle.EventAttemptFinished {
		t.Fatalf("events run from %q to %q, want attempt_started to attempt_finished", events[0].Type, events[len(events)-1].Type)
	}
	for _, ev := range events {
		if ev.AttemptID != a.ID {
			t.Fatalf("event attempt = %q, want %q", ev.AttemptID, a.ID)
		}
	}
}

func TestDeployFailureIsAResultNotAnError(t *testing.T) {
	e := newEnv(t)

	a, err := e.cli.Deploy(t.Context(), types.DeployRequest{Target: "host-1", Artifact: "repo/app:v9"}, nil)
	if err != nil {
		t.Fatalf("Deploy() error = %v, want nil with failed attempt", err)
	}
	if a.Outcome != types.OutcomeFailed || a.ErrorKind != "resolution" || a.FailedPhase != "installing" {
		t.Fatalf("attempt = %s/%s at %s, want failed resolution at installing", a.Outcome, a.ErrorKind, a.FailedPhase)
	}
	if !a.Terminal() {
		t.Fatal("Terminal() = false, want true")
	}
}

func TestDeployRejectsInvalidArtifact(t *testing.T) {
	e := newEnv(t)

	_, err := e.cli.Deploy(t.Context(), types.DeployRequest{Target: "host-1", Artifact: "repo/app"}, nil)
	if !errors.Is(err, client.ErrInvalidArgument) {
		t.Fatalf("Deploy() error = %v, want ErrInvalidArgument", err)
	}
	if _, err := e.cli.Start(t.Context(), types.DeployRequest{Target: "host-1", Artifact: v2.String(), Previous: "::"}); !errors.Is(err, client.ErrInvalidArgument) {
		t.Fatalf("Start() error = %v, want ErrInvalidArgument", err)
	}
}

func TestUnknownTargetFailsPrecondition(t *testing.T) {
	e := newEnv(t)

	a, err := e.cli.Deploy(t.Context(), types.DeployRequest{Target: "host-9", Artifact: v2.String()}, nil)
	if err != nil {
		t.Fatalf("Deploy() error = %v", err)
	}
	if a.Outcome != types.OutcomeFailed || a.ErrorKind != "precondition" {
		t.Fatalf("attempt = %s/%s, want failed precondition", a.Outcome, a.ErrorKind)
	}
}

func TestStartThenWaitAndList(t *testing.T) {
	e := newEnv(t)

	id, err := e.cli.Start(t.Context(), types.DeployRequest{Target: "host-1", Artifact: v1.String()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	a, err := e.cli.GetAttempt(t.Context(), id, true)
	if err != nil {
		t.Fatalf("GetAttempt(wait) error = %v", err)
	}
	if a.ID != id || a.Outcome != types.OutcomeSucceeded {
		t.Fatalf("attempt = %s %s, want %s succeeded", a.ID, a.Outcome, id)
	}

	got, err := e.cli.GetAttempt(t.Context(), id, false)
	if err != nil {
		t.Fatalf("GetAttempt() error = %v", err)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("FinishedAt is zero on a terminal attempt")
	}

	list, err := e.cli.ListAttempts(t.Context(), "host-1", 10)
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("ListAttempts() = %+v, want the one attempt", list)
	}
	if list, _ := e.cli.ListAttempts(t.Context(), "host-2", 10); len(list) != 0 {
		t.Fatalf("ListAttempts(host-2) = %d attempts, want 0", len(list))
	}
}

func TestBusyTargetAndAbort(t *testing.T) {
	e := newEnv(t)
	e.rt.Seed(container, v1.String(), true)
	entered, release := e.gateResolve(v2)
	defer close(release)

	id, err := e.cli.Start(t.Context(), types.DeployRequest{Target: "host-1", Artifact: v2.String()})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	<-entered

	_, err = e.cli.Start(t.Context(), types.DeployRequest{Target: "host-1", Artifact: v1.String()})
	if !errors.Is(err, client.ErrTargetBusy) || !errors.Is(err, client.ErrPrecondition) {
		t.Fatalf("second Start() error = %v, want target busy precondition", err)
	}

	if err := e.cli.Abort(t.Context(), id); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	a, err := e.cli.GetAttempt(t.Context(), id, true)
	if err != nil {
		t.Fatalf("GetAttempt(wait) error = %v", err)
	}
	if a.Outcome != types.OutcomeRolledBack {
		t.Fatalf("Outcome = %q, want rolled_back", a.Outcome)
	}
	if a.Previous != v1.String() {
		t.Fatalf("Previous = %q, want %q", a.Previous, v1.String())
	}

	if err := e.cli.Abort(t.Context(), id); !errors.Is(err, client.ErrAttemptTerminal) {
		t.Fatalf("Abort() on terminal attempt error = %v, want ErrAttemptTerminal", err)
	}
}

func TestUnknownAttempt(t *testing.T) {
	e := newEnv(t)

	if _, err := e.cli.GetAttempt(t.Context(), "missing", false); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("GetAttempt() error = %v, want ErrNotFound", err)
	}
	if _, err := e.cli.GetAttempt(t.Context(), "missing", true); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("GetAttempt(wait) error = %v, want ErrNotFound", err)
	}
	if err := e.cli.Abort(t.Context(), "missing"); !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("Abort() error = %v, want ErrNotFound", err)
	}
	if err := e.cli.Abort(t.Context(), ""); !errors.Is(err, client.ErrInvalidArgument) {
		t.Fatalf("Abort(\"\") error = %v, want ErrInvalidArgument", err)
	}
}

func TestCancelledStreamRollsBack(t *testing.T) {
	e := newEnv(t)
	e.rt.Seed(container, v1.String(), true)
	_, release := e.gateResolve(v2)
	defer close(release)

	ids := make(chan string, 1)
	ctx, cancel := context.WithCancel(t.Context())
	deployed := make(chan error, 1)
	go func() {
		_, err := e.cli.Deploy(ctx, types.DeployRequest{Target: "host-1", Artifact: v2.String()}, func(ev types.ProgressEvent) {
			if ev.Phase == "installing" && ev.Type == lifecycle.EventPhaseStarted {
				select {
				case ids <- ev.AttemptID:
				default:
				}
			}
		})
		deployed <- err
	}()

	id := <-ids
	cancel()
	if err := <-deployed; err == nil {
		t.Fatal("Deploy() error = nil after cancellation")
	}

	a, err := e.cli.GetAttempt(t.Context(), id, true)
	if err != nil {
		t.Fatalf("GetAttempt(wait) error = %v", err)
	}
	if a.Outcome != types.OutcomeRolledBack {
		t.Fatalf("Outcome = %q, want rolled_back", a.Outcome)
	}
	state, _ := e.rt.Container(container)
	if !state.Running || state.Image != v1.String() {
		t.Fatalf("container = %+v, want v1 running", state)
	}
}
