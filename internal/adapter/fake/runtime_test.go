package fake_test

import (
	"errors"
	"testing"

	"deployd/internal/adapter/fake"
	"deployd/internal/lifecycle"
)

func TestRuntimeStopAndRemoveAbsent(t *testing.T) {
	rt := fake.NewRuntime()

	stopped, err := rt.Stop(t.Context(), "ecommerce-app")
	if err != nil || stopped != lifecycle.ActionAbsent {
		t.Fatalf("Stop() = (%s, %v), want (absent, nil)", stopped, err)
	}
	removed, err := rt.Remove(t.Context(), "ecommerce-app")
	if err != nil || removed != lifecycle.ActionAbsent {
		t.Fatalf("Remove() = (%s, %v), want (absent, nil)", removed, err)
	}
	if _, err := rt.Inspect(t.Context(), "ecommerce-app"); !errors.Is(err, lifecycle.ErrContainerNotFound) {
		t.Fatalf("Inspect() error = %v, want ErrContainerNotFound", err)
	}
}

func TestRuntimeRunHonoursLaunchBehavior(t *testing.T) {
	rt := fake.NewRuntime()
	rt.SetLaunchBehavior("repo/app:v2", fake.LaunchNever)

	spec := lifecycle.RunSpec{
		Name:  "ecommerce-app",
		Image: lifecycle.ImageHandle{Ref: lifecycle.MustParseArtifactRef("repo/app:v2")},
	}
	if err := rt.Run(t.Context(), spec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	state, err := rt.Inspect(t.Context(), "ecommerce-app")
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if state.Running || state.Status != "created" {
		t.Fatalf("Inspect() = %+v, want created and not running", state)
	}

	if err := rt.Run(t.Context(), spec); err == nil {
		t.Fatal("Run() on an existing name error = nil, want conflict")
	}
}

func TestRuntimeUnavailable(t *testing.T) {
	rt := fake.NewRuntime()
	rt.SetAvailable(false)
	if err := rt.Ping(t.Context()); !errors.Is(err, lifecycle.ErrRuntimeUnavailable) {
		t.Fatalf("Ping() error = %v, want ErrRuntimeUnavailable", err)
	}
}

func TestHealthOracleByImage(t *testing.T) {
	rt := fake.NewRuntime()
	rt.Seed("ecommerce-app", "repo/app:v1", true)
	oracle := fake.NewHealthOracle(fake.ByImage(rt, "ecommerce-app", map[string]lifecycle.ProbeResult{
		"repo/app:v1": {Status: 200, Body: "ecommerce ok"},
	}))

	res, err := oracle.Probe(t.Context(), "http://127.0.0.1:80/", 0)
	if err != nil || res.Body != "ecommerce ok" {
		t.Fatalf("Probe() = (%+v, %v), want v1 body", res, err)
	}

	rt.Seed("ecommerce-app", "repo/app:v2", true)
	if _, err := oracle.Probe(t.Context(), "http://127.0.0.1:80/", 0); !errors.Is(err, lifecycle.ErrUnreachable) {
		t.Fatalf("Probe() error = %v, want ErrUnreachable", err)
	}
}

func TestArtifactsFailClosed(t *testing.T) {
	src := fake.NewArtifacts("repo/app:v1")
	if _, err := src.Resolve(t.Context(), lifecycle.MustParseArtifactRef("repo/app:v1")); err != nil {
		t.Fatalf("Resolve(v1) error = %v", err)
	}
	if _, err := src.Resolve(t.Context(), lifecycle.MustParseArtifactRef("repo/app:v9")); !errors.Is(err, lifecycle.ErrArtifactNotFound) {
		t.Fatalf("Resolve(v9) error = %v, want ErrArtifactNotFound", err)
	}
}
