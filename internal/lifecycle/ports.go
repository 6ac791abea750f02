package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Runtime manages the named service container on one host.
// Production: adapter/docker.Gateway
// Testing: adapter/fake.Runtime
type Runtime interface {
	Ping(ctx context.Context) error
	// Inspect returns ErrContainerNotFound when no container has the name.
	Inspect(ctx context.Context, name string) (ContainerState, error)
	// Stop and Remove report ActionAbsent instead of failing when the
	// container does not exist.
	Stop(ctx context.Context, name string) (ActionResult, error)
	Remove(ctx context.Context, name string) (ActionResult, error)
	Run(ctx context.Context, spec RunSpec) error
}

// ArtifactSource resolves an exact artifact reference to a local image.
// Production: adapter/docker.Gateway
// Testing: adapter/fake.Artifacts
type ArtifactSource interface {
	// Resolve returns ErrArtifactNotFound or ErrTransfer on failure.
	Resolve(ctx context.Context, ref ArtifactRef) (ImageHandle, error)
}

// HealthOracle answers one liveness probe against the deployed service.
// Production: adapter/httpprobe.Oracle
// Testing: adapter/fake.HealthOracle
type HealthOracle interface {
	// Probe returns ErrUnreachable when no HTTP response arrived.
	Probe(ctx context.Context, url string, timeout time.Duration) (ProbeResult, error)
}

// AttemptStore persists attempts. SaveAttempt refuses to overwrite a
// terminal attempt with ErrAttemptTerminal.
// Production: adapter/sqlite.AttemptStore
// Testing: adapter/fake.AttemptStore
type AttemptStore interface {
	SaveAttempt(ctx context.Context, a Attempt) error
	GetAttempt(ctx context.Context, id string) (Attempt, bool, error)
	// ListAttempts returns newest first. An empty target lists every target;
	// limit <= 0 means no limit.
	ListAttempts(ctx context.Context, targetID string, limit int) ([]Attempt, error)
	// LastServing returns the artifact left serving by the newest attempt
	// that succeeded or rolled back.
	LastServing(ctx context.Context, targetID string) (ArtifactRef, bool, error)
}

// Clock abstracts time for attempt timestamps and phase durations.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Target bundles the collaborators that act on one host.
type Target struct {
	Runtime   Runtime
	Artifacts ArtifactSource
	Health    HealthOracle
	// ProbeHost overrides the service's probe host for this target.
	ProbeHost string
}

func (t Target) validate() error {
	var missing []string
	if t.Runtime == nil {
		missing = append(missing, "runtime")
	}
	if t.Artifacts == nil {
		missing = append(missing, "artifact source")
	}
	if t.Health == nil {
		missing = append(missing, "health oracle")
	}
	if len(missing) > 0 {
		return fmt.Errorf("target is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// TargetResolver maps a target id to its collaborators.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, targetID string) (Target, error)
}

// TargetSet resolves targets from a fixed map.
type TargetSet map[string]Target

func (s TargetSet) ResolveTarget(_ context.Context, targetID string) (Target, error) {
	t, ok := s[targetID]
	if !ok {
		return Target{}, fmt.Errorf("%w %q", ErrUnknownTarget, targetID)
	}
	return t, nil
}

// StaticTarget resolves every target id to the same collaborators.
func StaticTarget(t Target) TargetResolver {
	return staticTarget{t: t}
}

type staticTarget struct {
	t Target
}

func (s staticTarget) ResolveTarget(context.Context, string) (Target, error) {
	return s.t, nil
}
