package fake

import (
	"context"
	"fmt"
	"sync"

	"deployd/internal/adapter/fake/fault"
	"deployd/internal/lifecycle"
)

var _ lifecycle.ArtifactSource = (*Artifacts)(nil)

const FaultArtifactsResolve = "artifacts.resolve"

// Artifacts is an in-memory artifact source. Unknown references fail closed.
type Artifacts struct {
	CallRecorder
	Faults *fault.Injector

	mu    sync.Mutex
	known map[string]lifecycle.ImageHandle
}

// NewArtifacts creates a source that knows refs.
func NewArtifacts(refs ...string) *Artifacts {
	a := &Artifacts{
		Faults: fault.NewInjector(),
		known:  make(map[string]lifecycle.ImageHandle),
	}
	a.Add(refs...)
	return a
}

// Add makes refs resolvable. Each ref must parse as an artifact reference.
func (a *Artifacts) Add(refs ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, raw := range refs {
		ref := lifecycle.MustParseArtifactRef(raw)
		a.known[ref.String()] = lifecycle.ImageHandle{
			Ref:  ref,
			ID:   fmt.Sprintf("sha256:%064x", len(a.known)+1),
			Size: 42 << 20,
		}
	}
}

func (a *Artifacts) Resolve(ctx context.Context, ref lifecycle.ArtifactRef) (lifecycle.ImageHandle, error) {
	a.record("Resolve", ref.String())
	if err := a.Faults.Eval(ctx, FaultArtifactsResolve, ref); err != nil {
		return lifecycle.ImageHandle{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	img, ok := a.known[ref.String()]
	if !ok {
		return lifecycle.ImageHandle{}, fmt.Errorf("%w: %s", lifecycle.ErrArtifactNotFound, ref)
	}
	return img, nil
}
