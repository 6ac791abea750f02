package fake

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"deployd/internal/adapter/fake/fault"
	"deployd/internal/lifecycle"
)

var _ lifecycle.Runtime = (*Runtime)(nil)

// Fault points evaluated by Runtime.
const (
	FaultRuntimePing    = "runtime.ping"
	FaultRuntimeInspect = "runtime.inspect"
	FaultRuntimeStop    = "runtime.stop"
	FaultRuntimeRemove  = "runtime.remove"
	FaultRuntimeRun     = "runtime.run"
)

// LaunchBehavior controls what a launched container does.
type LaunchBehavior uint8

const (
	// LaunchRunning reaches running immediately.
	LaunchRunning LaunchBehavior = iota + 1
	// LaunchNever stays created and never reports running.
	LaunchNever
	// LaunchCrash keeps restarting and never stays running.
	LaunchCrash
)

type container struct {
	image    string
	running  bool
	status   string
	exitCode int
	spec     lifecycle.RunSpec
}

// Runtime is an in-memory container runtime keyed by container name.
type Runtime struct {
	CallRecorder
	Faults *fault.Injector

	mu         sync.Mutex
	available  bool
	containers map[string]*container
	launch     map[string]LaunchBehavior
	runs       []lifecycle.RunSpec
}

// NewRuntime creates an available Runtime with no containers.
func NewRuntime() *Runtime {
	return &Runtime{
		Faults:     fault.NewInjector(),
		available:  true,
		containers: make(map[string]*container),
		launch:     make(map[string]LaunchBehavior),
	}
}

// Seed places a container as if a previous deploy had left it behind.
func (r *Runtime) Seed(name, image string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "exited"
	if running {
		status = "running"
	}
	r.containers[name] = &container{image: image, running: running, status: status}
}

// SetAvailable makes the runtime daemon reachable or not.
func (r *Runtime) SetAvailable(available bool) {
	r.mu.Lock()
	r.available = available
	r.mu.Unlock()
}

// SetLaunchBehavior sets what containers launched from image do.
func (r *Runtime) SetLaunchBehavior(image string, b LaunchBehavior) {
	r.mu.Lock()
	r.launch[image] = b
	r.mu.Unlock()
}

// Container returns the current state of a named container.
func (r *Runtime) Container(name string) (lifecycle.ContainerState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return lifecycle.ContainerState{}, false
	}
	return c.state(name), true
}

// Runs returns every RunSpec passed to Run, in order.
func (r *Runtime) Runs() []lifecycle.RunSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lifecycle.RunSpec(nil), r.runs...)
}

func (r *Runtime) Ping(ctx context.Context) error {
	r.record("Ping")
	if err := r.Faults.Eval(ctx, FaultRuntimePing); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available {
		return fmt.Errorf("ping: %w", lifecycle.ErrRuntimeUnavailable)
	}
	return nil
}

func (r *Runtime) Inspect(ctx context.Context, name string) (lifecycle.ContainerState, error) {
	r.record("Inspect", name)
	if err := r.Faults.Eval(ctx, FaultRuntimeInspect, name); err != nil {
		return lifecycle.ContainerState{}, err
	}
	if err := ctx.Err(); err != nil {
		return lifecycle.ContainerState{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return lifecycle.ContainerState{}, fmt.Errorf("inspect %q: %w", name, lifecycle.ErrContainerNotFound)
	}
	return c.state(name), nil
}

func (r *Runtime) Stop(ctx context.Context, name string) (lifecycle.ActionResult, error) {
	r.record("Stop", name)
	if err := r.Faults.Eval(ctx, FaultRuntimeStop, name); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[name]
	if !ok {
		return lifecycle.ActionAbsent, nil
	}
	c.running = false
	c.status = "exited"
	return lifecycle.ActionApplied, nil
}

func (r *Runtime) Remove(ctx context.Context, name string) (lifecycle.ActionResult, error) {
	r.record("Remove", name)
	if err := r.Faults.Eval(ctx, FaultRuntimeRemove, name); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.containers[name]; !ok {
		return lifecycle.ActionAbsent, nil
	}
	delete(r.containers, name)
	return lifecycle.ActionApplied, nil
}

func (r *Runtime) Run(ctx context.Context, spec lifecycle.RunSpec) error {
	r.record("Run", spec.Name, spec.Image.Ref.String())
	if err := r.Faults.Eval(ctx, FaultRuntimeRun, spec); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[spec.Name]; exists {
		return fmt.Errorf("run %q: name already in use", spec.Name)
	}

	image := spec.Image.Ref.String()
	c := &container{image: image, spec: spec}
	switch r.launch[image] {
	case LaunchNever:
		c.status = "created"
	case LaunchCrash:
		c.status = "restarting"
		c.exitCode = 1
	default:
		c.running = true
		c.status = "running"
	}
	spec.Env = maps.Clone(spec.Env)
	spec.Labels = maps.Clone(spec.Labels)
	r.runs = append(r.runs, spec)
	r.containers[spec.Name] = c
	return nil
}

func (c *container) state(name string) lifecycle.ContainerState {
	return lifecycle.ContainerState{
		Name:     name,
		Image:    c.image,
		Status:   c.status,
		Running:  c.running,
		ExitCode: c.exitCode,
	}
}
