package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultFanout   = 4
	maxRetainedRuns = 256
)

type Option func(*Coordinator)

func WithStore(s AttemptStore) Option {
	return func(c *Coordinator) { c.store = s }
}

func WithClock(clock Clock) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithPolicy(p Policy) Option {
	return func(c *Coordinator) { c.policy = p }
}

func WithService(s ServiceDefinition) Option {
	return func(c *Coordinator) { c.service = s }
}

func WithBusyPolicy(b BusyPolicy) Option {
	return func(c *Coordinator) { c.busy = b }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithIDGenerator replaces the UUID attempt id generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// WithFanout bounds how many targets DeployMany drives at once.
func WithFanout(n int) Option {
	return func(c *Coordinator) { c.fanout = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator runs deployment attempts. Attempts on one target are mutually
// exclusive; attempts on different targets share nothing and run in parallel.
type Coordinator struct {
	targets TargetResolver
	store   AttemptStore
	clock   Clock
	policy  Policy
	service ServiceDefinition
	busy    BusyPolicy
	tracer  trace.Tracer
	newID   func() string
	fanout  int
	log     *slog.Logger

	mu       sync.Mutex
	locks    map[string]chan struct{}
	runs     map[string]*run
	active   map[string]string
	finished []string
	closed   bool
	wg       sync.WaitGroup
}

func New(targets TargetResolver, opts ...Option) (*Coordinator, error) {
	if targets == nil {
		return nil, errors.New("target resolver is required")
	}
	c := &Coordinator{
		targets: targets,
		clock:   RealClock{},
		policy:  DefaultPolicy(),
		service: DefaultService(),
		busy:    BusyReject,
		newID:   uuid.NewString,
		fanout:  defaultFanout,
		locks:   make(map[string]chan struct{}),
		runs:    make(map[string]*run),
		active:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracer == nil {
		c.tracer = noop.NewTracerProvider().Tracer("deployd/lifecycle")
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "lifecycle")
	if c.fanout < 1 {
		c.fanout = 1
	}

	var errs []error
	if err := c.policy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("policy: %w", err))
	}
	if err := c.service.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.busy.IsValid() {
		errs = append(errs, fmt.Errorf("invalid busy policy %d", c.busy))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

// Deploy runs one attempt to completion. A non-nil error accompanies every
// outcome other than Succeeded; the returned attempt is still complete.
func (c *Coordinator) Deploy(ctx context.Context, req Request) (Attempt, error) {
	r, err := c.admit(ctx, req)
	if err != nil {
		return Attempt{}, err
	}
	c.execute(ctx, r)
	return r.result()
}

// Start admits an attempt and runs it in the background. The attempt
// outlives ctx; use Abort to stop it.
func (c *Coordinator) Start(ctx context.Context, req Request) (string, error) {
	r, err := c.admit(ctx, req)
	if err != nil {
		return "", err
	}
	go c.execute(context.WithoutCancel(ctx), r)
	return r.id, nil
}

func (c *Coordinator) Get(ctx context.Context, id string) (Attempt, error) {
	if r := c.lookup(id); r != nil {
		return r.snapshot(), nil
	}
	if c.store != nil {
		a, ok, err := c.store.GetAttempt(ctx, id)
		if err != nil {
			return Attempt{}, fmt.Errorf("get attempt %s: %w", id, err)
		}
		if ok {
			return a, nil
		}
	}
	return Attempt{}, fmt.Errorf("%w: %s", ErrAttemptNotFound, id)
}

// Wait blocks until the attempt is terminal or ctx ends.
func (c *Coordinator) Wait(ctx context.Context, id string) (Attempt, error) {
	r := c.lookup(id)
	if r == nil {
		a, err := c.Get(ctx, id)
		if err != nil {
			return Attempt{}, err
		}
		return a, a.Err()
	}
	select {
	case <-r.done:
		return r.result()
	case <-ctx.Done():
		return r.snapshot(), context.Cause(ctx)
	}
}

// List returns attempts newest first. An empty target lists all targets.
func (c *Coordinator) List(ctx context.Context, targetID string, limit int) ([]Attempt, error) {
	if c.store != nil {
		out, err := c.store.ListAttempts(ctx, targetID, limit)
		if err != nil {
			return nil, fmt.Errorf("list attempts: %w", err)
		}
		return out, nil
	}

	c.mu.Lock()
	out := make([]Attempt, 0, len(c.runs))
	for _, r := range c.runs {
		a := r.snapshot()
		if targetID != "" && a.TargetID != targetID {
			continue
		}
		out = append(out, a)
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b Attempt) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Abort cancels the current phase of an in-flight attempt. The attempt
// takes the rollback path when a previous artifact is known and fails
// otherwise, or if it is already rolling back.
func (c *Coordinator) Abort(ctx context.Context, id string) error {
	if r := c.lookup(id); r != nil {
		return r.abort()
	}
	a, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrAttemptTerminal, id)
	}
	return fmt.Errorf("%w: %s is not running in this process", ErrAttemptNotFound, id)
}

// Active returns the id of the attempt in flight on target, if any.
func (c *Coordinator) Active(targetID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.active[targetID]
	return id, ok
}

// DeployMany deploys to several targets concurrently, bounded by the fanout.
// Results keep request order.
func (c *Coordinator) DeployMany(ctx context.Context, reqs []Request) []Result {
	p := pool.NewWithResults[Result]().WithMaxGoroutines(c.fanout)
	for i, req := range reqs {
		p.Go(func() Result {
			a, err := c.Deploy(ctx, req)
			return Result{Index: i, Attempt: a, Err: err}
		})
	}
	results := p.Wait()
	slices.SortFunc(results, func(a, b Result) int { return a.Index - b.Index })
	return results
}

// Shutdown stops admitting attempts and waits for in-flight ones. When ctx
// ends first, in-flight attempts are aborted and awaited.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	inflight := make([]*run, 0, len(c.active))
	for _, id := range c.active {
		if r := c.runs[id]; r != nil {
			inflight = append(inflight, r)
		}
	}
	c.mu.Unlock()
	for _, r := range inflight {
		_ = r.abort()
	}
	<-done
	return ctx.Err()
}

func (c *Coordinator) admit(ctx context.Context, req Request) (*run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrShutdown
	}
	lock, ok := c.locks[req.TargetID]
	if !ok {
		lock = make(chan struct{}, 1)
		c.locks[req.TargetID] = lock
	}
	c.mu.Unlock()

	switch c.busy {
	case BusyQueue:
		select {
		case lock <- struct{}{}:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for target %q: %w", req.TargetID, context.Cause(ctx))
		}
	default:
		select {
		case lock <- struct{}{}:
		default:
			return nil, fmt.Errorf("%w: %q", ErrTargetBusy, req.TargetID)
		}
	}

	r := newRun(c.newID(), req, c.service.ContainerName)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		<-lock
		return nil, ErrShutdown
	}
	c.runs[r.id] = r
	c.active[req.TargetID] = r.id
	c.wg.Add(1)
	return r, nil
}

func (c *Coordinator) lookup(id string) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id]
}

// release frees the target for the next attempt and wakes waiters.
func (c *Coordinator) release(r *run) {
	c.mu.Lock()
	if c.active[r.targetID] == r.id {
		delete(c.active, r.targetID)
	}
	c.finished = append(c.finished, r.id)
	for len(c.finished) > maxRetainedRuns {
		delete(c.runs, c.finished[0])
		c.finished = c.finished[1:]
	}
	lock := c.locks[r.targetID]
	c.mu.Unlock()

	<-lock
	close(r.done)
	c.wg.Done()
}
