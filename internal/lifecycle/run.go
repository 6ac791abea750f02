package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"deployd/pkg/sdk/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// run is the mutable state of one admitted attempt.
type run struct {
	id       string
	targetID string
	events   chan<- ProgressEvent
	done     chan struct{}

	mu               sync.Mutex
	attempt          Attempt
	explicitPrevious bool
	cancel           context.CancelCauseFunc
	aborted          bool
	settled          bool
	err              error
}

func newRun(id string, req Request, containerName string) *run {
	a := Attempt{
		ID:            id,
		TargetID:      req.TargetID,
		ContainerName: containerName,
		Artifact:      req.Artifact,
		Phase:         PhaseIdle,
		Outcome:       OutcomePending,
	}
	if req.Previous != nil {
		prev := *req.Previous
		a.Previous = &prev
	}
	return &run{
		id:               id,
		targetID:         req.TargetID,
		events:           req.Events,
		done:             make(chan struct{}),
		attempt:          a,
		explicitPrevious: req.Previous != nil,
	}
}

func (r *run) snapshot() Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt.Clone()
}

func (r *run) update(fn func(*Attempt)) Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.attempt)
	return r.attempt.Clone()
}

func (r *run) result() (Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt.Clone(), r.err
}

func (r *run) abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt.IsTerminal() || r.settled {
		return fmt.Errorf("%w: %s", ErrAttemptTerminal, r.id)
	}
	r.aborted = true
	if r.cancel != nil {
		r.cancel(ErrAborted)
	}
	return nil
}

// settle closes the attempt to aborts once its last phase has passed. It
// reports false when an abort was accepted first; the caller must honor it.
func (r *run) settle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.aborted {
		return false
	}
	r.settled = true
	return true
}

// stage bounds one phase by timeout and makes it cancellable by abort.
func (r *run) stage(parent context.Context, timeout time.Duration) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	tctx, cancelTimeout := context.WithTimeout(ctx, timeout)

	r.mu.Lock()
	if r.aborted {
		cancel(ErrAborted)
	}
	r.cancel = cancel
	r.mu.Unlock()

	return tctx, func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancelTimeout()
		cancel(nil)
	}
}

func (r *run) setPrevious(ref ArtifactRef) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.explicitPrevious {
		return false
	}
	r.attempt.Previous = &ref
	return true
}

func (r *run) previous() (ArtifactRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempt.Previous == nil {
		return ArtifactRef{}, false
	}
	return *r.attempt.Previous, true
}

// pass is one walk through the phases with a single artifact.
type pass struct {
	artifact ArtifactRef
	rollback bool
	image    ImageHandle
}

type phaseReport struct {
	tries   int
	message string
}

// runner drives one attempt through its phases.
type runner struct {
	c       *Coordinator
	r       *run
	log     *slog.Logger
	op      *telemetry.Operation
	persist context.Context

	target Target
	health healthCheck
}

func (c *Coordinator) execute(ctx context.Context, r *run) {
	defer c.release(r)

	a := r.update(func(a *Attempt) { a.StartedAt = c.clock.Now() })
	x := &runner{
		c:       c,
		r:       r,
		log:     c.log.With("attempt", a.ID, "target", a.TargetID, "artifact", a.Artifact.String()),
		persist: context.WithoutCancel(ctx),
		health:  healthCheck{marker: c.service.HealthMarker, ceiling: c.policy.LatencyCeiling},
	}

	runCtx := ctx
	op, err := telemetry.EmitPlan(ctx, c.tracer, "deploy", deployPlan(),
		attribute.String("deployd.attempt", a.ID),
		attribute.String("deployd.target", a.TargetID),
		attribute.String("deployd.artifact", a.Artifact.String()),
	)
	if err != nil {
		x.log.Warn("Failed to start deploy trace.", "err", err)
	} else {
		x.op = op
		runCtx = op.Context()
	}

	x.save(a)
	x.emit(ProgressEvent{Type: EventAttemptStarted, Phase: PhaseIdle})
	x.log.Info("Deployment attempt started.")

	ferr := x.run(runCtx)

	final := r.snapshot()
	x.op.SetAttributes(attribute.String("deployd.outcome", final.Outcome.String()))
	if ferr != nil {
		x.op.End(ferr)
		x.log.Warn("Deployment attempt finished.", "outcome", final.Outcome, "kind", final.ErrorKind, "err", ferr)
	} else {
		x.op.End(nil)
		x.log.Info("Deployment attempt finished.", "outcome", final.Outcome)
	}
	x.emit(ProgressEvent{Type: EventAttemptFinished, Phase: final.Phase, Outcome: final.Outcome, Message: final.Message})
}

func (x *runner) run(ctx context.Context) error {
	if err := x.idle(ctx); err != nil {
		x.skip(ctx, forwardPhases[:], &pass{artifact: x.r.snapshot().Artifact}, "preconditions not met")
		return x.terminate(PhaseFailed, OutcomeFailed, &Error{
			Kind:    KindPrecondition,
			Phase:   PhaseIdle,
			Message: err.Error(),
			Err:     err,
		})
	}

	fwd := &pass{artifact: x.r.snapshot().Artifact}
	for i, phase := range forwardPhases {
		err := x.runPhase(ctx, fwd, phase)
		if err == nil {
			continue
		}
		x.skip(ctx, forwardPhases[i+1:], fwd, phase.String()+" failed")

		cause := &Error{Kind: phaseKind(phase), Phase: phase, Message: err.Error(), Err: err}
		prev, ok := x.rollbackTarget(phase, errors.Is(err, ErrAborted), fwd.artifact)
		if !ok {
			return x.terminate(PhaseFailed, OutcomeFailed, cause)
		}
		return x.rollback(ctx, prev, cause)
	}
	if !x.r.settle() {
		err := fmt.Errorf("%w after %s", ErrAborted, PhaseValidating)
		cause := &Error{Kind: KindValidation, Phase: PhaseValidating, Message: err.Error(), Err: err}
		prev, ok := x.rollbackTarget(PhaseValidating, true, fwd.artifact)
		if !ok {
			return x.terminate(PhaseFailed, OutcomeFailed, cause)
		}
		return x.rollback(ctx, prev, cause)
	}
	return x.terminate(PhaseSucceeded, OutcomeSucceeded, nil)
}

// rollbackTarget decides whether a failure in phase takes the rollback path.
// Starting and Validating failures roll back; an abort also rolls back once
// the old container may have been stopped.
func (x *runner) rollbackTarget(phase Phase, aborted bool, failed ArtifactRef) (ArtifactRef, bool) {
	prev, ok := x.r.previous()
	if !ok {
		return ArtifactRef{}, false
	}
	eligible := phase == PhaseStarting || phase == PhaseValidating
	if aborted {
		eligible = eligible || phase == PhaseStopping || phase == PhaseInstalling
	}
	if !eligible {
		return ArtifactRef{}, false
	}
	if prev.Equal(failed) {
		x.log.Warn("Skipping rollback, previous artifact is the one that failed.", "previous", prev.String())
		return ArtifactRef{}, false
	}
	return prev, true
}

func (x *runner) rollback(ctx context.Context, prev ArtifactRef, cause *Error) error {
	// The abort that forced this path is spent; a new one fails the rollback.
	x.r.mu.Lock()
	x.r.aborted = false
	x.r.mu.Unlock()

	x.log.Warn("Rolling back.", "previous", prev.String(), "phase", cause.Phase, "err", cause.Err)
	x.emit(ProgressEvent{Type: EventRollbackStarted, Phase: cause.Phase, Rollback: true, Message: cause.Message})

	// Caller cancellation already forced this path; only Abort stops a rollback.
	rctx := context.WithoutCancel(ctx)
	rb := &pass{artifact: prev, rollback: true}
	for i, phase := range rollbackPhases {
		err := x.runPhase(rctx, rb, phase)
		if err == nil {
			continue
		}
		x.skip(rctx, rollbackPhases[i+1:], rb, "rollback "+phase.String()+" failed")
		return x.terminate(PhaseFailed, OutcomeFailed, &Error{
			Kind:    KindRollbackExhausted,
			Phase:   phase,
			Message: fmt.Sprintf("%s; rollback to %s failed at %s: %v", cause.Message, prev, phase, err),
			Err:     errors.Join(cause, err),
		})
	}
	if !x.r.settle() {
		err := fmt.Errorf("%w after rollback %s", ErrAborted, PhaseValidating)
		return x.terminate(PhaseFailed, OutcomeFailed, &Error{
			Kind:    KindRollbackExhausted,
			Phase:   PhaseValidating,
			Message: fmt.Sprintf("%s; rollback to %s: %v", cause.Message, prev, err),
			Err:     errors.Join(cause, err),
		})
	}
	return x.terminate(PhaseRolledBack, OutcomeRolledBack, cause)
}

func (x *runner) terminate(phase Phase, outcome Outcome, e *Error) error {
	now := x.c.clock.Now()
	a := x.r.update(func(a *Attempt) {
		a.Phase = a.Phase.Transition(phase)
		a.Outcome = outcome
		a.FinishedAt = now
		if e != nil {
			a.ErrorKind = e.Kind
			a.FailedPhase = e.Phase
			a.Message = e.Message
		}
	})
	x.save(a)

	if e == nil {
		return nil
	}
	e.AttemptID = a.ID
	x.r.mu.Lock()
	x.r.err = e
	x.r.mu.Unlock()
	return e
}

func (x *runner) idle(ctx context.Context) error {
	return x.op.RunStep(ctx, "idle", func(stepCtx context.Context) error {
		stageCtx, done := x.r.stage(stepCtx, x.c.policy.PreconditionTimeout)
		defer done()

		target, err := x.c.targets.ResolveTarget(stageCtx, x.r.targetID)
		if err != nil {
			return fmt.Errorf("resolve target: %w", err)
		}
		if err := target.validate(); err != nil {
			return err
		}
		x.target = target

		if err := target.Runtime.Ping(stageCtx); err != nil {
			if cause := context.Cause(stageCtx); errors.Is(cause, ErrAborted) {
				return fmt.Errorf("%w during idle", ErrAborted)
			}
			return fmt.Errorf("runtime unavailable: %w", err)
		}

		if x.c.store == nil {
			return nil
		}
		if _, known := x.r.previous(); known {
			return nil
		}
		ref, ok, err := x.c.store.LastServing(stageCtx, x.r.targetID)
		if err != nil {
			x.log.Warn("Failed to read deploy history for rollback target.", "err", err)
			return nil
		}
		if ok && x.r.setPrevious(ref) {
			x.log.Debug("Rollback target from history.", "previous", ref.String())
		}
		return nil
	})
}

func (x *runner) runPhase(ctx context.Context, p *pass, phase Phase) error {
	x.r.update(func(a *Attempt) { a.Phase = a.Phase.Transition(phase) })
	x.emit(ProgressEvent{Type: EventPhaseStarted, Phase: phase, Rollback: p.rollback})

	timeout := x.c.policy.timeout(phase)
	started := x.c.clock.Now()
	var rep phaseReport
	err := x.op.RunStep(ctx, stepID(phase, p.rollback), func(stepCtx context.Context) error {
		stageCtx, done := x.r.stage(stepCtx, timeout)
		defer done()

		var err error
		rep, err = x.phase(phase)(stageCtx, p)
		if err != nil {
			err = explain(ctx, stageCtx, phase, timeout, err)
		}
		trace.SpanFromContext(stepCtx).SetAttributes(
			attribute.Int("deployd.tries", rep.tries),
			attribute.String("deployd.artifact", p.artifact.String()),
		)
		return err
	}, attribute.Bool("deployd.rollback", p.rollback))

	rec := PhaseRecord{
		Phase:    phase,
		Result:   ResultSucceeded,
		Artifact: p.artifact,
		Rollback: p.rollback,
		Tries:    rep.tries,
		Duration: x.c.clock.Now().Sub(started),
		Message:  rep.message,
	}
	if err != nil {
		rec.Result = ResultFailed
		rec.Message = err.Error()
	}
	x.record(rec)

	log := x.log.With("phase", phase, "rollback", p.rollback, "duration", rec.Duration, "tries", rec.Tries)
	if err != nil {
		log.Warn("Phase failed.", "err", err)
	} else {
		log.Info("Phase finished.", "message", rec.Message)
	}
	x.emit(ProgressEvent{Type: EventPhaseFinished, Phase: phase, Rollback: p.rollback, Result: rec.Result, Message: rec.Message})
	return err
}

// explain attributes a phase error to abort, caller cancellation or timeout.
func explain(parent, stageCtx context.Context, phase Phase, timeout time.Duration, err error) error {
	switch {
	case errors.Is(context.Cause(stageCtx), ErrAborted):
		return fmt.Errorf("%w during %s: %w", ErrAborted, phase, err)
	case parent.Err() != nil:
		return fmt.Errorf("%w during %s: %w", ErrAborted, phase, context.Cause(parent))
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%s timed out after %s: %w", phase, timeout, err)
	default:
		return err
	}
}

func (x *runner) skip(ctx context.Context, phases []Phase, p *pass, reason string) {
	for _, phase := range phases {
		x.record(PhaseRecord{
			Phase:    phase,
			Result:   ResultSkipped,
			Artifact: p.artifact,
			Rollback: p.rollback,
			Message:  reason,
		})
		x.op.SkipStep(ctx, stepID(phase, p.rollback), reason)
	}
}

func (x *runner) record(rec PhaseRecord) {
	a := x.r.update(func(a *Attempt) { a.Log = append(a.Log, rec) })
	x.save(a)
}

// save persists a snapshot. Store failures never change the attempt's outcome.
func (x *runner) save(a Attempt) {
	if x.c.store == nil {
		return
	}
	if err := x.c.store.SaveAttempt(x.persist, a); err != nil {
		x.log.Error("Failed to persist attempt.", "phase", a.Phase, "err", err)
	}
}

func (x *runner) emit(ev ProgressEvent) {
	ev.AttemptID = x.r.id
	ev.TargetID = x.r.targetID
	emit(x.r.events, ev)
}

func emit(events chan<- ProgressEvent, ev ProgressEvent) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

func (x *runner) phase(p Phase) func(context.Context, *pass) (phaseReport, error) {
	switch p {
	case PhaseBeforeInstall:
		return x.beforeInstall
	case PhaseStopping:
		return x.stopping
	case PhaseInstalling:
		return x.installing
	case PhaseStarting:
		return x.starting
	case PhaseValidating:
		return x.validating
	default:
		return func(context.Context, *pass) (phaseReport, error) {
			return phaseReport{}, fmt.Errorf("phase %s has no action", p)
		}
	}
}

func (x *runner) containerName() string {
	return x.c.service.ContainerName
}

func (x *runner) beforeInstall(ctx context.Context, _ *pass) (phaseReport, error) {
	rt := x.target.Runtime
	rep := phaseReport{tries: 1}
	if err := rt.Ping(ctx); err != nil {
		return rep, fmt.Errorf("runtime not running: %w", err)
	}

	name := x.containerName()
	state, err := rt.Inspect(ctx, name)
	switch {
	case errors.Is(err, ErrContainerNotFound):
		rep.message = "no existing container"
		return rep, nil
	case err != nil:
		return rep, fmt.Errorf("inspect %s: %w", name, err)
	}

	if state.Running {
		ref, perr := ParseArtifactRef(state.Image)
		if perr != nil {
			x.log.Warn("Running container image is not a versioned reference.", "image", state.Image, "err", perr)
			rep.message = fmt.Sprintf("running %s, not usable as rollback target", state.Image)
			return rep, nil
		}
		if x.r.setPrevious(ref) {
			rep.message = "captured rollback target " + ref.String()
		} else {
			rep.message = "running " + ref.String()
		}
		return rep, nil
	}

	if _, err := rt.Remove(ctx, name); err != nil && !errors.Is(err, ErrContainerNotFound) {
		return rep, fmt.Errorf("remove stale %s: %w", name, err)
	}
	rep.message = fmt.Sprintf("removed stale container (%s)", statusOrUnknown(state.Status))
	return rep, nil
}

func (x *runner) stopping(ctx context.Context, _ *pass) (phaseReport, error) {
	rt := x.target.Runtime
	name := x.containerName()
	absent := false

	tries, err := retryFixed(ctx, 1+x.c.policy.StopRetries, x.c.policy.StopBackoff, func(ctx context.Context) error {
		stopped, err := rt.Stop(ctx, name)
		if err != nil && !errors.Is(err, ErrContainerNotFound) {
			return fmt.Errorf("stop %s: %w", name, err)
		}
		if errors.Is(err, ErrContainerNotFound) {
			stopped = ActionAbsent
		}
		removed, err := rt.Remove(ctx, name)
		if err != nil && !errors.Is(err, ErrContainerNotFound) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
		if errors.Is(err, ErrContainerNotFound) {
			removed = ActionAbsent
		}
		absent = stopped == ActionAbsent && removed == ActionAbsent
		return nil
	})
	rep := phaseReport{tries: tries}
	if err != nil {
		return rep, fmt.Errorf("after %d tries: %w", tries, err)
	}
	if absent {
		rep.message = "absent, nothing to stop"
	} else {
		rep.message = "stopped and removed"
	}
	return rep, nil
}

func (x *runner) installing(ctx context.Context, p *pass) (phaseReport, error) {
	rep := phaseReport{tries: 1}
	img, err := x.target.Artifacts.Resolve(ctx, p.artifact)
	if err != nil {
		return rep, fmt.Errorf("resolve %s: %w", p.artifact, err)
	}
	if img.Ref.IsZero() {
		img.Ref = p.artifact
	}
	p.image = img
	rep.message = "resolved " + p.artifact.String()
	if img.ID != "" {
		rep.message += " (" + img.ID + ")"
	}
	return rep, nil
}

func (x *runner) starting(ctx context.Context, p *pass) (phaseReport, error) {
	rt := x.target.Runtime
	svc := x.c.service
	rep := phaseReport{tries: 1}

	labels := maps.Clone(svc.Labels)
	if labels == nil {
		labels = make(map[string]string, 3)
	}
	labels[LabelAttempt] = x.r.id
	labels[LabelTarget] = x.r.targetID
	labels[LabelArtifact] = p.artifact.String()

	spec := RunSpec{
		Name:          svc.ContainerName,
		Image:         p.image,
		Port:          svc.Port,
		RestartPolicy: svc.RestartPolicy,
		Env:           maps.Clone(svc.Env),
		Labels:        labels,
	}
	if err := rt.Run(ctx, spec); err != nil {
		return rep, fmt.Errorf("run %s: %w", spec.Name, err)
	}

	last := "not inspected"
	for checks := 1; ; checks++ {
		state, err := rt.Inspect(ctx, spec.Name)
		switch {
		case err == nil && state.Running:
			rep.message = fmt.Sprintf("running after %d checks", checks)
			return rep, nil
		case err != nil:
			last = err.Error()
		default:
			last = fmt.Sprintf("%s, exit code %d", statusOrUnknown(state.Status), state.ExitCode)
		}
		if err := sleepCtx(ctx, x.c.policy.StartPollInterval); err != nil {
			return rep, fmt.Errorf("container never reached running (%s): %w", last, err)
		}
	}
}

func (x *runner) validating(ctx context.Context, _ *pass) (phaseReport, error) {
	rt := x.target.Runtime
	policy := x.c.policy
	url := x.c.service.HealthURL(x.target.ProbeHost)
	tally := probeTally{need: policy.ProbeSuccesses, budget: policy.ProbeAttempts}

	for {
		state, stateErr := rt.Inspect(ctx, x.containerName())
		var res ProbeResult
		var probeErr error
		if stateErr == nil && state.Running {
			res, probeErr = x.target.Health.Probe(ctx, url, policy.ProbeTimeout)
		}
		issue := x.health.evaluate(state, stateErr, res, probeErr)
		tally.observe(issue)
		if issue != nil {
			x.log.Debug("Health probe failed.", "probe", tally.tries, "issue", issue)
		}

		rep := phaseReport{tries: tally.tries}
		if tally.healthy() {
			rep.message = fmt.Sprintf("%d consecutive healthy probes", tally.streak)
			return rep, nil
		}
		if tally.exhausted() {
			return rep, fmt.Errorf("unhealthy after %d probes: %w", tally.tries, tally.lastIssue)
		}
		if err := sleepCtx(ctx, policy.ProbeInterval); err != nil {
			if tally.lastIssue != nil {
				return rep, fmt.Errorf("validation interrupted after %d probes (last issue: %v): %w", tally.tries, tally.lastIssue, err)
			}
			return rep, fmt.Errorf("validation interrupted after %d probes: %w", tally.tries, err)
		}
	}
}

func stepID(p Phase, rollback bool) string {
	if rollback {
		return "rollback/" + p.String()
	}
	return p.String()
}

func deployPlan() telemetry.Plan {
	steps := []telemetry.PlannedStep{{ID: "idle", Title: "checking preconditions"}}
	for _, p := range forwardPhases {
		steps = append(steps, telemetry.PlannedStep{ID: p.String(), Title: phaseTitle(p)})
	}
	return telemetry.Plan{Steps: steps}
}

func phaseTitle(p Phase) string {
	switch p {
	case PhaseBeforeInstall:
		return "preparing host"
	case PhaseStopping:
		return "stopping old container"
	case PhaseInstalling:
		return "resolving artifact"
	case PhaseStarting:
		return "starting container"
	case PhaseValidating:
		return "validating service"
	default:
		return p.String()
	}
}
