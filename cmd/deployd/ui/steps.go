package ui

import (
	"strings"
	"sync"

	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/types"
)

type stepStatus string

const (
	stepPending stepStatus = "pending"
	stepRunning stepStatus = "running"
	stepDone    stepStatus = "done"
	stepFailed  stepStatus = "failed"
	stepSkipped stepStatus = "skipped"
)

type stepState struct {
	ID       string
	ParentID string
	Title    string
	Status   stepStatus
	Message  string
}

type stepSnapshot struct {
	Steps []stepState
}

const rollbackStep = "rollback"

// stepObserver folds progress events into ordered step snapshots. Forward
// phases are planned up front; rollback steps appear when rollback starts.
type stepObserver struct {
	mu       sync.Mutex
	steps    map[string]stepState
	order    []string
	reporter func(stepSnapshot)
}

func newStepObserver(reporter func(stepSnapshot)) *stepObserver {
	o := &stepObserver{
		steps:    make(map[string]stepState),
		reporter: reporter,
	}
	for _, p := range lifecycle.ForwardPhases() {
		o.planLocked(p.String(), "", p.String())
	}
	return o
}

func (o *stepObserver) OnEvent(ev types.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch ev.Type {
	case lifecycle.EventRollbackStarted:
		o.planLocked(rollbackStep, "", "rollback")
		o.setLocked(rollbackStep, stepRunning, ev.Message)
		for _, p := range lifecycle.RollbackPhases() {
			o.planLocked(stepKey(p.String(), true), rollbackStep, p.String())
		}
	case lifecycle.EventPhaseStarted:
		o.setLocked(stepKey(ev.Phase, ev.Rollback), stepRunning, "")
	case lifecycle.EventPhaseFinished:
		o.setLocked(stepKey(ev.Phase, ev.Rollback), resultStatus(ev.Result), ev.Message)
	case lifecycle.EventAttemptFinished:
		if _, ok := o.steps[rollbackStep]; ok {
			status := stepFailed
			if ev.Outcome == types.OutcomeRolledBack {
				status = stepDone
			}
			o.setLocked(rollbackStep, status, "")
		}
	default:
		return
	}
	o.emitLocked()
}

func (o *stepObserver) planLocked(id, parent, title string) {
	if _, ok := o.steps[id]; ok {
		return
	}
	o.order = append(o.order, id)
	o.steps[id] = stepState{ID: id, ParentID: parent, Title: title, Status: stepPending}
}

func (o *stepObserver) setLocked(id string, status stepStatus, msg string) {
	step, ok := o.steps[id]
	if !ok {
		o.planLocked(id, "", id)
		step = o.steps[id]
	}
	step.Status = status
	step.Message = strings.TrimSpace(msg)
	if status == stepDone {
		step.Message = ""
	}
	o.steps[id] = step
}

func (o *stepObserver) emitLocked() {
	if o.reporter == nil {
		return
	}
	snap := stepSnapshot{Steps: make([]stepState, 0, len(o.order))}
	for _, id := range o.order {
		snap.Steps = append(snap.Steps, o.steps[id])
	}
	o.reporter(snap)
}

func stepKey(phase string, rollback bool) string {
	if rollback {
		return rollbackStep + "/" + phase
	}
	return phase
}

func resultStatus(result string) stepStatus {
	switch result {
	case "succeeded":
		return stepDone
	case "skipped":
		return stepSkipped
	default:
		return stepFailed
	}
}
