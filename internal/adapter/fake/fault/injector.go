package fault

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"deployd/internal/check"
)

// Hook decides per call whether a point fails. It receives the context of
// the faulted call, so a hook may also block until that context ends.
type Hook func(ctx context.Context, args ...any) error

type pointFault struct {
	queued    []error
	alwaysErr error
	hook      Hook
	evals     int
}

// Injector manages per-point fault injection for fake adapters.
// It supports queued failures, persistent failures, and argument-aware hooks.
type Injector struct {
	mu     sync.Mutex
	points map[string]*pointFault
}

func NewInjector() *Injector {
	return &Injector{points: make(map[string]*pointFault)}
}

// FailOnce injects err for the next evaluation of point.
func (i *Injector) FailOnce(point string, err error) {
	i.FailTimes(point, err, 1)
}

// FailTimes injects err for the next n evaluations of point.
func (i *Injector) FailTimes(point string, err error, n int) {
	check.Assert(i != nil, "fault.Injector.FailTimes: receiver must not be nil")
	check.Assert(strings.TrimSpace(point) != "", "fault.Injector.FailTimes: point must not be empty")
	check.Assert(err != nil, "fault.Injector.FailTimes: err must not be nil")
	if i == nil || strings.TrimSpace(point) == "" || err == nil || n <= 0 {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	pf := i.ensurePoint(point)
	for range n {
		pf.queued = append(pf.queued, err)
	}
}

// FailAlways injects err on every evaluation of point.
func (i *Injector) FailAlways(point string, err error) {
	check.Assert(i != nil, "fault.Injector.FailAlways: receiver must not be nil")
	check.Assert(strings.TrimSpace(point) != "", "fault.Injector.FailAlways: point must not be empty")
	check.Assert(err != nil, "fault.Injector.FailAlways: err must not be nil")
	if i == nil || strings.TrimSpace(point) == "" || err == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.ensurePoint(point).alwaysErr = err
}

// SetHook sets an argument-aware hook for point.
func (i *Injector) SetHook(point string, hook Hook) {
	check.Assert(i != nil, "fault.Injector.SetHook: receiver must not be nil")
	check.Assert(strings.TrimSpace(point) != "", "fault.Injector.SetHook: point must not be empty")
	check.Assert(hook != nil, "fault.Injector.SetHook: hook must not be nil")
	if i == nil || strings.TrimSpace(point) == "" || hook == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.ensurePoint(point).hook = hook
}

// Clear removes all faults for a single point.
func (i *Injector) Clear(point string) {
	if i == nil || strings.TrimSpace(point) == "" {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	delete(i.points, point)
}

// Reset removes all configured faults and evaluation counts.
func (i *Injector) Reset() {
	if i == nil {
		return
	}

	i.mu.Lock()
	i.points = make(map[string]*pointFault)
	i.mu.Unlock()
}

// Evaluations returns how many times point was evaluated while it had a fault configured.
func (i *Injector) Evaluations(point string) int {
	if i == nil {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if pf := i.points[point]; pf != nil {
		return pf.evals
	}
	return 0
}

// Eval evaluates whether point should fail for this call.
// Precedence: hook -> queued -> always. A nil Injector never fails.
func (i *Injector) Eval(ctx context.Context, point string, args ...any) error {
	if i == nil || strings.TrimSpace(point) == "" {
		return nil
	}

	i.mu.Lock()
	pf := i.points[point]
	if pf == nil {
		i.mu.Unlock()
		return nil
	}
	pf.evals++

	hook := pf.hook
	var queuedErr error
	if len(pf.queued) > 0 {
		queuedErr = pf.queued[0]
		pf.queued = pf.queued[1:]
	}
	alwaysErr := pf.alwaysErr
	i.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, args...); err != nil {
			return fmt.Errorf("fault %s (hook): %w", point, err)
		}
	}
	if queuedErr != nil {
		return fmt.Errorf("fault %s (queued): %w", point, queuedErr)
	}
	if alwaysErr != nil {
		return fmt.Errorf("fault %s (always): %w", point, alwaysErr)
	}

	return nil
}

func (i *Injector) ensurePoint(point string) *pointFault {
	pf, ok := i.points[point]
	if !ok {
		pf = &pointFault{}
		i.points[point] = pf
	}
	return pf
}
