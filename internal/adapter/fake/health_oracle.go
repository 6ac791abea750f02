package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deployd/internal/adapter/fake/fault"
	"deployd/internal/lifecycle"
)

var _ lifecycle.HealthOracle = (*HealthOracle)(nil)

const FaultHealthProbe = "health.probe"

// Responder produces the answer for one probe of url.
type Responder func(url string) (lifecycle.ProbeResult, error)

// HealthOracle answers probes from a Responder.
type HealthOracle struct {
	CallRecorder
	Faults *fault.Injector

	mu        sync.Mutex
	responder Responder
}

func NewHealthOracle(responder Responder) *HealthOracle {
	return &HealthOracle{Faults: fault.NewInjector(), responder: responder}
}

func (h *HealthOracle) SetResponder(responder Responder) {
	h.mu.Lock()
	h.responder = responder
	h.mu.Unlock()
}

func (h *HealthOracle) Probe(ctx context.Context, url string, timeout time.Duration) (lifecycle.ProbeResult, error) {
	h.record("Probe", url, timeout)
	if err := h.Faults.Eval(ctx, FaultHealthProbe, url); err != nil {
		return lifecycle.ProbeResult{}, err
	}
	h.mu.Lock()
	responder := h.responder
	h.mu.Unlock()
	if responder == nil {
		return lifecycle.ProbeResult{}, fmt.Errorf("%w: no responder for %s", lifecycle.ErrUnreachable, url)
	}
	return responder(url)
}

// Respond always returns a response with status and body.
func Respond(status int, body string) Responder {
	return func(string) (lifecycle.ProbeResult, error) {
		return lifecycle.ProbeResult{Status: status, Body: body, Latency: 5 * time.Millisecond}, nil
	}
}

// Unreachable fails every probe as if nothing listened on the port.
func Unreachable() Responder {
	return func(url string) (lifecycle.ProbeResult, error) {
		return lifecycle.ProbeResult{}, fmt.Errorf("%w: connection refused to %s", lifecycle.ErrUnreachable, url)
	}
}

// ByImage answers with the response registered for the image the named
// container currently runs in rt. Images without a response are unreachable.
func ByImage(rt *Runtime, name string, responses map[string]lifecycle.ProbeResult) Responder {
	return func(url string) (lifecycle.ProbeResult, error) {
		state, ok := rt.Container(name)
		if !ok || !state.Running {
			return lifecycle.ProbeResult{}, fmt.Errorf("%w: %s not running", lifecycle.ErrUnreachable, name)
		}
		res, ok := responses[state.Image]
		if !ok {
			return lifecycle.ProbeResult{}, fmt.Errorf("%w: no response for %s", lifecycle.ErrUnreachable, state.Image)
		}
		return res, nil
	}
}
