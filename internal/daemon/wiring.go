package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"deployd/config"
	"deployd/internal/adapter/docker"
	"deployd/internal/adapter/httpprobe"
	"deployd/internal/adapter/sqlite"
	"deployd/internal/lifecycle"
	"deployd/internal/servicedef"

	"go.opentelemetry.io/otel"
)

const tracerName = "deployd/lifecycle"

// Stack is a coordinator wired to production adapters.
type Stack struct {
	Coordinator *lifecycle.Coordinator
	Service     lifecycle.ServiceDefinition
	// DefaultImage is the image named by the compose service, if any.
	DefaultImage string

	store    *sqlite.AttemptStore
	gateways map[string]*docker.Gateway
}

// Wire builds the coordinator described by cfg: one Docker gateway per
// target, the HTTP health oracle and the SQLite attempt history.
func Wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	st := &Stack{gateways: make(map[string]*docker.Gateway, len(cfg.Targets))}

	svc, err := cfg.ServiceDefinition()
	if err != nil {
		return nil, err
	}
	if cfg.Compose.File != "" {
		def, err := servicedef.LoadFile(ctx, cfg.Compose.File, cfg.Compose.Service)
		if err != nil {
			return nil, fmt.Errorf("load service from %s: %w", cfg.Compose.File, err)
		}
		svc = def.Service
		st.DefaultImage = def.Image
	}
	st.Service = svc

	oracle := httpprobe.New()
	targets := make(lifecycle.TargetSet, len(cfg.Targets))
	for id, t := range cfg.Targets {
		gw, err := docker.New(t.DockerHost, docker.WithLogger(log.With("target", id)))
		if err != nil {
			_ = st.Close() // best-effort cleanup
			return nil, fmt.Errorf("target %s: %w", id, err)
		}
		st.gateways[id] = gw
		probeHost := t.ProbeHost
		if probeHost == "" {
			probeHost = docker.ProbeHost(t.DockerHost)
		}
		targets[id] = lifecycle.Target{Runtime: gw, Artifacts: gw, Health: oracle, ProbeHost: probeHost}
	}

	store, err := sqlite.Open(cfg.StatePath)
	if err != nil {
		_ = st.Close() // best-effort cleanup
		return nil, fmt.Errorf("open attempt history: %w", err)
	}
	st.store = store

	coord, err := lifecycle.New(targets,
		lifecycle.WithStore(store),
		lifecycle.WithPolicy(cfg.LifecyclePolicy()),
		lifecycle.WithService(svc),
		lifecycle.WithBusyPolicy(cfg.Busy()),
		lifecycle.WithFanout(cfg.Fanout),
		lifecycle.WithTracer(otel.Tracer(tracerName)),
		lifecycle.WithLogger(log),
	)
	if err != nil {
		_ = st.Close() // best-effort cleanup
		return nil, fmt.Errorf("build coordinator: %w", err)
	}
	st.Coordinator = coord
	return st, nil
}

// Targets returns the configured target ids in order.
func (s *Stack) Targets() []string {
	ids := make([]string, 0, len(s.gateways))
	for id := range s.gateways {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// WaitRuntimes waits up to timeout for each target's engine and logs the
// ones that stay unreachable. Unreachable targets fail their own
// attempts at the precondition phase, so this never fails startup.
func (s *Stack) WaitRuntimes(ctx context.Context, timeout time.Duration, log *slog.Logger) {
	for _, id := range s.Targets() {
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.gateways[id].WaitReady(waitCtx, time.Second)
		cancel()
		if err != nil {
			log.Warn("Target runtime not reachable yet.", "target", id, "host", s.gateways[id].Host(), "err", err)
		}
	}
}

func (s *Stack) Close() error {
	var errs []error
	for _, gw := range s.gateways {
		errs = append(errs, gw.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	return errors.Join(errs...)
}
