// Package daemon serves the lifecycle coordinator over a gRPC unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/rpc"
	"deployd/pkg/sdk/types"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

const (
	// eventBuffer absorbs progress bursts while a stream frame is in flight.
	// The coordinator drops events rather than block when it is full.
	eventBuffer = 64
	// DefaultShutdownGrace is how long in-flight attempts may run after a
	// shutdown request before they are aborted.
	DefaultShutdownGrace = 30 * time.Second
)

var _ rpc.DeployerServer = (*Server)(nil)

type Server struct {
	coord *lifecycle.Coordinator
	grace time.Duration
	log   *slog.Logger
}

type ServerOption func(*Server)

func WithShutdownGrace(d time.Duration) ServerOption {
	return func(s *Server) { s.grace = d }
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l.With("component", "daemon-server") }
}

func New(coord *lifecycle.Coordinator, opts ...ServerOption) *Server {
	s := &Server{
		coord: coord,
		grace: DefaultShutdownGrace,
		log:   slog.With("component", "daemon-server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe serves on a unix socket until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	ln, err := listenUnix(socketPath)
	if err != nil {
		return fmt.Errorf("listen daemon socket: %w", err)
	}
	s.log.Info("Listening.", "socket", socketPath)
	defer func() {
		_ = os.Remove(socketPath) // best-effort cleanup
	}()
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends or the listener fails. On the way out
// it stops admitting attempts, gives in-flight attempts the shutdown grace
// to finish, aborts the rest and then drains open RPCs.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	rpc.RegisterDeployerServer(srv, s)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var retErr error
	select {
	case <-ctx.Done():
		s.log.Info("Shutting down.")
	case retErr = <-serveErr:
		s.log.Error("Listener exited.", "err", retErr)
	}

	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.grace)
	defer cancel()
	if err := s.coord.Shutdown(graceCtx); err != nil {
		s.log.Warn("Aborted in-flight attempts at shutdown.", "err", err)
	}
	srv.GracefulStop()

	if errors.Is(retErr, grpc.ErrServerStopped) {
		return nil
	}
	return retErr
}

// --- gRPC methods: wire ↔ lifecycle conversion boundary ---

func (s *Server) Deploy(req *types.DeployRequest, stream rpc.DeployStream) error {
	lreq, err := RequestFromWire(req)
	if err != nil {
		return toGRPCError(err)
	}
	events := make(chan lifecycle.ProgressEvent, eventBuffer)
	lreq.Events = events

	type deployed struct {
		attempt lifecycle.Attempt
		err     error
	}
	done := make(chan deployed, 1)
	go func() {
		// The stream context ending is a caller cancellation and takes the
		// abort path inside the coordinator.
		a, err := s.coord.Deploy(stream.Context(), lreq)
		done <- deployed{attempt: a, err: err}
	}()

	sendOK := true
	send := func(ev lifecycle.ProgressEvent) {
		if !sendOK {
			return
		}
		wire := EventToWire(ev)
		if err := stream.Send(&types.DeployMessage{Event: &wire}); err != nil {
			s.log.Debug("Progress stream closed.", "attempt", ev.AttemptID, "err", err)
			sendOK = false
		}
	}

	for {
		select {
		case ev := <-events:
			send(ev)
		case res := <-done:
			if res.attempt.ID == "" {
				return toGRPCError(res.err)
			}
		drain:
			for {
				select {
				case ev := <-events:
					send(ev)
				default:
					break drain
				}
			}
			final := AttemptToWire(res.attempt)
			return stream.Send(&types.DeployMessage{Attempt: &final})
		}
	}
}

func (s *Server) Start(ctx context.Context, req *types.DeployRequest) (*types.StartResponse, error) {
	lreq, err := RequestFromWire(req)
	if err != nil {
		return nil, toGRPCError(err)
	}
	id, err := s.coord.Start(ctx, lreq)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &types.StartResponse{AttemptID: id}, nil
}

func (s *Server) GetAttempt(ctx context.Context, req *types.GetAttemptRequest) (*types.Attempt, error) {
	if req.AttemptID == "" {
		return nil, toGRPCError(fmt.Errorf("%w: attempt id is required", lifecycle.ErrInvalidRequest))
	}
	if !req.Wait {
		a, err := s.coord.Get(ctx, req.AttemptID)
		if err != nil {
			return nil, toGRPCError(err)
		}
		out := AttemptToWire(a)
		return &out, nil
	}

	a, err := s.coord.Wait(ctx, req.AttemptID)
	// A failed or rolled back attempt is a result, not an RPC error.
	if a.ID != "" && (a.IsTerminal() || err == nil) {
		out := AttemptToWire(a)
		return &out, nil
	}
	return nil, toGRPCError(err)
}

func (s *Server) ListAttempts(ctx context.Context, req *types.ListAttemptsRequest) (*types.ListAttemptsResponse, error) {
	attempts, err := s.coord.List(ctx, req.Target, req.Limit)
	if err != nil {
		return nil, toGRPCError(err)
	}
	out := make([]types.Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = AttemptToWire(a)
	}
	return &types.ListAttemptsResponse{Attempts: out}, nil
}

func (s *Server) Abort(ctx context.Context, req *types.AbortRequest) (*types.AbortResponse, error) {
	if req.AttemptID == "" {
		return nil, toGRPCError(fmt.Errorf("%w: attempt id is required", lifecycle.ErrInvalidRequest))
	}
	if err := s.coord.Abort(ctx, req.AttemptID); err != nil {
		return nil, toGRPCError(err)
	}
	s.log.Info("Abort requested.", "attempt", req.AttemptID)
	return &types.AbortResponse{}, nil
}
