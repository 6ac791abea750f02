// Package client talks to the deployd daemon over its gRPC socket.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"deployd/pkg/sdk/rpc"
	"deployd/pkg/sdk/types"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// API is the daemon surface used by the CLI.
type API interface {
	Deploy(ctx context.Context, req types.DeployRequest, onEvent func(types.ProgressEvent)) (types.Attempt, error)
	Start(ctx context.Context, req types.DeployRequest) (string, error)
	GetAttempt(ctx context.Context, id string, wait bool) (types.Attempt, error)
	ListAttempts(ctx context.Context, target string, limit int) ([]types.Attempt, error)
	Abort(ctx context.Context, id string) error
}

var _ API = (*Client)(nil)

type Client struct {
	conn *grpc.ClientConn
}

func NewUnix(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+socketPath, dialOptions()...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial unix socket: %w", err)
	}
	return &Client{conn: conn}, nil
}

func NewWithDialer(dialer func(ctx context.Context, addr string) (net.Conn, error)) (*Client, error) {
	opts := append(dialOptions(), grpc.WithContextDialer(dialer))
	conn, err := grpc.NewClient("passthrough:///deployd", opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial with custom dialer: %w", err)
	}
	return &Client{conn: conn}, nil
}

func dialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Deploy runs an attempt on the daemon and blocks until it is terminal.
// onEvent, when set, sees every progress event. Cancelling ctx aborts the
// attempt on the daemon.
func (c *Client) Deploy(ctx context.Context, req types.DeployRequest, onEvent func(types.ProgressEvent)) (types.Attempt, error) {
	stream, err := c.conn.NewStream(ctx, rpc.DeployStreamDesc, rpc.MethodDeploy)
	if err != nil {
		return types.Attempt{}, grpcErr(err)
	}
	if err := stream.SendMsg(&req); err != nil {
		return types.Attempt{}, grpcErr(err)
	}
	if err := stream.CloseSend(); err != nil {
		return types.Attempt{}, grpcErr(err)
	}

	var final *types.Attempt
	for {
		var msg types.DeployMessage
		err := stream.RecvMsg(&msg)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Attempt{}, grpcErr(err)
		}
		if msg.Event != nil && onEvent != nil {
			onEvent(*msg.Event)
		}
		if msg.Attempt != nil {
			final = msg.Attempt
		}
	}
	if final == nil {
		return types.Attempt{}, errors.New("deploy stream ended without a result")
	}
	return *final, nil
}

func (c *Client) Start(ctx context.Context, req types.DeployRequest) (string, error) {
	var resp types.StartResponse
	if err := c.conn.Invoke(ctx, rpc.MethodStart, &req, &resp); err != nil {
		return "", grpcErr(err)
	}
	return resp.AttemptID, nil
}

func (c *Client) GetAttempt(ctx context.Context, id string, wait bool) (types.Attempt, error) {
	var resp types.Attempt
	if err := c.conn.Invoke(ctx, rpc.MethodGetAttempt, &types.GetAttemptRequest{AttemptID: id, Wait: wait}, &resp); err != nil {
		return types.Attempt{}, grpcErr(err)
	}
	return resp, nil
}

func (c *Client) ListAttempts(ctx context.Context, target string, limit int) ([]types.Attempt, error) {
	var resp types.ListAttemptsResponse
	if err := c.conn.Invoke(ctx, rpc.MethodListAttempts, &types.ListAttemptsRequest{Target: target, Limit: limit}, &resp); err != nil {
		return nil, grpcErr(err)
	}
	return resp.Attempts, nil
}

func (c *Client) Abort(ctx context.Context, id string) error {
	var resp types.AbortResponse
	return grpcErr(c.conn.Invoke(ctx, rpc.MethodAbort, &types.AbortRequest{AttemptID: id}, &resp))
}
