package rpc

import (
	"context"

	"deployd/pkg/sdk/types"

	"google.golang.org/grpc"
)

const ServiceName = "deployd.v1.Deployer"

const (
	MethodDeploy       = "/" + ServiceName + "/Deploy"
	MethodStart        = "/" + ServiceName + "/Start"
	MethodGetAttempt   = "/" + ServiceName + "/GetAttempt"
	MethodListAttempts = "/" + ServiceName + "/ListAttempts"
	MethodAbort        = "/" + ServiceName + "/Abort"
)

// DeployerServer is implemented by the daemon.
type DeployerServer interface {
	// Deploy runs an attempt and streams its progress, ending with the
	// terminal attempt. Cancelling the stream aborts the attempt.
	Deploy(*types.DeployRequest, DeployStream) error
	Start(context.Context, *types.DeployRequest) (*types.StartResponse, error)
	GetAttempt(context.Context, *types.GetAttemptRequest) (*types.Attempt, error)
	ListAttempts(context.Context, *types.ListAttemptsRequest) (*types.ListAttemptsResponse, error)
	Abort(context.Context, *types.AbortRequest) (*types.AbortResponse, error)
}

type DeployStream interface {
	Send(*types.DeployMessage) error
	Context() context.Context
}

func RegisterDeployerServer(s grpc.ServiceRegistrar, srv DeployerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DeployerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: unary(MethodStart, DeployerServer.Start)},
		{MethodName: "GetAttempt", Handler: unary(MethodGetAttempt, DeployerServer.GetAttempt)},
		{MethodName: "ListAttempts", Handler: unary(MethodListAttempts, DeployerServer.ListAttempts)},
		{MethodName: "Abort", Handler: unary(MethodAbort, DeployerServer.Abort)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Deploy", Handler: deployHandler, ServerStreams: true},
	},
}

// DeployStreamDesc is the client side description of the Deploy stream.
var DeployStreamDesc = &ServiceDesc.Streams[0]

type methodHandler = func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error)

func unary[Req, Resp any](fullMethod string, call func(DeployerServer, context.Context, *Req) (*Resp, error)) methodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(DeployerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DeployerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func deployHandler(srv any, stream grpc.ServerStream) error {
	in := new(types.DeployRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DeployerServer).Deploy(in, &deployServerStream{stream})
}

type deployServerStream struct {
	grpc.ServerStream
}

func (s *deployServerStream) Send(m *types.DeployMessage) error {
	return s.ServerStream.SendMsg(m)
}
