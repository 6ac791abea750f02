package daemon

import (
	"context"
	"errors"

	"deployd/internal/lifecycle"
	"deployd/pkg/sdk/types"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Error mapping ---

// toGRPCError maps admission and lookup errors to status codes. Phase
// failures never reach here: they travel inside the attempt.
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()

	switch {
	case errors.Is(err, lifecycle.ErrInvalidRequest), errors.Is(err, lifecycle.ErrInvalidArtifact):
		return status.Error(codes.InvalidArgument, msg)
	case errors.Is(err, lifecycle.ErrTargetBusy):
		return preconditionError(types.PreconditionTargetBusy, msg)
	case errors.Is(err, lifecycle.ErrAttemptTerminal):
		return preconditionError(types.PreconditionAttemptTerminal, msg)
	case errors.Is(err, lifecycle.ErrAttemptNotFound), errors.Is(err, lifecycle.ErrUnknownTarget):
		return status.Error(codes.NotFound, msg)
	case errors.Is(err, lifecycle.ErrShutdown):
		return status.Error(codes.Unavailable, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, msg)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, msg)
	}
	return status.Error(codes.Internal, msg)
}

func preconditionError(code types.PreconditionCode, msg string) error {
	st := status.New(codes.FailedPrecondition, msg)
	detailed, err := st.WithDetails(&errdetails.PreconditionFailure{
		Violations: []*errdetails.PreconditionFailure_Violation{{
			Type:        string(code),
			Description: msg,
		}},
	})
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
