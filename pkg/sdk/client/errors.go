package client

import (
	"errors"
	"fmt"

	"deployd/pkg/sdk/types"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPrecondition    = errors.New("precondition failed")
	ErrTargetBusy      = errors.New("target busy")
	ErrAttemptTerminal = errors.New("attempt already finished")
	ErrUnavailable     = errors.New("daemon unavailable")
)

func grpcErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	case codes.FailedPrecondition:
		switch preconditionCode(st) {
		case types.PreconditionTargetBusy:
			return fmt.Errorf("%w: %w: %s", ErrPrecondition, ErrTargetBusy, msg)
		case types.PreconditionAttemptTerminal:
			return fmt.Errorf("%w: %w: %s", ErrPrecondition, ErrAttemptTerminal, msg)
		default:
			return fmt.Errorf("%w: %s", ErrPrecondition, msg)
		}
	}
	return errors.New(msg)
}

func preconditionCode(st *status.Status) types.PreconditionCode {
	for _, detail := range st.Details() {
		pf, ok := detail.(*errdetails.PreconditionFailure)
		if !ok {
			continue
		}
		for _, v := range pf.GetViolations() {
			if v.GetType() != "" {
				return types.PreconditionCode(v.GetType())
			}
		}
	}
	return ""
}
