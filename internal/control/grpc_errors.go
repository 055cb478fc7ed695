package control

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sky-engine/core"
	"github.com/signalsfoundry/sky-engine/kb"
)

// ErrInvalidArgument is used for malformed control requests.
var ErrInvalidArgument = errors.New("invalid argument")

// ToStatusError maps engine errors onto gRPC status codes for the control
// service.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, kb.ErrNotFound),
		errors.Is(err, kb.ErrStale):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, kb.ErrInvalidSource),
		errors.Is(err, kb.ErrCycle),
		errors.Is(err, kb.ErrNotModule):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, kb.ErrRejected),
		errors.Is(err, kb.ErrUnsupported):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, kb.ErrDuplicateOID),
		errors.Is(err, kb.ErrHasParent):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, kb.ErrAgain):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, core.ErrReleased),
		errors.Is(err, ErrMailboxClosed):
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
