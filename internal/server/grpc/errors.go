package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps service errors to gRPC status codes. Messages are fixed
// strings; the underlying error is logged, never sent.
func (s *GRPCServer) toStatus(ctx context.Context, method string, err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, common.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, common.ErrAccountDisabled):
		return status.Error(codes.PermissionDenied, "account disabled")
	case errors.Is(err, common.ErrDuplicateHandle):
		return status.Error(codes.AlreadyExists, "handle already registered")
	case errors.Is(err, common.ErrValidation):
		return status.Error(codes.InvalidArgument, validationMessage(err))
	case errors.Is(err, common.ErrBackendUnavailable):
		s.logger.Warn(ctx, "backend unavailable", "method", method, "error", err)
		return status.Error(codes.Unavailable, "service unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	default:
		s.logger.Error(ctx, "request failed", "method", method, "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, common.ErrPasswordTooShort):
		return "password too short"
	case errors.Is(err, common.ErrPasswordTooLong):
		return "password too long"
	default:
		return "invalid request"
	}
}
