package interceptors

import (
	"context"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	statusCanceled         = status.New(codes.Canceled, "context canceled")          //nolint:gochecknoglobals
	statusDeadlineExceeded = status.New(codes.DeadlineExceeded, "deadline exceeded") //nolint:gochecknoglobals
)

// contextStatusError wraps a gRPC status with the original context error.
type contextStatusError struct {
	*status.Status
	error
}

// GRPCStatus allows grpc/status.FromError to extract the correct gRPC status code.
func (e *contextStatusError) GRPCStatus() *status.Status {
	return e.Status
}

func (e *contextStatusError) Unwrap() error {
	return e.error
}

// UnaryContextStatusInterceptor maps context errors to their gRPC codes:
//   - context.Canceled → codes.Canceled
//   - context.DeadlineExceeded → codes.DeadlineExceeded
func UnaryContextStatusInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, contextStatus(err)
	}
}

// StreamContextStatusInterceptor is UnaryContextStatusInterceptor for streams.
func StreamContextStatusInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		return contextStatus(handler(srv, ss))
	}
}

func contextStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &contextStatusError{Status: statusCanceled, error: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &contextStatusError{Status: statusDeadlineExceeded, error: err}
	default:
		return err
	}
}
