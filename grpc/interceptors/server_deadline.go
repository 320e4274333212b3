package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ServerDeadlineInterceptor bounds the processing time of unary calls. A shorter deadline
// set by the client still wins.
func ServerDeadlineInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return handler(ctx, req)
	}
}

// StreamServerDeadlineInterceptor is ServerDeadlineInterceptor for streams. Streams
// outliving timeout see their context canceled.
func StreamServerDeadlineInterceptor(timeout time.Duration) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, cancel := context.WithTimeout(ss.Context(), timeout)
		defer cancel()
		return handler(srv, wrapStream(ctx, ss))
	}
}
