package interceptors

import (
	"context"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// wrapStream replaces the context of ss.
func wrapStream(ctx context.Context, ss grpc.ServerStream) grpc.ServerStream {
	wrapped := grpcmiddleware.WrapServerStream(ss)
	wrapped.WrappedContext = ctx
	return wrapped
}
