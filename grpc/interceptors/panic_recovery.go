package interceptors

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alien4cloud/search-guard-ssl/common/env"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

// UnaryPanicRecoveryServerInterceptor turns panics in handlers into codes.Internal errors.
// The panic is logged and recorded on the active span; its value is never sent to the client.
func UnaryPanicRecoveryServerInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return grpcrecovery.UnaryServerInterceptor(grpcrecovery.WithRecoveryHandlerContext(recoveryHandler(log)))
}

// StreamPanicRecoveryServerInterceptor is UnaryPanicRecoveryServerInterceptor for streams.
func StreamPanicRecoveryServerInterceptor(log *logger.Logger) grpc.StreamServerInterceptor {
	return grpcrecovery.StreamServerInterceptor(grpcrecovery.WithRecoveryHandlerContext(recoveryHandler(log)))
}

func recoveryHandler(log *logger.Logger) grpcrecovery.RecoveryHandlerFuncContext {
	if log == nil {
		log = logger.Instance()
	}
	return func(ctx context.Context, panicValue any) error {
		log.Error("Recovered from panic in gRPC handler", logger.WithPanic(panicValue)...)
		if env.IsLocalApplicationEnv() {
			// readable stack on the local console
			_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
		}

		if span, ok := tracer.SpanFromContext(ctx); ok {
			span.SetTag(ext.Error, true)
			span.SetTag(ext.ErrorType, "panic")
			span.SetTag(ext.ErrorMsg, codes.Internal.String())
		}

		return status.Error(codes.Internal, "Internal server error occurred")
	}
}
