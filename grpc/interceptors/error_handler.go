package interceptors

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	grpcerrors "github.com/alien4cloud/search-guard-ssl/grpc/errors"
)

// UnaryErrorServerInterceptor tags the active span with the error returned by the handler.
func UnaryErrorServerInterceptor(
	ctx context.Context,
	req any,
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	resp, err := handler(ctx, req)
	setErrorSpan(ctx, err)
	return resp, err
}

// StreamErrorServerInterceptor tags the active span with the error returned by the handler.
func StreamErrorServerInterceptor(
	srv any,
	ss grpc.ServerStream,
	_ *grpc.StreamServerInfo,
	handler grpc.StreamHandler,
) error {
	err := handler(srv, ss)
	setErrorSpan(ss.Context(), err)
	return err
}

// setErrorSpan records err on the span of ctx. Status errors are tagged with their code and,
// for transport rejections, the ErrorInfo reason; anything else is a system error.
func setErrorSpan(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span, ok := tracer.SpanFromContext(ctx)
	if !ok {
		return
	}

	span.SetTag(ext.Error, true)

	s, isStatus := status.FromError(err)
	if !isStatus {
		span.SetTag(ext.ErrorType, "system")
		span.SetTag(ext.ErrorMsg, err.Error())
		return
	}

	span.SetTag("rpc.grpc.status_code", s.Code())
	span.SetTag("rpc.grpc.status_message", s.Message())
	if reason, ok := grpcerrors.ReasonFromError(err); ok {
		span.SetTag(ext.ErrorType, reason)
	}
}
