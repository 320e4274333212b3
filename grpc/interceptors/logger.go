package interceptors

import (
	"context"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/mennanov/fmutils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/fieldmaskpb"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	grpcerrors "github.com/alien4cloud/search-guard-ssl/grpc/errors"
	"github.com/alien4cloud/search-guard-ssl/grpc/tlssession"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

// Structured logging field keys
const (
	durationKey     = "duration"
	serviceKey      = "service"
	methodKey       = "method"
	grpcStatusKey   = "status"
	reasonKey       = "reason"
	tlsProtocolKey  = "tls_protocol"
	peerPrincipal   = "peer_principal"
	requestKey      = "request"
	responseKey     = "response"
	streamServerKey = "server_stream"
	streamClientKey = "client_stream"
)

// UnaryLoggerServerInterceptor logs every unary call once it completed, with its duration,
// status and the TLS peer when there is one.
func UnaryLoggerServerInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.UnaryServerInterceptor {
	cfg := interceptorConfig(opts...)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		return logWithContext(ctx, "server.request", info.FullMethod, cfg, log, req, nil,
			func(ctx context.Context) (any, error) {
				return handler(ctx, req)
			})
	}
}

// StreamLoggerServerInterceptor logs every stream once it is closed.
func StreamLoggerServerInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.StreamServerInterceptor {
	cfg := interceptorConfig(opts...)

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		extra := []zapcore.Field{
			zap.Bool(streamServerKey, info.IsServerStream),
			zap.Bool(streamClientKey, info.IsClientStream),
		}
		_, err := logWithContext(ss.Context(), "server.stream", info.FullMethod, cfg, log, nil, extra,
			func(ctx context.Context) (any, error) {
				wrapped := wrapStream(ctx, ss)
				return nil, handler(srv, wrapped)
			})
		return err
	}
}

func logWithContext(
	ctx context.Context,
	at string,
	fullMethod string,
	cfg *LoggingInterceptorConfig,
	log *logger.Logger,
	req any,
	extra []zapcore.Field,
	handler func(ctx context.Context) (any, error),
) (any, error) {
	if _, skip := cfg.skipLoggingByMethod[fullMethod]; skip {
		return handler(ctx)
	}

	// interceptor stacks are noise
	zl := log.Zap().WithOptions(zap.AddStacktrace(zap.ErrorLevel + 1))

	grpcService, grpcMethod := GetServiceAndMethod(fullMethod)
	ctx = ctxzap.ToContext(ctx, zl.With(buildBaseLogFields(ctx, grpcService, grpcMethod)...))

	start := time.Now()
	resp, err := handler(ctx)

	if !cfg.LogEnabled && err == nil {
		return resp, nil
	}

	fields := buildRequestLogFields(cfg, req, resp, time.Since(start))
	fields = append(fields, extra...)
	fields = append(fields, buildStatusLogFields(err)...)

	ctxzap.Extract(ctx).Check(determineLogLevel(cfg, err), at).Write(fields...)
	return resp, err
}

func buildBaseLogFields(ctx context.Context, grpcService, grpcMethod string) []zapcore.Field {
	var fields []zapcore.Field

	if span, ok := tracer.SpanFromContext(ctx); ok {
		fields = append(fields,
			zap.String(logger.TraceIDKey, span.Context().TraceID()),
			zap.String(logger.SpanIDKey, strconv.FormatUint(span.Context().SpanID(), 10)),
		)
	}

	if state, ok := tlssession.ConnectionState(ctx); ok {
		fields = append(fields, zap.String(tlsProtocolKey, tlsidentity.ProtocolName(state.Version)))
		if len(state.VerifiedChains) > 0 && len(state.VerifiedChains[0]) > 0 {
			fields = append(fields, zap.String(peerPrincipal, state.VerifiedChains[0][0].Subject.String()))
		}
	}

	return append(fields,
		zap.String(methodKey, grpcMethod),
		zap.String(serviceKey, grpcService),
	)
}

func buildRequestLogFields(cfg *LoggingInterceptorConfig, req, resp any, duration time.Duration) []zapcore.Field {
	var fields []zapcore.Field

	if cfg.LogRequests && req != nil {
		fields = append(fields, GrpcMessageField(requestKey, req, cfg.LogParamsBlocklist))
	}

	fields = append(fields, zap.Duration(durationKey, duration))

	if cfg.LogResponses && resp != nil && !reflect.ValueOf(resp).IsZero() {
		fields = append(fields, GrpcMessageField(responseKey, resp, cfg.LogParamsBlocklist))
	}

	return fields
}

func determineLogLevel(cfg *LoggingInterceptorConfig, err error) zapcore.Level {
	if err == nil {
		return cfg.LogLevel
	}
	if level, ok := cfg.GrpcCodeLogLevel[status.Code(err)]; ok {
		return level
	}
	return cfg.ErrorLogLevel
}

func buildStatusLogFields(err error) []zapcore.Field {
	fields := []zapcore.Field{zap.String(grpcStatusKey, status.Code(err).String())}
	if err == nil {
		return fields
	}
	if reason, ok := grpcerrors.ReasonFromError(err); ok {
		fields = append(fields, zap.String(reasonKey, reason))
	}
	return append(fields, zap.Error(err))
}

// GrpcMessageField creates a zap field for a gRPC message, pruned by the given masks.
// The message itself is never modified.
func GrpcMessageField(key string, message any, masks []*fieldmaskpb.FieldMask) zapcore.Field {
	msg, ok := message.(proto.Message)
	if !ok {
		return zap.Any(key, message)
	}

	if len(masks) > 0 {
		msg = proto.Clone(msg)
		for _, mask := range masks {
			fmutils.Prune(msg, mask.GetPaths())
		}
	}

	return zap.Object(key, pbZapField{msg})
}

// GetServiceAndMethod splits "/pkg.Service/Method" into "pkg.Service" and "Method".
func GetServiceAndMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", fullMethod
	}
	return service, method
}

type pbZapField struct {
	pb proto.Message
}

func (p pbZapField) MarshalLogObject(e zapcore.ObjectEncoder) error {
	return e.AddReflected("payload", p)
}

func (p pbZapField) MarshalJSON() ([]byte, error) {
	b, err := protojson.Marshal(p.pb)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal protobuf message to JSON")
	}
	return b, nil
}
