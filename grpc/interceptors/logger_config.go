package interceptors

import (
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

const (
	DefaultInterceptorLogLevel      zapcore.Level = zapcore.InfoLevel
	DefaultInterceptorErrorLogLevel zapcore.Level = zapcore.WarnLevel
)

type LoggingInterceptorConfig struct {
	LogEnabled   bool
	LogRequests  bool
	LogResponses bool
	// Paths pruned from logged payloads, e.g. fields holding key material.
	LogParamsBlocklist []*fieldmaskpb.FieldMask
	LogLevel           zapcore.Level
	ErrorLogLevel      zapcore.Level

	// Overrides ErrorLogLevel for specific codes.
	GrpcCodeLogLevel map[codes.Code]zapcore.Level

	skipLoggingByMethod map[string]struct{}
}

type LoggingInterceptorOption func(*LoggingInterceptorConfig)

func LogEnabled(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogEnabled = v
	}
}

// LogParams logs both requests and responses.
func LogParams(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
		o.LogResponses = v
	}
}

func LogRequests(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
	}
}

func LogResponses(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogResponses = v
	}
}

func LogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogLevel = level
	}
}

func ErrorLogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.ErrorLogLevel = level
	}
}

func GrpcCodeLogLevel(levels map[codes.Code]zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.GrpcCodeLogLevel = levels
	}
}

// WithBlockedParams prunes the given field paths from logged payloads.
func WithBlockedParams(paths ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogParamsBlocklist = append(o.LogParamsBlocklist, &fieldmaskpb.FieldMask{Paths: paths})
	}
}

func WithSkippedLogsByMethods(methods ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		if o.skipLoggingByMethod == nil {
			o.skipLoggingByMethod = make(map[string]struct{}, len(methods))
		}
		for _, method := range methods {
			o.skipLoggingByMethod[method] = struct{}{}
		}
	}
}

func interceptorConfig(opts ...LoggingInterceptorOption) *LoggingInterceptorConfig {
	cfg := &LoggingInterceptorConfig{
		LogEnabled:    true,
		LogLevel:      DefaultInterceptorLogLevel,
		ErrorLogLevel: DefaultInterceptorErrorLogLevel,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
