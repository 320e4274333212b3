package interceptors

import (
	"time"

	grpctrace "github.com/DataDog/dd-trace-go/contrib/google.golang.org/grpc/v2"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

// Interceptor IDs of the default chains.
const (
	IDDeadline      = "server-deadline"
	IDTrace         = "trace"
	IDLogger        = "logger"
	IDErrors        = "errors"
	IDPanicRecovery = "panic-recovery"
	IDContextStatus = "context-status"
)

var untracedMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// Config holds essential configuration options for the interceptor chains.
type Config struct {
	RequestTimeout time.Duration
	Environment    string
	ServiceName    string

	PanicRecoveryEnabled bool

	LoggingOptions []LoggingInterceptorOption
}

// ConfigOption is a functional option for configuring the interceptor chains
type ConfigOption func(*Config)

// WithRequestTimeout sets the server-side request timeout. Zero disables it.
func WithRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

// WithoutPanicRecovery lets handler panics crash the process.
func WithoutPanicRecovery() ConfigOption {
	return func(c *Config) {
		c.PanicRecoveryEnabled = false
	}
}

func WithLoggingOptions(opts ...LoggingInterceptorOption) ConfigOption {
	return func(c *Config) {
		c.LoggingOptions = append(c.LoggingOptions, opts...)
	}
}

// WithDetailedLogging logs request and response payloads at debug level.
func WithDetailedLogging() ConfigOption {
	return WithLoggingOptions(
		LogLevel(zapcore.DebugLevel),
		LogParams(true),
	)
}

// NewConfig creates a new configuration with sensible defaults
func NewConfig(serviceName, environment string, opts ...ConfigOption) *Config {
	cfg := &Config{
		RequestTimeout:       30 * time.Second,
		ServiceName:          serviceName,
		Environment:          environment,
		PanicRecoveryEnabled: true,
		LoggingOptions: []LoggingInterceptorOption{
			LogEnabled(true),
			LogLevel(zapcore.InfoLevel),
			WithSkippedLogsByMethods(untracedMethods...),
			GrpcCodeLogLevel(map[codes.Code]zapcore.Level{ //nolint:exhaustive
				codes.Canceled:        zapcore.WarnLevel,
				codes.Unauthenticated: zapcore.WarnLevel,
			}),
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// NewDefaultServerUnaryChain creates the unary server chain:
// deadline -> trace -> logger -> errors -> panic-recovery -> context-status.
//
//	chain := NewDefaultServerUnaryChain("search-node", "production", log,
//	    WithRequestTimeout(60 * time.Second),
//	    WithDetailedLogging(),
//	)
func NewDefaultServerUnaryChain(
	serviceName,
	environment string,
	log *logger.Logger,
	opts ...ConfigOption,
) *UnaryServerInterceptorChain {
	cfg := NewConfig(serviceName, environment, opts...)
	chain := NewUnaryServerInterceptorChain()

	if cfg.RequestTimeout > 0 {
		chain.Push(IDDeadline, ServerDeadlineInterceptor(cfg.RequestTimeout))
	}
	chain.Push(IDTrace, grpctrace.UnaryServerInterceptor(traceOptions(cfg)...))
	if log != nil {
		chain.Push(IDLogger, UnaryLoggerServerInterceptor(log, cfg.LoggingOptions...))
	}
	chain.Push(IDErrors, UnaryErrorServerInterceptor)
	if cfg.PanicRecoveryEnabled {
		chain.Push(IDPanicRecovery, UnaryPanicRecoveryServerInterceptor(log))
	}
	chain.Push(IDContextStatus, UnaryContextStatusInterceptor())

	return chain
}

// NewDefaultServerStreamChain is NewDefaultServerUnaryChain for streams.
func NewDefaultServerStreamChain(
	serviceName,
	environment string,
	log *logger.Logger,
	opts ...ConfigOption,
) *StreamServerInterceptorChain {
	cfg := NewConfig(serviceName, environment, opts...)
	chain := NewStreamServerInterceptorChain()

	if cfg.RequestTimeout > 0 {
		chain.Push(IDDeadline, StreamServerDeadlineInterceptor(cfg.RequestTimeout))
	}
	chain.Push(IDTrace, grpctrace.StreamServerInterceptor(traceOptions(cfg)...))
	if log != nil {
		chain.Push(IDLogger, StreamLoggerServerInterceptor(log, cfg.LoggingOptions...))
	}
	chain.Push(IDErrors, StreamErrorServerInterceptor)
	if cfg.PanicRecoveryEnabled {
		chain.Push(IDPanicRecovery, StreamPanicRecoveryServerInterceptor(log))
	}
	chain.Push(IDContextStatus, StreamContextStatusInterceptor())

	return chain
}

func traceOptions(cfg *Config) []grpctrace.Option {
	return []grpctrace.Option{
		grpctrace.WithService(cfg.ServiceName),
		grpctrace.WithAnalytics(true),
		grpctrace.WithMetadataTags(),
		grpctrace.WithUntracedMethods(untracedMethods...),
	}
}
