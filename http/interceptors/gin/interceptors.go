package gin

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

const (
	httpHandlerOp = "http.handler"
	componentName = "gin"
)

type interceptorCfg struct {
	Logger              *logger.Logger
	TracingEnabled      bool
	PeerIdentityEnabled bool
	CompressionLevel    int
	HTTPDebug           bool
	HTTPTrace           bool
	Timeout             time.Duration
}

type InterceptorOpt func(cfg *interceptorCfg)

// WithLogger sets the logger handlers find in their request context. Default is logger.Instance().
func WithLogger(l *logger.Logger) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.Logger = l
	}
}

// WithPeerIdentityEnabled enables/disables client certificate principal extraction. Default is enabled.
func WithPeerIdentityEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.PeerIdentityEnabled = enabled
	}
}

// WithTimeout sets the http handler timeout. Default is 1 minute.
func WithTimeout(timeout time.Duration) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.Timeout = timeout
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// WithHTTPDebug enables printing log line with request info and duration for every request
func WithHTTPDebug() InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.HTTPDebug = true
	}
}

// WithHTTPTrace enables deeper http debugging by also printing the whole request and response body
func WithHTTPTrace() InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.HTTPDebug = true
		cfg.HTTPTrace = true
	}
}

// WithCompressionLevel specifies the gzip compression level, default is gzip.DefaultCompression.
// Disable by using gzip.NoCompression.
func WithCompressionLevel(level int) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.CompressionLevel = level
	}
}

// DefaultInterceptors returns the default middlewares of the node's HTTP endpoint.
// Defaults can be changed by passing any of the WithXXX options.
func DefaultInterceptors(opts ...InterceptorOpt) []gin.HandlerFunc {
	cfg := &interceptorCfg{
		TracingEnabled:      true,
		PeerIdentityEnabled: true,
		CompressionLevel:    gzip.DefaultCompression,
		Timeout:             time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Instance()
	}

	middlewares := []gin.HandlerFunc{
		LoggerMiddleware(cfg.Logger),
		RequestLogging(loggingCfg{
			debug: cfg.HTTPDebug,
			trace: cfg.HTTPTrace,
		}),
	}
	// gzip closes its writer on the way out: responses written by the error and panic
	// middlewares must happen inside it.
	if cfg.CompressionLevel != gzip.NoCompression {
		middlewares = append(middlewares, gzip.Gzip(cfg.CompressionLevel))
	}
	middlewares = append(middlewares, PanicRecoveryMiddleware, ErrorHandlingMiddleware)
	if cfg.TracingEnabled {
		middlewares = append(middlewares, TracingMiddleware)
	}
	if cfg.PeerIdentityEnabled {
		middlewares = append(middlewares, PeerIdentityMiddleware)
	}
	middlewares = append(middlewares, TimeoutMiddleware(cfg.Timeout))

	return middlewares
}
