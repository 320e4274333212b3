package server

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

var (
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultHookTimeout       = 5 * time.Second
	DefaultHTTPReadTimeout   = 5 * time.Second
	DefaultHTTPWriteTimeout  = 10 * time.Second
	DefaultHTTPIdleTimeout   = 120 * time.Second
	DefaultHTTPHeaderTimeout = 2 * time.Second
)

// GRPCServer is what the manager needs from a gRPC endpoint. Both *grpc.Server and
// *grpcserver.Node satisfy it.
type GRPCServer interface {
	Serve(lis net.Listener) error
	GracefulStop()
	Stop()
}

// HTTPConfig holds configuration for HTTP servers
type HTTPConfig struct {
	Name          string        // Unique name for this server (used in logging)
	Address       string        // Address to bind to (e.g., ":9200")
	Handler       http.Handler  // HTTP handler for this server
	TLSConfig     *tls.Config   // Serves HTTPS when set; certificates must be loaded
	ReadTimeout   time.Duration // Maximum duration for reading the entire request
	WriteTimeout  time.Duration // Maximum duration before timing out writes
	IdleTimeout   time.Duration // Maximum amount of time to wait for next request when keep-alives are enabled
	HeaderTimeout time.Duration // Amount of time allowed to read request headers
}

// GRPCConfig holds configuration for gRPC servers
type GRPCConfig struct {
	Name    string     // Unique name for this server (used in logging)
	Address string     // Address to bind to (e.g., ":9300")
	Server  GRPCServer // Fully assembled server; services are registered before Serve
}

// HTTPConfigOption is a functional option for configuring HTTPConfig
type HTTPConfigOption func(*HTTPConfig)

// WithHTTPTLSConfig serves the endpoint over TLS.
func WithHTTPTLSConfig(cfg *tls.Config) HTTPConfigOption {
	return func(c *HTTPConfig) {
		c.TLSConfig = cfg
	}
}

// WithHTTPReadTimeout sets the read timeout for the HTTP config
func WithHTTPReadTimeout(timeout time.Duration) HTTPConfigOption {
	return func(c *HTTPConfig) {
		c.ReadTimeout = timeout
	}
}

// WithHTTPWriteTimeout sets the write timeout for the HTTP config
func WithHTTPWriteTimeout(timeout time.Duration) HTTPConfigOption {
	return func(c *HTTPConfig) {
		c.WriteTimeout = timeout
	}
}

// WithHTTPIdleTimeout sets the idle timeout for the HTTP config
func WithHTTPIdleTimeout(timeout time.Duration) HTTPConfigOption {
	return func(c *HTTPConfig) {
		c.IdleTimeout = timeout
	}
}

// WithHTTPHeaderTimeout sets the header timeout for the HTTP config
func WithHTTPHeaderTimeout(timeout time.Duration) HTTPConfigOption {
	return func(c *HTTPConfig) {
		c.HeaderTimeout = timeout
	}
}
