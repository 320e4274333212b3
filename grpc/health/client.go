// Package health is a client for the standard gRPC health service of a node. Nodes enforcing
// peer identity only answer health checks over mTLS, so the client is usually given a
// client certificate through WithTLS.
package health

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type config struct {
	target      string
	dialTimeout time.Duration
	tlsConfig   *tls.Config
	dialOptions []grpc.DialOption
}

// Option is a functional option for configuring the health checker creation.
type Option func(*config)

// WithTarget sets the target address, e.g. "localhost:9300".
func WithTarget(target string) Option {
	return func(c *config) {
		c.target = target
	}
}

// WithTLS dials with the given client TLS configuration instead of plaintext.
func WithTLS(cfg *tls.Config) Option {
	return func(c *config) {
		c.tlsConfig = cfg
	}
}

// WithDialTimeout bounds each connection attempt.
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		c.dialTimeout = d
	}
}

// WithDialOptions allows passing custom gRPC DialOptions.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *config) {
		c.dialOptions = append(c.dialOptions, opts...)
	}
}

// HealthChecker wraps the gRPC health client and owns its connection.
type HealthChecker struct {
	client healthpb.HealthClient
	conn   *grpc.ClientConn
}

// Check performs a health check on the specified service. An empty service checks the node.
func (h *HealthChecker) Check(ctx context.Context, service string, opts ...grpc.CallOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service}, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrapf(err, "health check %q", service)
	}
	return resp.GetStatus(), nil
}

// Watch streams status changes of the specified service.
func (h *HealthChecker) Watch(ctx context.Context, service string, opts ...grpc.CallOption) (healthpb.Health_WatchClient, error) {
	return h.client.Watch(ctx, &healthpb.HealthCheckRequest{Service: service}, opts...)
}

// Close closes the underlying gRPC connection.
func (h *HealthChecker) Close() error {
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}

// NewHealthChecker creates a HealthChecker. The caller must Close it.
// Defaults: target "localhost:9300", plaintext, 10s dial timeout.
func NewHealthChecker(opts ...Option) (*HealthChecker, error) {
	c := &config{
		target:      "localhost:9300",
		dialTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.target == "" {
		return nil, errors.New("target address is required")
	}

	creds := insecure.NewCredentials()
	if c.tlsConfig != nil {
		creds = credentials.NewTLS(c.tlsConfig)
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff:           backoff.DefaultConfig,
			MinConnectTimeout: c.dialTimeout,
		}),
	}, c.dialOptions...)

	conn, err := grpc.NewClient(c.target, dialOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "create health client")
	}

	return &HealthChecker{client: healthpb.NewHealthClient(conn), conn: conn}, nil
}
