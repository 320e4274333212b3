package grpcserver

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/alien4cloud/search-guard-ssl/common/config"
	"github.com/alien4cloud/search-guard-ssl/common/env"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/grpc/interceptors"
	"github.com/alien4cloud/search-guard-ssl/grpc/registrar"
	"github.com/alien4cloud/search-guard-ssl/grpc/tlssession"
	"github.com/alien4cloud/search-guard-ssl/transport"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

const (
	// DefaultGRPCMaxMsgSize defines the default gRPC max message size in
	// bytes the server can receive or send.
	DefaultGRPCMaxMsgSize = 1024 * 1024 * 10 // 10MB
)

type options struct {
	tlsConfig     *tls.Config
	registerer    prometheus.Registerer
	serverOptions []grpc.ServerOption
	registrarOpts []registrar.Option
	chainOpts     []interceptors.ConfigOption
	reflection    bool
}

// Option is a functional option for configuring the node
type Option func(*options)

// WithTLSConfig overrides the TLS configuration built from the ssl settings.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(o *options) {
		o.tlsConfig = cfg
	}
}

// WithMetricsRegisterer registers the transport metrics on reg instead of the default registry.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithServerOptions appends raw gRPC server options; they win over the defaults.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(o *options) {
		o.serverOptions = append(o.serverOptions, opts...)
	}
}

func WithRegistrarOptions(opts ...registrar.Option) Option {
	return func(o *options) {
		o.registrarOpts = append(o.registrarOpts, opts...)
	}
}

func WithInterceptorOptions(opts ...interceptors.ConfigOption) Option {
	return func(o *options) {
		o.chainOpts = append(o.chainOpts, opts...)
	}
}

// WithReflection registers the reflection service, for grpcurl and friends.
func WithReflection() Option {
	return func(o *options) {
		o.reflection = true
	}
}

// Node is a gRPC transport endpoint whose handlers are all served through a dispatcher.
type Node struct {
	server     *grpc.Server
	registry   *transport.Registry
	dispatcher *transport.Dispatcher
	registrar  *registrar.Registrar
	health     *grpchealth.Server
	metrics    *transport.Metrics
	log        *logger.Logger
}

// NewServer builds a node from settings. When identity is enforced every handler registered
// through the node's registrar, including the health service, is wrapped by the peer
// identity interceptor; the decision is taken once, here.
func NewServer(settings config.Settings, log *logger.Logger, opts ...Option) (*Node, error) {
	o := &options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}
	if log == nil {
		log = logger.Instance()
	}

	tlsConfig := o.tlsConfig
	if tlsConfig == nil && settings.Transport.SSL.Enabled {
		var err error
		if tlsConfig, err = ServerTLSConfig(settings.Transport.SSL); err != nil {
			return nil, err
		}
	}

	registryOpts := []transport.RegistryOption{transport.WithRegistryLogger(log)}
	if settings.IdentityEnforced() {
		registryOpts = append(registryOpts, transport.WithRegistrationHook(identityHook(settings, log)))
		log.Info("peer identity enforcement enabled",
			logger.Strings("exempt_channel_kinds", settings.Transport.ExemptChannelKinds),
			logger.Bool("require_verified_chain", settings.Transport.RequireVerifiedChain),
		)
	} else {
		log.Warn("peer identity enforcement disabled",
			logger.Bool("ssl_enabled", settings.Transport.SSL.Enabled),
			logger.Bool("companion_plugin", settings.Transport.CompanionPluginEnabled),
			logger.String("mode", settings.Mode),
		)
	}

	registry := transport.NewRegistry(registryOpts...)
	metrics := transport.NewMetrics(o.registerer)
	dispatcher := transport.NewDispatcher(registry,
		transport.WithExecutors(transport.NewExecutors(settings.Transport.Executors)),
		transport.WithMetrics(metrics),
		transport.WithDispatcherLogger(log),
	)

	environment := env.GetApplicationEnvSafe().String()
	chainOpts := append([]interceptors.ConfigOption{
		interceptors.WithRequestTimeout(settings.Transport.RequestTimeout),
	}, o.chainOpts...)
	unary := interceptors.NewDefaultServerUnaryChain(settings.ServiceName, environment, log, chainOpts...)
	stream := interceptors.NewDefaultServerStreamChain(settings.ServiceName, environment, log, chainOpts...)

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(unary.Commit()),
		grpc.ChainStreamInterceptor(stream.Commit()),
		grpc.UnknownServiceHandler(func(_ any, _ grpc.ServerStream) error {
			return status.Error(codes.Unimplemented, "Unknown route")
		}),
		grpc.MaxRecvMsgSize(DefaultGRPCMaxMsgSize),
		grpc.MaxSendMsgSize(DefaultGRPCMaxMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second, // Ping every 30s if no activity.
			Timeout: 10 * time.Second, // Wait 10s for ping ack.
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	serverOpts = append(serverOpts, o.serverOptions...)

	server := grpc.NewServer(serverOpts...)
	reg := registrar.New(server, registry, dispatcher,
		append([]registrar.Option{registrar.WithLogger(log)}, o.registrarOpts...)...)

	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(reg, hs)
	if o.reflection {
		reflection.Register(reg)
	}

	return &Node{
		server:     server,
		registry:   registry,
		dispatcher: dispatcher,
		registrar:  reg,
		health:     hs,
		metrics:    metrics,
		log:        log,
	}, nil
}

func identityHook(settings config.Settings, log *logger.Logger) transport.RegistrationHook {
	hooks := []tlsidentity.ContextHook{tlsidentity.SPIFFEIDHook()}
	if roles := settings.Roles(); len(roles) > 0 {
		hooks = append(hooks, tlsidentity.RoleMappingHook(roles))
	}
	return tlsidentity.RegistrationHook(
		tlsidentity.WithSessionAccessor(tlssession.NewAccessor(settings.Transport.RequireVerifiedChain)),
		tlsidentity.WithExemptions(tlsidentity.ExemptChannelKinds(settings.Transport.ExemptChannelKinds)),
		tlsidentity.WithContextHooks(hooks...),
		tlsidentity.WithLogger(log),
	)
}

// ServerTLSConfig loads the key pair and trust roots of s.
func ServerTLSConfig(s config.SSLSettings) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "load transport key pair")
	}

	caPEM, err := os.ReadFile(s.CAFile)
	if err != nil {
		return nil, errors.Wrap(err, "read transport CA file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, errors.Newf("no certificates found in %s", s.CAFile)
	}

	clientAuth := tls.VerifyClientCertIfGiven
	if s.EnforceClientAuth {
		clientAuth = tls.RequireAndVerifyClientCert
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		RootCAs:      pool,
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Registrar installs services on the node; use it instead of the raw server.
func (n *Node) Registrar() *registrar.Registrar { return n.registrar }

func (n *Node) Registry() *transport.Registry { return n.registry }

func (n *Node) Dispatcher() *transport.Dispatcher { return n.dispatcher }

func (n *Node) Metrics() *transport.Metrics { return n.metrics }

// Server returns the underlying gRPC server.
func (n *Node) Server() *grpc.Server { return n.server }

// Serve marks the node serving and blocks until lis fails or the node stops.
func (n *Node) Serve(lis net.Listener) error {
	n.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	n.log.Info("transport listening",
		logger.String("address", lis.Addr().String()),
		logger.Strings("actions", n.registry.Actions()),
	)
	if err := n.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "serve transport")
	}
	return nil
}

// GracefulStop reports NOT_SERVING and waits for in-flight calls.
func (n *Node) GracefulStop() {
	n.health.Shutdown()
	n.server.GracefulStop()
}

// Stop closes every connection immediately.
func (n *Node) Stop() {
	n.health.Shutdown()
	n.server.Stop()
}
