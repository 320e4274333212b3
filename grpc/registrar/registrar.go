// Package registrar installs gRPC services so that every method is served through a
// transport.Dispatcher, and therefore through the handler hooks of its registry.
package registrar

import (
	"context"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	grpcerrors "github.com/alien4cloud/search-guard-ssl/grpc/errors"
	"github.com/alien4cloud/search-guard-ssl/transport"
)

var healthMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// Registrar implements grpc.ServiceRegistrar on top of a real server.
type Registrar struct {
	server     grpc.ServiceRegistrar
	registry   *transport.Registry
	dispatcher *transport.Dispatcher
	methods    map[string]methodOptions
	log        *logger.Logger
}

var _ grpc.ServiceRegistrar = (*Registrar)(nil)

// Option is a functional option for configuring the Registrar
type Option func(*Registrar)

// WithMethodExecutor runs the given full method, e.g. "/pkg.Service/Method", on executor.
func WithMethodExecutor(method, executor string) Option {
	return func(r *Registrar) {
		opts := r.methods[method]
		opts.executor = executor
		r.methods[method] = opts
	}
}

// WithForceExecution lets the given full methods run on a saturated executor.
func WithForceExecution(methods ...string) Option {
	return func(r *Registrar) {
		for _, m := range methods {
			opts := r.methods[m]
			opts.force = true
			r.methods[m] = opts
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Registrar) {
		r.log = l
	}
}

// New returns a registrar installing services on server. Health checks run forced on the
// management executor unless overridden.
func New(server grpc.ServiceRegistrar, registry *transport.Registry, dispatcher *transport.Dispatcher, opts ...Option) *Registrar {
	r := &Registrar{
		server:     server,
		registry:   registry,
		dispatcher: dispatcher,
		methods:    make(map[string]methodOptions),
		log:        logger.Instance(),
	}
	for _, m := range healthMethods {
		r.methods[m] = methodOptions{executor: transport.ExecutorManagement, force: true}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterService registers every method of desc as a transport handler and installs a
// rewritten descriptor on the server whose handlers dispatch through the registry.
func (r *Registrar) RegisterService(desc *grpc.ServiceDesc, impl any) {
	rewritten := &grpc.ServiceDesc{
		ServiceName: desc.ServiceName,
		HandlerType: desc.HandlerType,
		Metadata:    desc.Metadata,
		Methods:     make([]grpc.MethodDesc, 0, len(desc.Methods)),
		Streams:     make([]grpc.StreamDesc, 0, len(desc.Streams)),
	}

	for _, m := range desc.Methods {
		method := fullMethod(desc.ServiceName, m.MethodName)
		r.registry.Register(method, unaryHandler{methodOptions: r.optionsFor(method)})
		rewritten.Methods = append(rewritten.Methods, grpc.MethodDesc{
			MethodName: m.MethodName,
			Handler:    r.unaryMethod(method, m.Handler),
		})
	}

	for _, s := range desc.Streams {
		method := fullMethod(desc.ServiceName, s.StreamName)
		r.registry.Register(method, streamHandler{methodOptions: r.optionsFor(method), handler: s.Handler})
		rewritten.Streams = append(rewritten.Streams, grpc.StreamDesc{
			StreamName:    s.StreamName,
			Handler:       r.streamMethod(method),
			ServerStreams: s.ServerStreams,
			ClientStreams: s.ClientStreams,
		})
	}

	r.server.RegisterService(rewritten, impl)
	r.log.Debug("registered service",
		logger.String("service", desc.ServiceName),
		logger.Int("methods", len(desc.Methods)),
		logger.Int("streams", len(desc.Streams)),
	)
}

// GetServiceInfo delegates to the underlying server, so reflection can be registered on the registrar.
func (r *Registrar) GetServiceInfo() map[string]grpc.ServiceInfo {
	if p, ok := r.server.(interface {
		GetServiceInfo() map[string]grpc.ServiceInfo
	}); ok {
		return p.GetServiceInfo()
	}
	return nil
}

func (r *Registrar) optionsFor(method string) methodOptions {
	opts := r.methods[method]
	if opts.executor == "" {
		opts.executor = transport.ExecutorGeneric
	}
	return opts
}

// unaryMethod decodes the message and runs the server interceptors first, so that the
// dispatch happens with the interceptors' context (span, logger) right before the service.
func (r *Registrar) unaryMethod(method string, original grpc.MethodHandler) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		dispatch := func(ctx context.Context, payload any, next grpc.UnaryHandler) (any, error) {
			ch := newCallChannel(ctx)
			err := r.dispatcher.Dispatch(ctx, method, func(req transport.Request) error {
				ur := req.(*unaryRequest)
				ur.payload = payload
				ur.next = next
				return nil
			}, ch)
			if err != nil {
				return nil, grpcerrors.FromError(err)
			}
			resp, _ := ch.result()
			return resp, nil
		}

		return original(srv, ctx, dec, func(ctx context.Context, payload any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
			if interceptor == nil {
				return dispatch(ctx, payload, next)
			}
			return interceptor(ctx, payload, info, func(ctx context.Context, payload any) (any, error) {
				return dispatch(ctx, payload, next)
			})
		})
	}
}

func (r *Registrar) streamMethod(method string) grpc.StreamHandler {
	return func(srv any, stream grpc.ServerStream) error {
		ctx := stream.Context()
		ch := newCallChannel(ctx)
		err := r.dispatcher.Dispatch(ctx, method, func(req transport.Request) error {
			sr := req.(*streamRequest)
			sr.srv = srv
			sr.stream = stream
			return nil
		}, ch)
		return grpcerrors.FromError(err)
	}
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}
