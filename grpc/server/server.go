package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

var (
	ErrNoServers       = errors.New("no servers configured")
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

// Server runs a set of HTTP and gRPC endpoints as one process unit.
type Server struct {
	httpConfigs []HTTPConfig
	grpcConfigs []GRPCConfig
	httpServers []*http.Server

	hooks           ShutdownHooks
	shutdownTimeout time.Duration
	signalHandling  bool
	automaticStop   bool
	log             *logger.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	readyCh  chan struct{}
	mu       sync.RWMutex
	addrs    map[string]net.Addr
	errs     []error
}

// Option is a functional option for configuring the Server
type Option func(*Server)

// WithHTTPServer adds an HTTP endpoint.
func WithHTTPServer(name, address string, handler http.Handler, opts ...HTTPConfigOption) Option {
	return func(s *Server) {
		cfg := HTTPConfig{
			Name:          name,
			Address:       address,
			Handler:       handler,
			ReadTimeout:   DefaultHTTPReadTimeout,
			WriteTimeout:  DefaultHTTPWriteTimeout,
			IdleTimeout:   DefaultHTTPIdleTimeout,
			HeaderTimeout: DefaultHTTPHeaderTimeout,
		}
		for _, opt := range opts {
			opt(&cfg)
		}
		if handler == nil {
			s.errs = append(s.errs, errors.Newf("http server %s: handler is required", name))
			return
		}
		s.httpConfigs = append(s.httpConfigs, cfg)
	}
}

// WithGRPCServer adds a gRPC endpoint. Services must already be registered on srv.
func WithGRPCServer(name, address string, srv GRPCServer) Option {
	return func(s *Server) {
		if srv == nil {
			s.errs = append(s.errs, errors.Newf("grpc server %s: server is required", name))
			return
		}
		s.grpcConfigs = append(s.grpcConfigs, GRPCConfig{Name: name, Address: address, Server: srv})
	}
}

func WithShutdownTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

func WithShutdownHook(hook ShutdownHook) Option {
	return func(s *Server) {
		s.hooks = append(s.hooks, hook)
	}
}

// WithSignalHandling shuts the server down gracefully on SIGINT and SIGTERM. Enabled by default.
func WithSignalHandling(enabled bool) Option {
	return func(s *Server) {
		s.signalHandling = enabled
	}
}

// WithAutomaticStop stops every endpoint once one of them fails. Enabled by default.
func WithAutomaticStop(enabled bool) Option {
	return func(s *Server) {
		s.automaticStop = enabled
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// NewServer validates the endpoints. Names and explicit addresses must be unique.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		shutdownTimeout: DefaultShutdownTimeout,
		signalHandling:  true,
		automaticStop:   true,
		stopCh:          make(chan struct{}),
		readyCh:         make(chan struct{}),
		addrs:           make(map[string]net.Addr),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Instance()
	}

	var errs error
	for _, err := range s.errs {
		errs = errors.CombineErrors(errs, err)
	}
	names := make(map[string]struct{})
	addresses := make(map[string]struct{})
	check := func(name, address string) {
		if _, dup := names[name]; dup {
			errs = errors.CombineErrors(errs, errors.Newf("duplicate server name %q", name))
		}
		names[name] = struct{}{}
		if strings.HasSuffix(address, ":0") {
			return
		}
		if _, dup := addresses[address]; dup {
			errs = errors.CombineErrors(errs, errors.Newf("duplicate server address %q", address))
		}
		addresses[address] = struct{}{}
	}
	for _, c := range s.httpConfigs {
		check(c.Name, c.Address)
	}
	for _, c := range s.grpcConfigs {
		check(c.Name, c.Address)
	}
	if errs != nil {
		return nil, errs
	}

	for _, c := range s.httpConfigs {
		s.httpServers = append(s.httpServers, &http.Server{
			Addr:              c.Address,
			Handler:           c.Handler,
			TLSConfig:         c.TLSConfig,
			ReadTimeout:       c.ReadTimeout,
			WriteTimeout:      c.WriteTimeout,
			IdleTimeout:       c.IdleTimeout,
			ReadHeaderTimeout: c.HeaderTimeout,
		})
	}
	return s, nil
}

// Serve binds every endpoint and blocks until the server is stopped, a signal is handled,
// or, with automatic stop, an endpoint fails.
func (s *Server) Serve() error {
	if len(s.httpConfigs)+len(s.grpcConfigs) == 0 {
		return ErrNoServers
	}
	select {
	case <-s.readyCh:
		return errors.New("server already started")
	default:
	}

	var signals chan os.Signal
	if s.signalHandling {
		signals = make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(signals)
	}

	listeners, err := s.listen()
	if err != nil {
		return err
	}
	close(s.readyCh)

	var g errgroup.Group
	failures := make(chan error, len(listeners))
	run := func(serve func() error) {
		g.Go(func() error {
			err := serve()
			if err != nil {
				failures <- err
			}
			return err
		})
	}

	for i, c := range s.httpConfigs {
		srv, lis, name := s.httpServers[i], listeners[i], c.Name
		s.log.Info("http server listening", logger.String("server", name), logger.String("address", lis.Addr().String()))
		run(func() error {
			var err error
			if srv.TLSConfig != nil {
				err = srv.ServeTLS(lis, "", "")
			} else {
				err = srv.Serve(lis)
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrapf(err, "http server %s", name)
		})
	}
	for i, c := range s.grpcConfigs {
		srv, lis, name := c.Server, listeners[len(s.httpConfigs)+i], c.Name
		s.log.Info("grpc server listening", logger.String("server", name), logger.String("address", lis.Addr().String()))
		run(func() error {
			err := srv.Serve(lis)
			if errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return errors.Wrapf(err, "grpc server %s", name)
		})
	}

	for {
		select {
		case sig := <-signals:
			s.log.Info("shutdown signal received", logger.String("signal", sig.String()))
			shutdownErr := s.GracefulShutdown(context.Background())
			return errors.CombineErrors(g.Wait(), shutdownErr)
		case <-s.stopCh:
			return g.Wait()
		case err := <-failures:
			s.log.Error("server failed", logger.Error(err))
			if !s.automaticStop {
				continue
			}
			if shutdownErr := s.GracefulShutdown(context.Background()); shutdownErr != nil {
				s.log.Error("shutdown after failure", logger.Error(shutdownErr))
			}
			return g.Wait()
		}
	}
}

func (s *Server) listen() ([]net.Listener, error) {
	var listeners []net.Listener
	bind := func(kind, name, address string) error {
		lis, err := net.Listen("tcp", address)
		if err != nil {
			return errors.Wrapf(err, "listen %s server %s on %s", kind, name, address)
		}
		listeners = append(listeners, lis)
		s.mu.Lock()
		s.addrs[name] = lis.Addr()
		s.mu.Unlock()
		return nil
	}

	var err error
	for _, c := range s.httpConfigs {
		if err = bind("http", c.Name, c.Address); err != nil {
			break
		}
	}
	if err == nil {
		for _, c := range s.grpcConfigs {
			if err = bind("grpc", c.Name, c.Address); err != nil {
				break
			}
		}
	}
	if err != nil {
		for _, lis := range listeners {
			_ = lis.Close()
		}
		return nil, err
	}
	return listeners, nil
}

// Ready is closed once every endpoint is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

// Addr returns the bound address of the named endpoint, useful with ":0".
func (s *Server) Addr(name string) (net.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.addrs[name]
	return addr, ok
}

// Stop closes every endpoint immediately without running the shutdown hooks.
func (s *Server) Stop() error {
	var errs error
	s.stopOnce.Do(func() {
		for _, srv := range s.httpServers {
			errs = errors.CombineErrors(errs, srv.Close())
		}
		for _, c := range s.grpcConfigs {
			c.Server.Stop()
		}
		close(s.stopCh)
	})
	return errs
}

// GracefulShutdown drains every endpoint then runs the shutdown hooks, all within the
// shutdown timeout. Endpoints still busy at the deadline are closed.
func (s *Server) GracefulShutdown(ctx context.Context) error {
	var errs error
	s.stopOnce.Do(func() {
		defer close(s.stopCh)

		ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()

		var wg sync.WaitGroup
		var mu sync.Mutex
		for i, srv := range s.httpServers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := srv.Shutdown(ctx); err != nil {
					_ = srv.Close()
					mu.Lock()
					errs = errors.CombineErrors(errs, errors.Wrapf(err, "shutdown http server %s", s.httpConfigs[i].Name))
					mu.Unlock()
				}
			}()
		}
		for _, c := range s.grpcConfigs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				done := make(chan struct{})
				go func() {
					c.Server.GracefulStop()
					close(done)
				}()
				select {
				case <-done:
				case <-ctx.Done():
					c.Server.Stop()
					s.log.Warn("grpc server forced to stop", logger.String("server", c.Name))
				}
			}()
		}
		wg.Wait()

		errs = errors.CombineErrors(errs, s.ExecuteShutdownHooks(ctx))
		if ctx.Err() != nil && !errors.Is(errs, ErrShutdownTimeout) {
			if errs == nil {
				errs = errors.Wrap(ctx.Err(), "graceful shutdown")
			}
			errs = errors.Mark(errs, ErrShutdownTimeout)
		}
		if errs != nil {
			s.log.Error("graceful shutdown finished with errors", logger.Error(errs))
		} else {
			s.log.Info("graceful shutdown complete")
		}
	})
	return errs
}
