package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alien4cloud/search-guard-ssl/common/test"
	"github.com/alien4cloud/search-guard-ssl/grpc/health"
	"github.com/alien4cloud/search-guard-ssl/grpc/server"
)

func TestNewServer(t *testing.T) {
	tests := []struct {
		name    string
		opts    []server.Option
		wantErr bool
	}{
		{
			name: "No servers configured",
		},
		{
			name: "Valid HTTP server",
			opts: []server.Option{server.WithHTTPServer("info", ":0", http.NewServeMux())},
		},
		{
			name:    "HTTP server without handler",
			opts:    []server.Option{server.WithHTTPServer("info", ":0", nil)},
			wantErr: true,
		},
		{
			name: "Valid gRPC server",
			opts: []server.Option{server.WithGRPCServer("transport", ":0", grpc.NewServer())},
		},
		{
			name:    "gRPC server missing",
			opts:    []server.Option{server.WithGRPCServer("transport", ":0", nil)},
			wantErr: true,
		},
		{
			name: "Duplicate names",
			opts: []server.Option{
				server.WithHTTPServer("dup", ":0", http.NewServeMux()),
				server.WithGRPCServer("dup", ":0", grpc.NewServer()),
			},
			wantErr: true,
		},
		{
			name: "Duplicate addresses",
			opts: []server.Option{
				server.WithHTTPServer("http1", ":9999", http.NewServeMux()),
				server.WithHTTPServer("http2", ":9999", http.NewServeMux()),
			},
			wantErr: true,
		},
		{
			name: "Ephemeral ports may repeat",
			opts: []server.Option{
				server.WithHTTPServer("http1", "127.0.0.1:0", http.NewServeMux()),
				server.WithHTTPServer("http2", "127.0.0.1:0", http.NewServeMux()),
			},
		},
		{
			name: "With shutdown hook",
			opts: []server.Option{
				server.WithShutdownTimeout(time.Second),
				server.WithShutdownHook(server.ShutdownHook{
					Name: "flush",
					Hook: func(context.Context) error { return nil },
				}),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := server.NewServer(tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServer_ServeErrors(t *testing.T) {
	tests := []struct {
		name string
		opts []server.Option
		want string
	}{
		{name: "No servers", want: "no servers configured"},
		{
			name: "HTTP listener error",
			opts: []server.Option{server.WithHTTPServer("info", "invalid-address", http.NewServeMux())},
			want: "listen http server info",
		},
		{
			name: "gRPC listener error",
			opts: []server.Option{server.WithGRPCServer("transport", "invalid-address", grpc.NewServer())},
			want: "listen grpc server transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, err := server.NewServer(append(tt.opts, server.WithLogger(test.NewLogger(t)))...)
			require.NoError(t, err)
			assert.ErrorContains(t, srv.Serve(), tt.want)
		})
	}
}

func start(t *testing.T, srv *server.Server) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Serve() returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not bind")
	}
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not exit")
		return nil
	}
}

func newTransport() (*grpc.Server, *grpchealth.Server) {
	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return gs, hs
}

func TestServer_ServesHTTPAndGRPC(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "pong")
	})
	gs, _ := newTransport()

	srv, err := server.NewServer(
		server.WithHTTPServer("info", "127.0.0.1:0", mux),
		server.WithGRPCServer("transport", "127.0.0.1:0", gs),
		server.WithSignalHandling(false),
		server.WithLogger(test.NewLogger(t)),
	)
	require.NoError(t, err)
	done := start(t, srv)

	httpAddr, ok := srv.Addr("info")
	require.True(t, ok)
	resp, err := http.Get("http://" + httpAddr.String() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	grpcAddr, ok := srv.Addr("transport")
	require.True(t, ok)
	checker, err := health.NewHealthChecker(health.WithTarget(grpcAddr.String()))
	require.NoError(t, err)
	defer checker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := checker.Check(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	require.NoError(t, srv.Stop())
	assert.NoError(t, wait(t, done))
}

func TestServer_GracefulShutdownRunsHooksInOrder(t *testing.T) {
	var order []string
	hook := func(name string) server.ShutdownHook {
		return server.ShutdownHook{Name: name, Hook: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}
	second, first := hook("second"), hook("first")
	second.Priority, first.Priority = 2, 1

	srv, err := server.NewServer(
		server.WithHTTPServer("info", "127.0.0.1:0", http.NewServeMux()),
		server.WithShutdownHook(second),
		server.WithShutdownHook(first),
		server.WithShutdownTimeout(time.Second),
		server.WithSignalHandling(false),
		server.WithLogger(test.NewLogger(t)),
	)
	require.NoError(t, err)
	done := start(t, srv)

	require.NoError(t, srv.GracefulShutdown(context.Background()))
	assert.NoError(t, wait(t, done))
	assert.Equal(t, []string{"first", "second"}, order)

	// Shutdown is idempotent.
	assert.NoError(t, srv.GracefulShutdown(context.Background()))
	assert.NoError(t, srv.Stop())
}

func TestServer_ExecuteShutdownHooks(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name        string
		hooks       []server.ShutdownHook
		ctx         context.Context
		wantErr     bool
		wantTimeout bool
	}{
		{name: "No hooks", ctx: context.Background()},
		{
			name:  "Successful hook",
			hooks: []server.ShutdownHook{{Name: "ok", Hook: func(context.Context) error { return nil }}},
			ctx:   context.Background(),
		},
		{
			name:    "Hook error",
			hooks:   []server.ShutdownHook{{Name: "bad", Hook: func(context.Context) error { return errors.New("hook error") }}},
			ctx:     context.Background(),
			wantErr: true,
		},
		{
			name: "Hook timeout does not stop later hooks",
			hooks: []server.ShutdownHook{
				{Name: "slow", Priority: 1, Timeout: 50 * time.Millisecond, Hook: func(ctx context.Context) error {
					<-ctx.Done()
					time.Sleep(10 * time.Millisecond)
					return nil
				}},
				{Name: "ok", Priority: 2, Hook: func(context.Context) error { return nil }},
			},
			ctx:     context.Background(),
			wantErr: true,
		},
		{
			name: "Panicking hook",
			hooks: []server.ShutdownHook{{Name: "panic", Hook: func(context.Context) error {
				panic("boom")
			}}},
			ctx:     context.Background(),
			wantErr: true,
		},
		{
			name:        "Overall deadline",
			hooks:       []server.ShutdownHook{{Name: "ok", Hook: func(context.Context) error { return nil }}},
			ctx:         canceled,
			wantErr:     true,
			wantTimeout: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []server.Option{server.WithLogger(test.NewLogger(t))}
			for _, h := range tt.hooks {
				opts = append(opts, server.WithShutdownHook(h))
			}
			srv, err := server.NewServer(opts...)
			require.NoError(t, err)

			err = srv.ExecuteShutdownHooks(tt.ctx)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantTimeout, errors.Is(err, server.ErrShutdownTimeout))
		})
	}
}

func TestServer_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv, err := server.NewServer(
		server.WithShutdownHook(server.ShutdownHook{
			Name:    "stuck",
			Timeout: time.Minute,
			Hook: func(context.Context) error {
				<-release
				return nil
			},
		}),
		server.WithShutdownTimeout(100*time.Millisecond),
		server.WithSignalHandling(false),
		server.WithLogger(test.NewLogger(t)),
	)
	require.NoError(t, err)

	err = srv.GracefulShutdown(context.Background())
	assert.ErrorIs(t, err, server.ErrShutdownTimeout)
}

func TestServer_AutomaticStopOnFailure(t *testing.T) {
	gs, _ := newTransport()
	failing := &failingServer{}
	hookRan := make(chan struct{})

	srv, err := server.NewServer(
		server.WithGRPCServer("transport", "127.0.0.1:0", gs),
		server.WithGRPCServer("broken", "127.0.0.1:0", failing),
		server.WithShutdownHook(server.ShutdownHook{Name: "mark", Hook: func(context.Context) error {
			close(hookRan)
			return nil
		}}),
		server.WithSignalHandling(false),
		server.WithLogger(test.NewLogger(t)),
	)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	assert.ErrorContains(t, wait(t, done), "grpc server broken")
	select {
	case <-hookRan:
	default:
		t.Error("shutdown hooks did not run after failure")
	}
}

func TestServer_SignalHandling(t *testing.T) {
	srv, err := server.NewServer(
		server.WithHTTPServer("info", "127.0.0.1:0", http.NewServeMux()),
		server.WithSignalHandling(true),
		server.WithLogger(test.NewLogger(t)),
	)
	require.NoError(t, err)
	done := start(t, srv)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	assert.NoError(t, wait(t, done))
}

type failingServer struct{}

func (failingServer) Serve(lis net.Listener) error {
	_ = lis.Close()
	return errors.New("accept failed")
}

func (failingServer) GracefulStop() {}

func (failingServer) Stop() {}
