package registrar_test

import (
	"context"
	"crypto/tls"
	"crypto/x509/pkix"
	"io"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/alien4cloud/search-guard-ssl/common/test"
	grpcerrors "github.com/alien4cloud/search-guard-ssl/grpc/errors"
	"github.com/alien4cloud/search-guard-ssl/grpc/registrar"
	"github.com/alien4cloud/search-guard-ssl/grpc/tlssession"
	"github.com/alien4cloud/search-guard-ssl/transport"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

const (
	echoMethod  = "/test.Echo/Echo"
	countMethod = "/test.Echo/Count"
)

type echoServer interface {
	Echo(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	Count(*wrapperspb.StringValue, grpc.ServerStream) error
}

var echoDesc = grpc.ServiceDesc{
	ServiceName: "test.Echo",
	HandlerType: (*echoServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Echo",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(wrapperspb.StringValue)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return srv.(echoServer).Echo(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: echoMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return srv.(echoServer).Echo(ctx, req.(*wrapperspb.StringValue))
			})
		},
	}},
	Streams: []grpc.StreamDesc{{
		StreamName: "Count",
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(wrapperspb.StringValue)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return srv.(echoServer).Count(in, stream)
		},
		ServerStreams: true,
	}},
}

// principalEcho answers with the verified principal of the caller.
type principalEcho struct{}

func principal(ctx context.Context) string {
	rc, ok := transport.RequestContextFrom(ctx)
	if !ok {
		return "<none>"
	}
	p, _ := rc.PeerPrincipal()
	return p
}

func (principalEcho) Echo(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if in.GetValue() == "fail" {
		return nil, status.Error(codes.FailedPrecondition, "asked to fail")
	}
	return wrapperspb.String(in.GetValue() + " from " + principal(ctx)), nil
}

func (principalEcho) Count(in *wrapperspb.StringValue, stream grpc.ServerStream) error {
	for range 3 {
		if err := stream.SendMsg(wrapperspb.String(principal(stream.Context()))); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	ca      *test.CA
	lis     *bufconn.Listener
	metrics *transport.Metrics
}

func startServer(t *testing.T, creds credentials.TransportCredentials, ca *test.CA) *fixture {
	t.Helper()

	log := test.NewLogger(t)
	registry := transport.NewRegistry(
		transport.WithRegistrationHook(tlsidentity.RegistrationHook(
			tlsidentity.WithSessionAccessor(tlssession.NewAccessor(true)),
			tlsidentity.WithLogger(log),
		)),
		transport.WithRegistryLogger(log),
	)
	metrics := transport.NewMetrics(prometheus.NewRegistry())
	dispatcher := transport.NewDispatcher(registry,
		transport.WithMetrics(metrics),
		transport.WithDispatcherLogger(log),
	)

	var opts []grpc.ServerOption
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}
	srv := grpc.NewServer(opts...)
	reg := registrar.New(srv, registry, dispatcher, registrar.WithLogger(log))
	reg.RegisterService(&echoDesc, principalEcho{})

	assert.Equal(t, []string{countMethod, echoMethod}, registry.Actions())

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return &fixture{ca: ca, lis: lis, metrics: metrics}
}

func (f *fixture) dial(t *testing.T, creds credentials.TransportCredentials) *grpc.ClientConn {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return f.lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(creds),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mTLSServer(t *testing.T) *fixture {
	ca := test.NewCA(t)
	serverCert := ca.Issue(t, pkix.Name{CommonName: "localhost", Organization: []string{"search"}})
	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    ca.Pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
		MinVersion:   tls.VersionTLS12,
	})
	return startServer(t, creds, ca)
}

func clientTLS(f *fixture, certs ...tls.Certificate) credentials.TransportCredentials {
	return credentials.NewTLS(&tls.Config{
		RootCAs:      f.ca.Pool,
		Certificates: certs,
		ServerName:   "localhost",
		MinVersion:   tls.VersionTLS12,
	})
}

func TestRegistrar_VerifiedClient(t *testing.T) {
	f := mTLSServer(t)
	clientCert := f.ca.Issue(t, pkix.Name{CommonName: "node-1", Organization: []string{"search"}})
	conn := f.dial(t, clientTLS(f, clientCert))

	out := new(wrapperspb.StringValue)
	err := conn.Invoke(context.Background(), echoMethod, wrapperspb.String("ping"), out)
	require.NoError(t, err)
	assert.Equal(t, "ping from CN=node-1,O=search", out.GetValue())

	stream, err := conn.NewStream(context.Background(), &echoDesc.Streams[0], countMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(wrapperspb.String("go")))
	require.NoError(t, stream.CloseSend())

	var got []string
	for {
		msg := new(wrapperspb.StringValue)
		if err := stream.RecvMsg(msg); err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, msg.GetValue())
	}
	assert.Equal(t, []string{"CN=node-1,O=search", "CN=node-1,O=search", "CN=node-1,O=search"}, got)

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Requests().WithLabelValues(echoMethod, "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.Requests().WithLabelValues(countMethod, "ok")), 0)
}

func TestRegistrar_ServiceErrorsPassThrough(t *testing.T) {
	f := mTLSServer(t)
	conn := f.dial(t, clientTLS(f, f.ca.Issue(t, pkix.Name{CommonName: "node-1"})))

	err := conn.Invoke(context.Background(), echoMethod, wrapperspb.String("fail"), new(wrapperspb.StringValue))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, "asked to fail", status.Convert(err).Message())
}

func TestRegistrar_ClientWithoutCertificate(t *testing.T) {
	f := mTLSServer(t)
	conn := f.dial(t, clientTLS(f))

	var trailer metadata.MD
	err := conn.Invoke(context.Background(), echoMethod, wrapperspb.String("ping"), new(wrapperspb.StringValue),
		grpc.Trailer(&trailer))

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	reason, ok := grpcerrors.ReasonFromError(err)
	require.True(t, ok)
	assert.Equal(t, string(tlsidentity.CodeNoClientCertificate), reason)
	assert.Equal(t, []string{"NO_CLIENT_CERTIFICATE"}, trailer.Get(registrar.ErrorCodeTrailer))

	assert.InDelta(t, 1,
		testutil.ToFloat64(f.metrics.Requests().WithLabelValues(echoMethod, "NO_CLIENT_CERTIFICATE")), 0)
}

func TestRegistrar_PlaintextServer(t *testing.T) {
	f := startServer(t, nil, nil)
	conn := f.dial(t, insecure.NewCredentials())

	err := conn.Invoke(context.Background(), echoMethod, wrapperspb.String("ping"), new(wrapperspb.StringValue))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	reason, _ := grpcerrors.ReasonFromError(err)
	assert.Equal(t, string(tlsidentity.CodeNoTLSSession), reason)

	stream, err := conn.NewStream(context.Background(), &echoDesc.Streams[0], countMethod)
	require.NoError(t, err)
	require.NoError(t, stream.SendMsg(wrapperspb.String("go")))
	require.NoError(t, stream.CloseSend())
	err = stream.RecvMsg(new(wrapperspb.StringValue))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
