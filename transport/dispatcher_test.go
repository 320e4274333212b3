package transport_test

import (
	"context"
	"testing"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/mocktracer"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alien4cloud/search-guard-ssl/common/test"
	"github.com/alien4cloud/search-guard-ssl/transport"
)

type codeErr string

func (e codeErr) Error() string     { return "denied: " + string(e) }
func (e codeErr) ErrorCode() string { return string(e) }

type echoRequest struct {
	transport.BaseRequest
	Body string
}

func newDispatcher(t *testing.T, r *transport.Registry) (*transport.Dispatcher, *transport.Metrics) {
	metrics := transport.NewMetrics(prometheus.NewRegistry())
	d := transport.NewDispatcher(r,
		transport.WithMetrics(metrics),
		transport.WithDispatcherLogger(test.NewLogger(t)),
	)
	return d, metrics
}

type echoHandler struct{}

func (echoHandler) NewRequest() transport.Request { return &echoRequest{} }
func (echoHandler) Executor() string              { return transport.ExecutorGeneric }
func (echoHandler) ForceExecution() bool          { return false }
func (echoHandler) Handle(_ context.Context, req transport.Request, ch transport.Channel) error {
	return ch.SendResponse(req.(*echoRequest).Body)
}

func TestDispatcher_Success(t *testing.T) {
	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("echo", echoHandler{})
	d, metrics := newDispatcher(t, r)

	ch := transport.NewLocalChannel()
	err := d.Dispatch(context.Background(), "echo", func(req transport.Request) error {
		req.(*echoRequest).Body = "hello"
		return nil
	}, ch)
	require.NoError(t, err)

	resp, sendErr := ch.Result()
	assert.Equal(t, "hello", resp)
	assert.NoError(t, sendErr)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("echo", "ok")), 0)
}

func TestDispatcher_UnknownAction(t *testing.T) {
	d, metrics := newDispatcher(t, transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t))))

	ch := transport.NewLocalChannel()
	err := d.Dispatch(context.Background(), "missing", nil, ch)
	assert.ErrorIs(t, err, transport.ErrUnknownAction)

	_, sent := ch.Result()
	assert.ErrorIs(t, sent, transport.ErrUnknownAction)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("missing", "unknown_action")), 0)
}

func TestDispatcher_PopulateFailure(t *testing.T) {
	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("echo", echoHandler{})
	d, _ := newDispatcher(t, r)

	bad := errors.New("truncated frame")
	ch := transport.NewLocalChannel()
	err := d.Dispatch(context.Background(), "echo", func(transport.Request) error { return bad }, ch)
	assert.ErrorIs(t, err, bad)
	assert.True(t, ch.Responded())
}

func TestDispatcher_HandlerErrors(t *testing.T) {
	handlerErr := errors.New("boom")
	denied := codeErr("NO_TLS_SESSION")

	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("fails", transport.HandlerFunc(func(context.Context, transport.Request, transport.Channel) error {
		return handlerErr
	}))
	r.Register("denied", transport.HandlerFunc(func(_ context.Context, _ transport.Request, ch transport.Channel) error {
		_ = ch.SendError(denied)
		return denied
	}))
	d, metrics := newDispatcher(t, r)

	ch := transport.NewLocalChannel()
	err := d.Dispatch(context.Background(), "fails", nil, ch)
	assert.Same(t, handlerErr, err)
	_, sent := ch.Result()
	assert.Same(t, handlerErr, sent)

	ch = transport.NewLocalChannel()
	err = d.Dispatch(context.Background(), "denied", nil, ch)
	assert.Equal(t, denied, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("fails", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("denied", "NO_TLS_SESSION")), 0)
}

func TestDispatcher_RequestReachableFromContext(t *testing.T) {
	var got *transport.RequestContext
	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("a", transport.HandlerFunc(func(ctx context.Context, req transport.Request, _ transport.Channel) error {
		ctx = transport.ContextWithRequest(ctx, req)
		got, _ = transport.RequestContextFrom(ctx)
		return nil
	}))
	d, _ := newDispatcher(t, r)

	require.NoError(t, d.Dispatch(context.Background(), "a", nil, transport.NewLocalChannel()))
	assert.NotNil(t, got)
}

func TestDispatcher_Span(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()

	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("deny", transport.HandlerFunc(func(context.Context, transport.Request, transport.Channel) error {
		return codeErr("NO_TLS_SESSION")
	}))
	d, _ := newDispatcher(t, r)

	require.Error(t, d.Dispatch(context.Background(), "deny", nil, transport.NewLocalChannel()))

	spans := mt.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "transport.dispatch", spans[0].OperationName())
	assert.Equal(t, "deny", spans[0].Tag(ext.ResourceName))
	assert.Equal(t, transport.ChannelKindLocal, spans[0].Tag("channel.kind"))
	assert.NotNil(t, spans[0].Tag(ext.ErrorMsg))
}

func TestDispatcher_HandlerPanic(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()

	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("boom", transport.HandlerFunc(func(context.Context, transport.Request, transport.Channel) error {
		panic("kaboom")
	}))
	d, metrics := newDispatcher(t, r)

	ch := transport.NewLocalChannel()
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = d.Dispatch(context.Background(), "boom", nil, ch)
	})

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("boom", "panic")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.Requests()))

	assert.True(t, ch.Responded())
	_, sent := ch.Result()
	assert.ErrorIs(t, sent, transport.ErrHandlerPanic)

	spans := mt.FinishedSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "transport.dispatch", spans[0].OperationName())
	assert.Equal(t, "boom", spans[0].Tag(ext.ResourceName))
	assert.NotNil(t, spans[0].Tag(ext.ErrorMsg))
}

// brokenChannel fails every error response but still counts as responded.
type brokenChannel struct {
	*transport.LocalChannel
	sends int
}

func (c *brokenChannel) SendError(err error) error {
	c.sends++
	_ = c.LocalChannel.SendError(err)
	return errors.New("connection reset")
}

func TestDispatcher_FailedErrorResponseNotResent(t *testing.T) {
	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	r.Register("deny", transport.HandlerFunc(func(_ context.Context, _ transport.Request, ch transport.Channel) error {
		err := codeErr("NO_TLS_SESSION")
		_ = ch.SendError(err)
		return err
	}))
	d, metrics := newDispatcher(t, r)

	ch := &brokenChannel{LocalChannel: transport.NewLocalChannel()}
	err := d.Dispatch(context.Background(), "deny", nil, ch)
	require.Error(t, err)

	assert.Equal(t, 1, ch.sends)
	assert.True(t, ch.Responded())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Requests().WithLabelValues("deny", "NO_TLS_SESSION")), 0)
}
