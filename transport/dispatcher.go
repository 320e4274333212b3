package transport

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/observability"
)

const dispatchOp = "transport.dispatch"

// ErrUnknownAction is returned when no handler is registered for an action.
var ErrUnknownAction = errors.New("no handler registered for action")

// ErrHandlerPanic marks a dispatch aborted by a panic in the handler chain.
var ErrHandlerPanic = errors.New("handler panicked")

// PopulateFunc fills a freshly allocated request from the inbound message.
type PopulateFunc func(req Request) error

// Dispatcher routes inbound messages to the live handler of their action.
type Dispatcher struct {
	registry  *Registry
	executors *Executors
	metrics   *Metrics
	log       *logger.Logger
}

// DispatcherOption is a functional option for configuring the Dispatcher
type DispatcherOption func(*Dispatcher)

// WithExecutors sets the executors handlers run on. Defaults to NewExecutors(nil).
func WithExecutors(e *Executors) DispatcherOption {
	return func(d *Dispatcher) {
		d.executors = e
	}
}

// WithMetrics sets the request accounting. Defaults to unregistered metrics.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(l *logger.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = l
	}
}

// NewDispatcher creates a dispatcher resolving handlers from registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      logger.Instance(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.executors == nil {
		d.executors = NewExecutors(nil)
	}
	if d.metrics == nil {
		d.metrics = NewMetrics(nil)
	}
	return d
}

// Dispatch allocates a request for action, populates it and runs the handler on its executor.
// A failure is sent on ch unless the handler already responded, then returned.
// A panic is accounted and sent like a failure, then re-raised.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, populate PopulateFunc, ch Channel) error {
	span, ctx := observability.StartSpan(ctx, dispatchOp,
		tracer.ResourceName(action),
		tracer.Tag("channel.kind", ch.Kind()),
	)
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		perr := errors.Mark(errors.Newf("action %q: %v", action, r), ErrHandlerPanic)
		d.log.Error("panic while dispatching request",
			logger.String("action", action),
			logger.String("channel", ch.ID()),
			logger.Any("panic", r),
		)
		span.Finish(tracer.WithError(perr))
		d.respond(action, ch, perr)
		d.metrics.observe(action, perr)
		panic(r)
	}()

	err := d.dispatch(ctx, action, populate, ch)
	span.Finish(tracer.WithError(err))

	if err != nil {
		d.respond(action, ch, err)
	}
	d.metrics.observe(action, err)
	return err
}

// respond sends err on ch unless something was already sent.
func (d *Dispatcher) respond(action string, ch Channel, err error) {
	if ch.Responded() {
		return
	}
	if sendErr := ch.SendError(err); sendErr != nil {
		d.log.Debug("failed to send error response",
			logger.String("action", action),
			logger.String("channel", ch.ID()),
			logger.Error(sendErr),
		)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, action string, populate PopulateFunc, ch Channel) error {
	h, ok := d.registry.Handler(action)
	if !ok {
		return errors.Wrapf(ErrUnknownAction, "action %q", action)
	}

	req := h.NewRequest()
	if populate != nil {
		if err := populate(req); err != nil {
			return errors.Wrapf(err, "populate request for %q", action)
		}
	}

	return d.executors.Execute(ctx, h.Executor(), h.ForceExecution(), func() error {
		return h.Handle(ctx, req, ch)
	})
}
