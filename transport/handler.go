package transport

import (
	"context"
)

// Request is an inbound message. Each request owns exactly one RequestContext.
type Request interface {
	RequestContext() *RequestContext
}

// BaseRequest can be embedded to satisfy Request.
type BaseRequest struct {
	rc *RequestContext
}

func (r *BaseRequest) RequestContext() *RequestContext {
	if r.rc == nil {
		r.rc = NewRequestContext()
	}
	return r.rc
}

// Handler implements one action.
type Handler interface {
	// NewRequest allocates an empty request before the transport populates it.
	NewRequest() Request
	// Executor names the executor the handler runs on.
	Executor() string
	// ForceExecution lets the handler run even when its executor is saturated.
	ForceExecution() bool
	Handle(ctx context.Context, req Request, ch Channel) error
}

// HandlerFunc adapts a function to Handler with the generic executor.
type HandlerFunc func(ctx context.Context, req Request, ch Channel) error

func (f HandlerFunc) NewRequest() Request { return &BaseRequest{} }

func (f HandlerFunc) Executor() string { return ExecutorGeneric }

func (f HandlerFunc) ForceExecution() bool { return false }

func (f HandlerFunc) Handle(ctx context.Context, req Request, ch Channel) error {
	return f(ctx, req, ch)
}

type requestContextKey struct{}

// ContextWithRequest makes req reachable from ctx for business code further down the call.
func ContextWithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, req)
}

// RequestContextFrom returns the RequestContext of the request carried by ctx.
func RequestContextFrom(ctx context.Context) (*RequestContext, bool) {
	req, ok := ctx.Value(requestContextKey{}).(Request)
	if !ok || req == nil {
		return nil, false
	}
	return req.RequestContext(), true
}
