package registrar

import (
	"context"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"

	"github.com/alien4cloud/search-guard-ssl/transport"
)

type methodOptions struct {
	executor string
	force    bool
}

// unaryRequest is a decoded unary message together with the rest of the server chain.
type unaryRequest struct {
	transport.BaseRequest
	payload any
	next    grpc.UnaryHandler
}

type unaryHandler struct {
	methodOptions
}

func (h unaryHandler) NewRequest() transport.Request { return &unaryRequest{} }
func (h unaryHandler) Executor() string              { return h.executor }
func (h unaryHandler) ForceExecution() bool          { return h.force }

func (h unaryHandler) Handle(ctx context.Context, req transport.Request, ch transport.Channel) error {
	r := req.(*unaryRequest)
	resp, err := r.next(ctx, r.payload)
	if err != nil {
		return err
	}
	return ch.SendResponse(resp)
}

type streamRequest struct {
	transport.BaseRequest
	srv    any
	stream grpc.ServerStream
}

type streamHandler struct {
	methodOptions
	handler grpc.StreamHandler
}

func (h streamHandler) NewRequest() transport.Request { return &streamRequest{} }
func (h streamHandler) Executor() string              { return h.executor }
func (h streamHandler) ForceExecution() bool          { return h.force }

func (h streamHandler) Handle(ctx context.Context, req transport.Request, ch transport.Channel) error {
	r := req.(*streamRequest)

	wrapped := grpcmiddleware.WrapServerStream(r.stream)
	wrapped.WrappedContext = ctx
	if err := h.handler(r.srv, wrapped); err != nil {
		return err
	}
	return ch.SendResponse(nil)
}
