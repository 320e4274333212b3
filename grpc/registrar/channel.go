package registrar

import (
	"context"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/alien4cloud/search-guard-ssl/transport"
)

// ErrorCodeTrailer carries the machine-readable code of transport errors.
const ErrorCodeTrailer = "x-transport-error-code"

// callChannel is the response path of one gRPC call.
type callChannel struct {
	id  string
	ctx context.Context

	mu        sync.Mutex
	responded bool
	response  any
	err       error
}

func newCallChannel(ctx context.Context) *callChannel {
	return &callChannel{id: uuid.NewString(), ctx: ctx}
}

func (c *callChannel) ID() string { return c.id }

func (c *callChannel) Kind() string { return transport.ChannelKindGRPC }

// Context returns the context of the call, which carries the peer and its TLS state.
func (c *callChannel) Context() context.Context { return c.ctx }

func (c *callChannel) SendResponse(resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responded {
		return transport.ErrAlreadyResponded
	}
	c.responded = true
	c.response = resp
	return nil
}

func (c *callChannel) SendError(err error) error {
	c.mu.Lock()
	if c.responded {
		c.mu.Unlock()
		return transport.ErrAlreadyResponded
	}
	c.responded = true
	c.err = err
	c.mu.Unlock()

	var coded interface{ ErrorCode() string }
	if !cerrors.As(err, &coded) {
		return nil
	}
	return grpc.SetTrailer(c.ctx, metadata.Pairs(ErrorCodeTrailer, coded.ErrorCode()))
}

func (c *callChannel) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

func (c *callChannel) result() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response, c.err
}
