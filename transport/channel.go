package transport

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Channel kinds known to the transport.
const (
	ChannelKindLocal = "local"
	ChannelKindGRPC  = "grpc"
)

// ErrAlreadyResponded is returned when a second response is sent on a channel.
var ErrAlreadyResponded = errors.New("channel already responded")

// Channel is the response path of a single inbound request.
// Once SendResponse or SendError has been called, Responded reports true even if the send failed,
// so a failed error response is never retried by the dispatcher.
type Channel interface {
	ID() string
	// Kind classifies the connection, e.g. local or grpc.
	Kind() string
	SendResponse(resp any) error
	SendError(err error) error
	Responded() bool
}

// LocalChannel serves requests dispatched inside the process.
type LocalChannel struct {
	id string

	mu        sync.Mutex
	responded bool
	response  any
	err       error
}

// NewLocalChannel returns a channel that keeps the response for Result.
func NewLocalChannel() *LocalChannel {
	return &LocalChannel{id: uuid.NewString()}
}

func (c *LocalChannel) ID() string { return c.id }

func (c *LocalChannel) Kind() string { return ChannelKindLocal }

func (c *LocalChannel) SendResponse(resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responded {
		return ErrAlreadyResponded
	}
	c.responded = true
	c.response = resp
	return nil
}

func (c *LocalChannel) SendError(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responded {
		return ErrAlreadyResponded
	}
	c.responded = true
	c.err = err
	return nil
}

func (c *LocalChannel) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// Result returns what was sent on the channel.
func (c *LocalChannel) Result() (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response, c.err
}
