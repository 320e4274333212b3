// Package tlssession resolves the TLS session of gRPC calls for identity verification.
package tlssession

import (
	"context"
	"crypto/tls"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"

	"github.com/alien4cloud/search-guard-ssl/transport"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

// ContextChannel is a channel bound to the context of an inbound call.
type ContextChannel interface {
	transport.Channel
	Context() context.Context
}

// ConnectionState returns the TLS state negotiated with the peer of ctx.
func ConnectionState(ctx context.Context) (*tls.ConnectionState, bool) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return nil, false
	}
	info, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return nil, false
	}
	return &info.State, true
}

// NewAccessor returns a SessionAccessor reading the TLS state from the call context of the
// channel. Channels without a call context, calls without a peer and peers authenticated by
// something other than TLS have no session.
func NewAccessor(requireVerifiedChain bool) tlsidentity.SessionAccessor {
	return tlsidentity.ConnectionStateAccessor(func(ch transport.Channel) (*tls.ConnectionState, bool) {
		cc, ok := ch.(ContextChannel)
		if !ok {
			return nil, false
		}
		return ConnectionState(cc.Context())
	}, requireVerifiedChain)
}
