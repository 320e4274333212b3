package transport

import (
	"crypto/x509"
	"slices"

	"github.com/cockroachdb/errors"
)

// ContextKey names a value in a RequestContext.
type ContextKey string

// Core identity keys. They are written together by SetPeerIdentity and cannot be set through Put.
const (
	KeyPeerPrincipal        ContextKey = "peer_principal"
	KeyPeerCertificateChain ContextKey = "peer_certificate_chain"
	KeyPeerProtocol         ContextKey = "peer_protocol"
	KeyPeerCipherSuite      ContextKey = "peer_cipher_suite"
)

// ErrReservedKey is returned when Put targets one of the core identity keys.
var ErrReservedKey = errors.New("context key is reserved for the verified peer identity")

var coreKeys = []ContextKey{
	KeyPeerPrincipal,
	KeyPeerCertificateChain,
	KeyPeerProtocol,
	KeyPeerCipherSuite,
}

// PeerIdentity is the verified identity of the remote end of a channel.
type PeerIdentity struct {
	Principal   string
	Chain       []*x509.Certificate // leaf first
	Protocol    string
	CipherSuite string
}

// RequestContext is the per-request value bag read by downstream authorization.
// It belongs to a single in-flight request and is not safe for concurrent use.
type RequestContext struct {
	values map[ContextKey]any
}

// NewRequestContext returns an empty context.
func NewRequestContext() *RequestContext {
	return &RequestContext{values: make(map[ContextKey]any)}
}

// SetPeerIdentity writes the four core keys at once. The chain must not be empty.
func (c *RequestContext) SetPeerIdentity(id PeerIdentity) error {
	if len(id.Chain) == 0 {
		return errors.New("peer identity requires a non-empty certificate chain")
	}
	c.values[KeyPeerPrincipal] = id.Principal
	c.values[KeyPeerCertificateChain] = slices.Clone(id.Chain)
	c.values[KeyPeerProtocol] = id.Protocol
	c.values[KeyPeerCipherSuite] = id.CipherSuite
	return nil
}

// PeerIdentity returns the verified identity if the request was enriched.
func (c *RequestContext) PeerIdentity() (PeerIdentity, bool) {
	chain, ok := c.PeerCertificateChain()
	if !ok {
		return PeerIdentity{}, false
	}
	principal, _ := c.PeerPrincipal()
	protocol, _ := c.PeerProtocol()
	cipher, _ := c.PeerCipherSuite()
	return PeerIdentity{
		Principal:   principal,
		Chain:       chain,
		Protocol:    protocol,
		CipherSuite: cipher,
	}, true
}

func (c *RequestContext) PeerPrincipal() (string, bool) {
	return getString(c, KeyPeerPrincipal)
}

// PeerCertificateChain returns a copy of the peer chain, leaf first.
func (c *RequestContext) PeerCertificateChain() ([]*x509.Certificate, bool) {
	chain, ok := c.values[KeyPeerCertificateChain].([]*x509.Certificate)
	if !ok {
		return nil, false
	}
	return slices.Clone(chain), true
}

func (c *RequestContext) PeerProtocol() (string, bool) {
	return getString(c, KeyPeerProtocol)
}

func (c *RequestContext) PeerCipherSuite() (string, bool) {
	return getString(c, KeyPeerCipherSuite)
}

// Put stores an extension value, e.g. roles derived from the verified chain.
func (c *RequestContext) Put(key ContextKey, value any) error {
	if slices.Contains(coreKeys, key) {
		return errors.Wrapf(ErrReservedKey, "put %q", key)
	}
	c.values[key] = value
	return nil
}

// Get returns the raw value stored under key.
func (c *RequestContext) Get(key ContextKey) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys lists the keys currently set, in no particular order.
func (c *RequestContext) Keys() []ContextKey {
	keys := make([]ContextKey, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

func getString(c *RequestContext, key ContextKey) (string, bool) {
	s, ok := c.values[key].(string)
	return s, ok
}
