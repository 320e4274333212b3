package tlsidentity

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/alien4cloud/search-guard-ssl/transport"
)

// CertificateType tags the encoding of a peer certificate.
type CertificateType string

const CertificateTypeX509 CertificateType = "X.509"

var (
	// ErrHandshakeIncomplete is the cause reported when a session is read before the handshake finished.
	ErrHandshakeIncomplete = errors.New("TLS handshake has not completed")
	// ErrUnverifiedChain is the cause reported when a peer certificate was not verified against a trust root.
	ErrUnverifiedChain = errors.New("peer certificate chain was not verified")
)

// Certificate is one element of the peer chain.
type Certificate interface {
	Type() CertificateType
	SubjectPrincipal() string
}

// X509Certificate adapts an x509 certificate.
type X509Certificate struct {
	Cert *x509.Certificate
}

func (c X509Certificate) Type() CertificateType { return CertificateTypeX509 }

func (c X509Certificate) X509() *x509.Certificate { return c.Cert }

// SubjectPrincipal returns the subject distinguished name in RFC 2253 order, e.g. "CN=node-1,O=acme".
func (c X509Certificate) SubjectPrincipal() string {
	if c.Cert == nil {
		return ""
	}
	return c.Cert.Subject.String()
}

// Session is the read-only view of a negotiated TLS session. It is immutable once the
// handshake completed and may be read by concurrent requests on the same connection.
type Session interface {
	// PeerCertificates returns the chain presented by the peer, leaf first. It may be empty.
	PeerCertificates() []Certificate
	Protocol() string
	CipherSuite() string
}

// SessionAccessor resolves the TLS session of a channel. ok is false when the channel has
// no TLS session; a non-nil error means the peer identity could not be established.
type SessionAccessor interface {
	SessionFor(ch transport.Channel) (session Session, ok bool, err error)
}

// SessionAccessorFunc adapts a function to SessionAccessor.
type SessionAccessorFunc func(ch transport.Channel) (Session, bool, error)

func (f SessionAccessorFunc) SessionFor(ch transport.Channel) (Session, bool, error) {
	return f(ch)
}

var noSessions = SessionAccessorFunc(func(transport.Channel) (Session, bool, error) {
	return nil, false, nil
})

// ConnectionStateFunc extracts the crypto/tls state backing a channel. ok is false when the
// channel is not TLS protected.
type ConnectionStateFunc func(ch transport.Channel) (state *tls.ConnectionState, ok bool)

// ConnectionStateAccessor resolves sessions from crypto/tls connection states.
func ConnectionStateAccessor(stateOf ConnectionStateFunc, requireVerifiedChain bool) SessionAccessor {
	return SessionAccessorFunc(func(ch transport.Channel) (Session, bool, error) {
		state, ok := stateOf(ch)
		if !ok {
			return nil, false, nil
		}
		session, err := SessionFromConnectionState(state, requireVerifiedChain)
		if err != nil {
			return nil, true, err
		}
		return session, true, nil
	})
}

type connectionStateSession struct {
	certs    []Certificate
	protocol string
	cipher   string
}

func (s *connectionStateSession) PeerCertificates() []Certificate { return s.certs }
func (s *connectionStateSession) Protocol() string                { return s.protocol }
func (s *connectionStateSession) CipherSuite() string             { return s.cipher }

// SessionFromConnectionState verifies a crypto/tls connection state and returns its session view.
// requireVerifiedChain rejects peer certificates that were not chained to a trusted root,
// as happens with tls.RequireAnyClientCert.
func SessionFromConnectionState(state *tls.ConnectionState, requireVerifiedChain bool) (Session, error) {
	if state == nil {
		return nil, errors.New("nil TLS connection state")
	}
	if !state.HandshakeComplete {
		return nil, ErrHandshakeIncomplete
	}
	if requireVerifiedChain && len(state.PeerCertificates) > 0 && len(state.VerifiedChains) == 0 {
		return nil, ErrUnverifiedChain
	}

	certs := make([]Certificate, 0, len(state.PeerCertificates))
	for _, c := range state.PeerCertificates {
		certs = append(certs, X509Certificate{Cert: c})
	}

	return &connectionStateSession{
		certs:    certs,
		protocol: ProtocolName(state.Version),
		cipher:   tls.CipherSuiteName(state.CipherSuite),
	}, nil
}

// ProtocolName returns the conventional protocol label, e.g. "TLSv1.3".
func ProtocolName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLSv1"
	case tls.VersionTLS11:
		return "TLSv1.1"
	case tls.VersionTLS12:
		return "TLSv1.2"
	case tls.VersionTLS13:
		return "TLSv1.3"
	default:
		return fmt.Sprintf("0x%04X", version)
	}
}

// x509Chain converts the presented chain. Every element is checked, not only the leaf:
// any element that is not X.509 makes the whole chain unusable.
func x509Chain(certs []Certificate) ([]*x509.Certificate, bool) {
	if len(certs) == 0 {
		return nil, false
	}
	chain := make([]*x509.Certificate, 0, len(certs))
	for _, c := range certs {
		if c == nil || c.Type() != CertificateTypeX509 {
			return nil, false
		}
		xc, ok := c.(interface{ X509() *x509.Certificate })
		if !ok || xc.X509() == nil {
			return nil, false
		}
		chain = append(chain, xc.X509())
	}
	return chain, true
}
