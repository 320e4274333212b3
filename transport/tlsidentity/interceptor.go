package tlsidentity

import (
	"context"
	"crypto/x509"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/observability"
	"github.com/alien4cloud/search-guard-ssl/transport"
)

// Terminal request states, reported in debug logs.
const (
	stateCompleted      = "COMPLETED"
	stateForwardedError = "FORWARDED_ERROR"
	stateRejected       = "REJECTED"
	stateExempt         = "EXEMPT"
)

// ContextHook derives additional context values from the verified chain before the handler runs.
type ContextHook func(ctx context.Context, action string, req transport.Request, chain []*x509.Certificate) error

// ExemptionPolicy decides whether a channel without a TLS session may still reach its handler.
type ExemptionPolicy interface {
	Exempt(ch transport.Channel) bool
}

// ExemptChannelKinds is an allow-list of channel kinds that may carry no TLS session.
type ExemptChannelKinds []string

func (k ExemptChannelKinds) Exempt(ch transport.Channel) bool {
	return slices.Contains(k, ch.Kind())
}

type settings struct {
	sessions SessionAccessor
	exempt   ExemptionPolicy
	hooks    []ContextHook
	log      *logger.Logger
}

// Option is a functional option for configuring the interceptor
type Option func(*settings)

// WithSessionAccessor sets where TLS sessions are resolved from.
func WithSessionAccessor(a SessionAccessor) Option {
	return func(s *settings) {
		s.sessions = a
	}
}

// WithExemptions sets the policy for channels that carry no TLS session. Without it every such channel is rejected.
func WithExemptions(p ExemptionPolicy) Option {
	return func(s *settings) {
		s.exempt = p
	}
}

// WithContextHooks appends hooks run, in order, after the core identity keys are written.
func WithContextHooks(hooks ...ContextHook) Option {
	return func(s *settings) {
		s.hooks = append(s.hooks, hooks...)
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

func newSettings(opts ...Option) *settings {
	s := &settings{
		sessions: noSessions,
		exempt:   ExemptChannelKinds(nil),
		log:      logger.Instance(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interceptor decorates a handler and only lets requests through whose channel carries a
// TLS session with a verified X.509 client certificate.
type Interceptor struct {
	handler transport.Handler
	action  string
	cfg     *settings
}

var _ transport.Handler = (*Interceptor)(nil)

// NewInterceptor wraps h, registered under action.
func NewInterceptor(h transport.Handler, action string, opts ...Option) *Interceptor {
	return newInterceptor(h, action, newSettings(opts...))
}

func newInterceptor(h transport.Handler, action string, cfg *settings) *Interceptor {
	if inner, ok := h.(*Interceptor); ok {
		h = inner.handler
	}
	return &Interceptor{handler: h, action: action, cfg: cfg}
}

// Unwrap returns the decorated handler.
func (i *Interceptor) Unwrap() transport.Handler { return i.handler }

// Action is the action name the interceptor was registered for.
func (i *Interceptor) Action() string { return i.action }

func (i *Interceptor) NewRequest() transport.Request { return i.handler.NewRequest() }

func (i *Interceptor) Executor() string { return i.handler.Executor() }

func (i *Interceptor) ForceExecution() bool { return i.handler.ForceExecution() }

// Handle verifies the peer, enriches the request context and delegates to the wrapped handler.
// Verification failures are sent on ch and returned; the wrapped handler is not called.
// Errors from the wrapped handler are returned as is.
func (i *Interceptor) Handle(ctx context.Context, req transport.Request, ch transport.Channel) error {
	session, ok, err := i.cfg.sessions.SessionFor(ch)
	if err != nil {
		return i.reject(ch, newAuthenticationError(CodePeerUnverified, i.action, err))
	}

	if !ok {
		if i.cfg.exempt != nil && i.cfg.exempt.Exempt(ch) {
			i.cfg.log.Debug("no TLS session on exempt channel",
				logger.String("action", i.action),
				logger.String("channel_kind", ch.Kind()),
				logger.String("state", stateExempt),
			)
			return i.delegate(ctx, req, ch)
		}
		return i.reject(ch, newAuthenticationError(CodeNoTLSSession, i.action, nil))
	}

	certs := session.PeerCertificates()
	chain, ok := x509Chain(certs)
	if !ok {
		return i.reject(ch, newAuthenticationError(CodeNoClientCertificate, i.action, nil))
	}

	id := transport.PeerIdentity{
		Principal:   certs[0].SubjectPrincipal(),
		Chain:       chain,
		Protocol:    session.Protocol(),
		CipherSuite: session.CipherSuite(),
	}
	if err := req.RequestContext().SetPeerIdentity(id); err != nil {
		return errors.Wrapf(err, "enrich request for action %q", i.action)
	}

	for _, hook := range i.cfg.hooks {
		if err := hook(ctx, i.action, req, chain); err != nil {
			return errors.Wrapf(err, "context hook for action %q", i.action)
		}
	}

	observability.SetTag(ctx, "peer.principal", id.Principal)
	observability.SetTag(ctx, "tls.protocol", id.Protocol)
	observability.SetTag(ctx, "tls.cipher_suite", id.CipherSuite)
	ctx = logger.ContextWithFields(ctx, []logger.Field{logger.String(string(transport.KeyPeerPrincipal), id.Principal)})

	return i.delegate(ctx, req, ch)
}

func (i *Interceptor) delegate(ctx context.Context, req transport.Request, ch transport.Channel) error {
	err := i.handler.Handle(transport.ContextWithRequest(ctx, req), req, ch)

	state := stateCompleted
	if err != nil {
		state = stateForwardedError
	}
	i.cfg.log.Debug("request delegated",
		logger.String("action", i.action),
		logger.String("channel", ch.ID()),
		logger.String("state", state),
	)
	return err
}

func (i *Interceptor) reject(ch transport.Channel, authErr *AuthenticationError) error {
	fields := []logger.Field{
		logger.String("action", i.action),
		logger.String("channel", ch.ID()),
		logger.String("channel_kind", ch.Kind()),
		logger.String("code", authErr.ErrorCode()),
		logger.String("state", stateRejected),
	}

	// peer-unverified mostly means the peer went away mid-handshake
	if authErr.Code == CodePeerUnverified {
		i.cfg.log.Warn(authErr.Message, append(fields, logger.Error(authErr.cause))...)
	} else {
		i.cfg.log.Error(authErr.Message, fields...)
	}

	i.sendError(ch, authErr)
	return authErr
}

// sendError is best effort. A failing channel must not hide the authentication error.
func (i *Interceptor) sendError(ch transport.Channel, authErr error) {
	defer func() {
		if r := recover(); r != nil {
			i.cfg.log.Debug("panic while sending error response",
				logger.String("action", i.action),
				logger.Any("panic", r),
			)
		}
	}()

	if err := ch.SendError(authErr); err != nil {
		i.cfg.log.Debug("failed to send error response",
			logger.String("action", i.action),
			logger.String("channel", ch.ID()),
			logger.Error(err),
		)
	}
}
