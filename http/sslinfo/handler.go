// Package sslinfo serves the node's SSL information endpoint: what the node sees of the caller's
// TLS session, plus the transport metrics.
package sslinfo

import (
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alien4cloud/search-guard-ssl/common/config"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

const (
	InfoPath    = "/_transport/sslinfo"
	MetricsPath = "/metrics"

	// providerName identifies the TLS implementation in responses.
	providerName = "crypto/tls"
)

// Info is the body of an SSL info response. Fields about the caller are empty when the request
// did not arrive over TLS.
type Info struct {
	Principal               *string  `json:"principal"`
	PeerCertificates        int      `json:"peer_certificates"`
	PeerCertificateSubjects []string `json:"peer_certificate_subjects,omitempty"`
	SSLProtocol             string   `json:"ssl_protocol,omitempty"`
	SSLCipher               string   `json:"ssl_cipher,omitempty"`
	SSLProviderHTTP         string   `json:"ssl_provider_http,omitempty"`
	SSLProviderTransport    string   `json:"ssl_provider_transport,omitempty"`
	IdentityEnforced        bool     `json:"transport_identity_enforced"`
}

type Handler struct {
	settings config.Settings
	gatherer prometheus.Gatherer
}

type Option func(*Handler)

// WithGatherer serves metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func NewHandler(settings config.Settings, opts ...Option) *Handler {
	h := &Handler{settings: settings, gatherer: prometheus.DefaultGatherer}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the endpoints on r. Client mode nodes only expose metrics.
func (h *Handler) Register(r gin.IRoutes) {
	if h.settings.IsNode() {
		r.GET(InfoPath, h.Info)
	}
	r.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// Info reports the caller's TLS session. An unverified client chain is reported through the
// error middleware as a PEER_UNVERIFIED rejection.
func (h *Handler) Info(c *gin.Context) {
	info := Info{IdentityEnforced: h.settings.IdentityEnforced()}
	if h.settings.HTTP.SSL.Enabled {
		info.SSLProviderHTTP = providerName
	}
	if h.settings.Transport.SSL.Enabled {
		info.SSLProviderTransport = providerName
	}

	if c.Request.TLS != nil {
		session, err := tlsidentity.SessionFromConnectionState(c.Request.TLS, true)
		if err != nil {
			_ = c.Error(errors.Wrap(peerUnverified(err), "ssl info"))
			return
		}
		info.SSLProtocol = session.Protocol()
		info.SSLCipher = session.CipherSuite()

		certs := session.PeerCertificates()
		info.PeerCertificates = len(certs)
		for _, cert := range certs {
			info.PeerCertificateSubjects = append(info.PeerCertificateSubjects, cert.SubjectPrincipal())
		}
		if len(certs) > 0 {
			principal := certs[0].SubjectPrincipal()
			info.Principal = &principal
		}
	}

	logger.FromContext(c.Request.Context()).Debug("ssl info served",
		logger.Int("peer_certificates", info.PeerCertificates),
		logger.String("ssl_protocol", info.SSLProtocol),
	)
	c.JSON(http.StatusOK, info)
}

type unverifiedPeer struct{ cause error }

func peerUnverified(cause error) error { return &unverifiedPeer{cause: cause} }

func (e *unverifiedPeer) Error() string {
	return "peer certificate chain not verified: " + e.cause.Error()
}
func (e *unverifiedPeer) ErrorCode() string { return string(tlsidentity.CodePeerUnverified) }
func (e *unverifiedPeer) Unwrap() error     { return e.cause }
