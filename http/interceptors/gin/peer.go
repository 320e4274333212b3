package gin

import (
	"github.com/gin-gonic/gin"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

// PeerPrincipalKey is the gin context key holding the verified client certificate principal.
const PeerPrincipalKey = "peer_principal"

// LoggerMiddleware stores log in the request context so the handlers and the other middlewares
// log through it.
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(logger.ContextWithLogger(c.Request.Context(), log))
		c.Next()
	}
}

// PeerIdentityMiddleware exposes the principal of a verified client certificate, if any,
// as a gin key and a log field. Requests without one pass through untouched.
func PeerIdentityMiddleware(c *gin.Context) {
	state := c.Request.TLS
	if state == nil || len(state.VerifiedChains) == 0 || len(state.PeerCertificates) == 0 {
		c.Next()
		return
	}

	principal := tlsidentity.X509Certificate{Cert: state.PeerCertificates[0]}.SubjectPrincipal()
	c.Set(PeerPrincipalKey, principal)

	ctx := logger.ContextWithFields(c.Request.Context(), []logger.Field{
		logger.String(PeerPrincipalKey, principal),
	})
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}
