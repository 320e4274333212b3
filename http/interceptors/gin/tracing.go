package gin

import (
	"fmt"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/gin-gonic/gin"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

// TracingMiddleware continues the trace found in the http headers, or starts a new one, and tags the
// span with the route, the response code and the TLS peer once the handlers have run.
// Trace and span ids are added to the context log fields.
func TracingMiddleware(c *gin.Context) {
	// dd-trace-go's gin contrib lacks the route and peer tags added here.
	spanOpts := []tracer.StartSpanOption{
		tracer.Tag(ext.Component, componentName),
		tracer.Tag(ext.SpanType, ext.SpanTypeWeb),
		tracer.Tag(ext.HTTPMethod, c.Request.Method),
		tracer.Tag(ext.HTTPURL, c.Request.URL.String()),
		tracer.Tag(ext.ResourceName, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())),
		tracer.Tag(ext.HTTPRoute, c.FullPath()),
	}
	if c.Request.TLS != nil {
		spanOpts = append(spanOpts, tracer.Tag("tls.protocol", tlsidentity.ProtocolName(c.Request.TLS.Version)))
	}

	sCtx, err := tracer.Extract(tracer.HTTPHeadersCarrier(c.Request.Header))
	if err == nil && sCtx != nil {
		spanOpts = append(spanOpts, tracer.ChildOf(sCtx))
	}

	span, ctx := tracer.StartSpanFromContext(c.Request.Context(), httpHandlerOp, spanOpts...)
	defer span.Finish()

	ctx = logger.ContextWithFields(ctx, logger.WithTrace(span.Context()))
	c.Request = c.Request.WithContext(ctx)
	c.Next()

	span.SetTag(ext.HTTPCode, c.Writer.Status())
	if principal := c.GetString(PeerPrincipalKey); principal != "" {
		span.SetTag("peer.principal", principal)
	}
	if c.Writer.Status() >= 500 {
		span.SetTag(ext.Error, true)
	}
}
