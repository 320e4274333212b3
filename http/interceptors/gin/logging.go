package gin

import (
	"bytes"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/transport/tlsidentity"
)

type loggingCfg struct {
	debug bool
	trace bool
}

type responseWriterCapture struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriterCapture) Write(data []byte) (int, error) {
	w.body.Write(data)
	return w.ResponseWriter.Write(data)
}

// RequestLogging logs one line per request once the handler chain has run. Client errors are
// logged at warn and server errors at error even when debug logging is off, since a 401 from
// the info endpoint is a rejected peer.
func RequestLogging(cfg loggingCfg) gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqBody []byte
		if cfg.trace && c.Request.Body != nil {
			if bodyBytes, err := io.ReadAll(c.Request.Body); err == nil {
				reqBody = bodyBytes
				c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}
		}

		start := time.Now()

		var responseCapture *responseWriterCapture
		if cfg.trace {
			responseCapture = &responseWriterCapture{
				ResponseWriter: c.Writer,
				body:           &bytes.Buffer{},
			}
			c.Writer = responseCapture
		}

		c.Next()

		status := c.Writer.Status()
		logLevel := logger.DebugLevel
		switch {
		case status >= 500:
			logLevel = logger.ErrorLevel
		case status >= 400:
			logLevel = logger.WarnLevel
		case !cfg.debug:
			return
		}

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", status),
			logger.Duration("duration", time.Since(start)),
			logger.String("component", componentName),
			logger.String("client_ip", c.ClientIP()),
		}
		if c.Request.TLS != nil {
			fields = append(fields, logger.String("tls_protocol", tlsidentity.ProtocolName(c.Request.TLS.Version)))
		}
		if cfg.trace {
			fields = append(fields,
				logger.ByteString("request_body", reqBody),
				logger.ByteString("response_body", responseCapture.body.Bytes()),
			)
		}

		// The request context carries the peer fields added further down the chain.
		logger.FromContext(c.Request.Context()).Log(logLevel, "HTTP request handled", fields...)
	}
}
