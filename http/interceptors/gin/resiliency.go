package gin

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/alien4cloud/search-guard-ssl/common/env"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

type codedError interface {
	ErrorCode() string
}

// ErrorHandlingMiddleware renders the last handler error. Errors carrying a machine code, such as
// peer authentication failures, become 401 responses with that code; anything else is a 500.
func ErrorHandlingMiddleware(c *gin.Context) {
	c.Next()
	if len(c.Errors) == 0 {
		return
	}
	err := c.Errors.Last().Err
	log := logger.FromContext(c.Request.Context())

	var coded codedError
	if errors.As(err, &coded) {
		log.Warn("Rejected gin http request",
			logger.String("path", c.FullPath()),
			logger.String("reason", coded.ErrorCode()),
			logger.Error(err),
		)
		tagSpanAsError(c.Request.Context(), coded.ErrorCode(), err.Error())
		if !c.Writer.Written() {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   coded.ErrorCode(),
				"message": err.Error(),
			})
		}
		return
	}

	log.Error("Error in gin http handler",
		logger.String("path", c.FullPath()),
		logger.Error(err),
	)
	if env.IsLocalApplicationEnv() {
		// pretty print the error to the local console to make it human-readable in case it has a stack trace
		_, _ = fmt.Fprintf(os.Stderr, "Error in gin http handler: %+v\n", err)
	}
	tagSpanAsError(c.Request.Context(), "internal", err.Error())
	if !c.Writer.Written() {
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "internal server error",
		})
	}
}

// PanicRecoveryMiddleware handles panics, logs them appropriately with our logging framework
// and tags the span with the error
func PanicRecoveryMiddleware(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(c.Request.Context()).Error("Recovered from panic in gin http handler", logger.WithPanic(r)...)
			if env.IsLocalApplicationEnv() {
				_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
			}
			tagSpanAsError(c.Request.Context(), "panic", fmt.Sprintf("%v", r))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"message": "internal server error",
			})
		}
	}()
	c.Next()
}

func tagSpanAsError(ctx context.Context, errorType string, errorMsg string) {
	span, ok := tracer.SpanFromContext(ctx)
	if ok {
		span.SetTag(ext.Error, true)
		span.SetTag(ext.ErrorType, errorType)
		span.SetTag(ext.ErrorMsg, errorMsg)
	}
}

// TimeoutMiddleware sets a timeout on the request context
func TimeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
