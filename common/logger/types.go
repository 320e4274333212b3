package logger

import (
	"fmt"
	"strconv"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

var (
	Any        = zap.Any
	Bool       = zap.Bool
	ByteString = zap.ByteString
	Duration   = zap.Duration
	Int        = zap.Int
	Int64      = zap.Int64
	String     = zap.String
	Strings    = zap.Strings
	Error      = zap.Error
)

const (
	PanicValueKey = "panic_value"
	TraceIDKey    = "trace_id"
	SpanIDKey     = "span_id"
)

// WithPanic returns the fields used when logging a recovered panic.
func WithPanic(panicValue any) []Field {
	return []Field{
		zap.String(PanicValueKey, fmt.Sprintf("%+v", panicValue)),
		zap.Stack("stack"),
	}
}

// WithTrace returns trace correlation fields for the given span context.
func WithTrace(spanCtx *tracer.SpanContext) []Field {
	if spanCtx == nil {
		return nil
	}
	return []Field{
		zap.String(TraceIDKey, spanCtx.TraceID()),
		zap.String(SpanIDKey, strconv.FormatUint(spanCtx.SpanID(), 10)),
	}
}
