package observability

import (
	"context"
	"testing"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/mocktracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
	"github.com/alien4cloud/search-guard-ssl/common/test"
)

func TestStartSpan_AddsTraceFieldsAndTags(t *testing.T) {
	mt := mocktracer.Start()
	defer mt.Stop()

	log, logs := test.NewObservedLogger(zapcore.InfoLevel)
	ctx := logger.ContextWithLogger(context.Background(), log)

	span, ctx := StartSpan(ctx, "transport.dispatch")
	SetTag(ctx, "peer.principal", "CN=node-1")
	logger.FromContext(ctx).Info("inside")
	span.Finish()

	finished := mt.FinishedSpans()
	require.Len(t, finished, 1)
	assert.Equal(t, "transport.dispatch", finished[0].OperationName())
	assert.Equal(t, "CN=node-1", finished[0].Tag("peer.principal"))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, span.Context().TraceID(), entries[0].ContextMap()[logger.TraceIDKey])
}

func TestSetTag_NoSpan(t *testing.T) {
	assert.NotPanics(t, func() { SetTag(context.Background(), "k", "v") })
}
