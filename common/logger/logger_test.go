package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alien4cloud/search-guard-ssl/common/env"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

func TestContextWithFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := logger.NewLogger(zap.New(core))

	ctx := logger.ContextWithLogger(context.Background(), base)
	ctx = logger.ContextWithFields(ctx, []logger.Field{logger.String("peer_principal", "CN=node-1")})

	logger.FromContext(ctx).Info("accepted")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "accepted", entry.Message)
	assert.Equal(t, "CN=node-1", entry.ContextMap()["peer_principal"])
}

func TestFromContextFallsBackToInstance(t *testing.T) {
	l := logger.FromContext(context.Background())
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.Info("no-op") })
}

func TestInitLogger(t *testing.T) {
	t.Setenv(env.ApplicationEnvKey, "production")
	l, err := logger.InitLogger()
	require.NoError(t, err)
	require.NotNil(t, l.Zap())

	// the custom encoder must only be registered once per process
	_, err = logger.InitLogger()
	require.NoError(t, err)

	t.Setenv(env.ApplicationEnvKey, "unknown")
	_, err = logger.InitLogger()
	require.Error(t, err)
}
