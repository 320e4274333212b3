package transport_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/alien4cloud/search-guard-ssl/common/test"
	"github.com/alien4cloud/search-guard-ssl/transport"
)

func noop(context.Context, transport.Request, transport.Channel) error { return nil }

type tagged struct {
	transport.Handler
	tag string
}

func TestRegistry_HooksRunInOrder(t *testing.T) {
	var seen []string
	hook := func(name string) transport.RegistrationHook {
		return func(action string, h transport.Handler) transport.Handler {
			seen = append(seen, name+":"+action)
			return tagged{Handler: h, tag: name}
		}
	}

	r := transport.NewRegistry(
		transport.WithRegistrationHook(hook("first")),
		transport.WithRegistrationHook(hook("second")),
		transport.WithRegistrationHook(nil),
		transport.WithRegistryLogger(test.NewLogger(t)),
	)
	r.Register("cluster:health", transport.HandlerFunc(noop))

	assert.Equal(t, []string{"first:cluster:health", "second:cluster:health"}, seen)

	h, ok := r.Handler("cluster:health")
	require.True(t, ok)
	outer, ok := h.(tagged)
	require.True(t, ok)
	assert.Equal(t, "second", outer.tag)
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	log, logs := test.NewObservedLogger(zapcore.DebugLevel)
	r := transport.NewRegistry(transport.WithRegistryLogger(log))

	r.Register("a", tagged{Handler: transport.HandlerFunc(noop), tag: "v1"})
	r.Register("a", tagged{Handler: transport.HandlerFunc(noop), tag: "v2"})

	h, ok := r.Handler("a")
	require.True(t, ok)
	assert.Equal(t, "v2", h.(tagged).tag)
	assert.Equal(t, 1, logs.FilterMessage("replaced handler").Len())
}

func TestRegistry_NilHandlerIgnored(t *testing.T) {
	log, logs := test.NewObservedLogger(zapcore.WarnLevel)
	r := transport.NewRegistry(transport.WithRegistryLogger(log))

	r.Register("a", nil)

	_, ok := r.Handler("a")
	assert.False(t, ok)
	assert.Equal(t, 1, logs.Len())
}

func TestRegistry_ActionsSorted(t *testing.T) {
	r := transport.NewRegistry(transport.WithRegistryLogger(test.NewLogger(t)))
	for _, a := range []string{"c", "a", "b"} {
		r.Register(a, transport.HandlerFunc(noop))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Actions())
}
