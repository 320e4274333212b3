package observability

import (
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

type config struct {
	RuntimeMetrics bool
	DebugStack     bool
	Tags           map[string]any
}

type Option func(o *config)

// WithRuntimeMetrics enables/disables Go runtime metrics pushed to the agent. Default enabled.
func WithRuntimeMetrics(enabled bool) Option {
	return func(c *config) {
		c.RuntimeMetrics = enabled
	}
}

// WithDebugStack enables/disables capture of stack traces when an error is set on a span. Default disabled.
func WithDebugStack(enabled bool) Option {
	return func(c *config) {
		c.DebugStack = enabled
	}
}

// WithGlobalTag adds a tag to every span, e.g. the node mode.
func WithGlobalTag(key string, value any) Option {
	return func(c *config) {
		c.Tags[key] = value
	}
}

// InitObservability starts the Datadog tracer for a transport node and returns the function
// stopping it. A tracer that fails to start is logged, not fatal: the node serves untraced.
func InitObservability(serviceName, env string, log *logger.Logger, opts ...Option) (stop func()) {
	cfg := &config{
		RuntimeMetrics: true,
		Tags:           map[string]any{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	tracerOpts := []tracer.StartOption{
		tracer.WithEnv(env),
		tracer.WithService(serviceName),
		tracer.WithLogger((*logger.Adapter)(log)),
		tracer.WithDebugStack(cfg.DebugStack),
	}
	for k, v := range cfg.Tags {
		tracerOpts = append(tracerOpts, tracer.WithGlobalTag(k, v))
	}
	if cfg.RuntimeMetrics {
		tracerOpts = append(tracerOpts, tracer.WithRuntimeMetrics())
	}

	log.Info("Starting tracer", logger.String("service", serviceName), logger.String("env", env))
	if err := tracer.Start(tracerOpts...); err != nil {
		log.Error("Failed to start tracer", logger.Error(err))
		return func() {}
	}
	return tracer.Stop
}
