package transport

import (
	"slices"
	"sync"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

// RegistrationHook may replace a handler at registration time, e.g. with a decorator.
type RegistrationHook func(action string, h Handler) Handler

// Registry maps action names to their live handler. The last registration for an action wins.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	hooks    []RegistrationHook
	log      *logger.Logger
}

// RegistryOption is a functional option for configuring the Registry
type RegistryOption func(*Registry)

// WithRegistrationHook appends a hook applied, in order, to every registered handler.
func WithRegistrationHook(hook RegistrationHook) RegistryOption {
	return func(r *Registry) {
		if hook != nil {
			r.hooks = append(r.hooks, hook)
		}
	}
}

// WithRegistryLogger sets the logger
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      logger.Instance(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs h for action after passing it through the registration hooks.
// Re-registering an action replaces the previous handler.
func (r *Registry) Register(action string, h Handler) {
	if h == nil {
		r.log.Warn("ignoring nil handler", logger.String("action", action))
		return
	}
	for _, hook := range r.hooks {
		h = hook(action, h)
	}

	r.mu.Lock()
	_, replaced := r.handlers[action]
	r.handlers[action] = h
	r.mu.Unlock()

	if replaced {
		r.log.Debug("replaced handler", logger.String("action", action))
	}
}

// Handler returns the live handler for action.
func (r *Registry) Handler(action string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[action]
	return h, ok
}

// Actions lists registered action names in sorted order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	actions := make([]string, 0, len(r.handlers))
	for a := range r.handlers {
		actions = append(actions, a)
	}
	r.mu.RUnlock()

	slices.Sort(actions)
	return actions
}
