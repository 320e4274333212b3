package tlsidentity

import (
	"github.com/alien4cloud/search-guard-ssl/transport"
)

// RegistrationHook returns the hook that installs an Interceptor around every handler
// registered with a transport.Registry. Re-registering an already wrapped handler wraps
// its inner handler again instead of stacking decorators.
func RegistrationHook(opts ...Option) transport.RegistrationHook {
	cfg := newSettings(opts...)
	return func(action string, h transport.Handler) transport.Handler {
		return newInterceptor(h, action, cfg)
	}
}
