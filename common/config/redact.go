package config

import (
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// sensitiveKeys matches settings that must never be logged or exposed.
var sensitiveKeys = regexp.MustCompile(`^(transport|http)\.ssl\.`)

// Redact returns a copy of the flattened settings without TLS material locations and options.
func Redact(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		if sensitiveKeys.MatchString(strings.ToLower(k)) {
			continue
		}
		out[k] = v
	}
	return out
}

// RedactedSettings flattens the effective settings held by v and redacts them.
func RedactedSettings(v *viper.Viper) map[string]any {
	flat := make(map[string]any, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		flat[key] = v.Get(key)
	}
	return Redact(flat)
}
