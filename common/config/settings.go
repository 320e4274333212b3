package config

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

// Node modes. Clients only dial out: they serve neither the info endpoint nor verified handlers.
const (
	ModeNode   = "node"
	ModeClient = "client"
)

// SSLSettings configures one TLS endpoint.
type SSLSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
	// EnforceClientAuth rejects handshakes without a client certificate chained to CAFile.
	EnforceClientAuth bool `mapstructure:"enforceClientAuth"`
}

// RoleMapping grants roles to a certificate principal.
type RoleMapping struct {
	Principal string   `mapstructure:"principal"`
	Roles     []string `mapstructure:"roles"`
}

type TransportSettings struct {
	Address string      `mapstructure:"address"`
	SSL     SSLSettings `mapstructure:"ssl"`

	// ExemptChannelKinds lists channel kinds allowed to reach handlers without a TLS session.
	ExemptChannelKinds []string `mapstructure:"exemptChannelKinds"`
	// RequireVerifiedChain treats peer certificates not verified against a trust root as unverified peers.
	RequireVerifiedChain bool `mapstructure:"requireVerifiedChain"`
	// CompanionPluginEnabled hands identity enforcement over to a separate security layer.
	CompanionPluginEnabled bool `mapstructure:"companionPluginEnabled"`

	Executors      map[string]int `mapstructure:"executors"`
	RoleMapping    []RoleMapping  `mapstructure:"roleMapping"`
	RequestTimeout time.Duration  `mapstructure:"requestTimeout"`
}

type HTTPSettings struct {
	Address string      `mapstructure:"address"`
	SSL     SSLSettings `mapstructure:"ssl"`
}

type TracingSettings struct {
	Enabled bool `mapstructure:"enabled"`
}

// Settings is the configuration of a transport node.
type Settings struct {
	ServiceName string            `mapstructure:"serviceName"`
	Mode        string            `mapstructure:"mode"`
	Transport   TransportSettings `mapstructure:"transport"`
	HTTP        HTTPSettings      `mapstructure:"http"`
	Tracing     TracingSettings   `mapstructure:"tracing"`
}

// DefaultSettings returns the values used for keys missing from the config file.
func DefaultSettings() Settings {
	return Settings{
		ServiceName: "search-guard-ssl",
		Mode:        ModeNode,
		Transport: TransportSettings{
			Address:              ":9300",
			SSL:                  SSLSettings{Enabled: true, EnforceClientAuth: true},
			RequireVerifiedChain: true,
			RequestTimeout:       30 * time.Second,
		},
		HTTP: HTTPSettings{
			Address: ":9200",
		},
	}
}

// IsNode reports whether the process runs as a full node.
func (s *Settings) IsNode() bool {
	return s.Mode != ModeClient
}

// IdentityEnforced reports whether inbound handlers must be wrapped with peer identity verification.
func (s *Settings) IdentityEnforced() bool {
	return s.IsNode() && s.Transport.SSL.Enabled && !s.Transport.CompanionPluginEnabled
}

// Roles returns the role mapping keyed by principal.
func (s *Settings) Roles() map[string][]string {
	roles := make(map[string][]string, len(s.Transport.RoleMapping))
	for _, m := range s.Transport.RoleMapping {
		roles[m.Principal] = append(roles[m.Principal], m.Roles...)
	}
	return roles
}

// Validate checks the settings. Running with TLS disabled on both endpoints is allowed but
// logged as an error.
func (s *Settings) Validate(log *logger.Logger) error {
	var errs error

	switch s.Mode {
	case ModeNode, ModeClient:
	default:
		errs = errors.CombineErrors(errs, errors.Newf("unknown mode %q", s.Mode))
	}
	if s.Transport.Address == "" {
		errs = errors.CombineErrors(errs, errors.New("transport.address is required"))
	}
	errs = errors.CombineErrors(errs, s.Transport.SSL.validate("transport.ssl"))
	errs = errors.CombineErrors(errs, s.HTTP.SSL.validate("http.ssl"))

	if !s.Transport.SSL.Enabled && !s.HTTP.SSL.Enabled {
		log.Error("SSL not enabled for http or transport")
	}
	return errs
}

func (s SSLSettings) validate(prefix string) error {
	if !s.Enabled {
		return nil
	}
	var errs error
	for _, f := range []struct{ key, value string }{
		{"certFile", s.CertFile},
		{"keyFile", s.KeyFile},
		{"caFile", s.CAFile},
	} {
		if f.value == "" {
			errs = errors.CombineErrors(errs, errors.Newf("%s.%s is required when %s.enabled is set", prefix, f.key, prefix))
		}
	}
	return errs
}
