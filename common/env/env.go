package env

import (
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// ApplicationEnvKey is the variable the node reads its deployment environment from.
const ApplicationEnvKey = "ENVIRONMENT"

// Environment is the deployment environment of a transport node.
type Environment string

const (
	EnvironmentLocal       Environment = "local"
	EnvironmentLocalDocker Environment = "local-docker"
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

var supported = []Environment{
	EnvironmentLocal,
	EnvironmentLocalDocker,
	EnvironmentDevelopment,
	EnvironmentStaging,
	EnvironmentProduction,
}

func (e Environment) String() string { return string(e) }

// IsEnvironmentValid reports an error naming the accepted values when environment is unknown.
func IsEnvironmentValid(environment string) error {
	if slices.Contains(supported, Environment(environment)) {
		return nil
	}

	names := make([]string, 0, len(supported))
	for _, e := range supported {
		names = append(names, e.String())
	}

	return errors.Newf("invalid environment %q: %s must be one of %s",
		environment, ApplicationEnvKey, strings.Join(names, ", "))
}

// FromString parses environment.
func FromString(environment string) (Environment, error) {
	if err := IsEnvironmentValid(environment); err != nil {
		return "", err
	}
	return Environment(environment), nil
}

// GetApplicationEnv returns the environment from ApplicationEnvKey.
func GetApplicationEnv() (Environment, error) {
	return FromString(os.Getenv(ApplicationEnvKey))
}

// GetApplicationEnvOrDefault returns the configured environment, or defaultEnv when unset or invalid.
func GetApplicationEnvOrDefault(defaultEnv Environment) Environment {
	e, err := GetApplicationEnv()
	if err != nil {
		return defaultEnv
	}
	return e
}

// GetApplicationEnvSafe never fails and falls back to EnvironmentLocal.
func GetApplicationEnvSafe() Environment {
	return GetApplicationEnvOrDefault(EnvironmentLocal)
}

func IsLocalApplicationEnv() bool {
	e := GetApplicationEnvSafe()
	return e == EnvironmentLocal || e == EnvironmentLocalDocker
}
