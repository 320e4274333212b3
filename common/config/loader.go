package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/alien4cloud/search-guard-ssl/common/env"
	"github.com/alien4cloud/search-guard-ssl/common/logger"
)

const (
	fileFormat     = ".yaml"        // File format of the config files
	relativePath   = "./cmd/config" // Default relative path for config files (base path)
	binaryPath     = "./config"     // Path for binary build config (base path)
	binaryDir      = "target"       // Directory name for the binary target
	binaryInDocker = "app"          // Directory name for Docker deployment
	envVarPrefix   = "env://"       // Prefix for environment variables
)

// YamlReadConfig holds the configuration paths (relative and absolute).
type YamlReadConfig struct {
	RelativePath string // Path relative to the current directory
	AbsolutePath string // Absolute path if provided
	DynamicDir   string // Optional dynamic directory
}

// ReadConfigOption is a function signature used to set configuration options.
type ReadConfigOption func(*YamlReadConfig)

// WithRelativePath sets a relative path for the config file.
func WithRelativePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.RelativePath = path
	}
}

// WithAbsolutePath sets an absolute path for the config file.
func WithAbsolutePath(path string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.AbsolutePath = path
	}
}

// WithDynamicDir appends a subdirectory to the configuration path.
func WithDynamicDir(dynamicDir string) ReadConfigOption {
	return func(config *YamlReadConfig) {
		config.DynamicDir = dynamicDir
	}
}

// LoadConfig reads <dir>/<environment>.yaml into conf. Values of the form "env://VAR" are
// replaced by the variable, and any key can be overridden by its upper-cased environment
// variable with dots replaced by underscores (transport.address -> TRANSPORT_ADDRESS).
// The returned viper instance holds the effective settings.
func LoadConfig(conf any, log *logger.Logger, options ...ReadConfigOption) (*viper.Viper, error) {
	cfg := &YamlReadConfig{RelativePath: relativePath}
	for _, option := range options {
		option(cfg)
	}

	dir, err := configDir(cfg, log)
	if err != nil {
		return nil, err
	}

	currentEnv, err := env.GetApplicationEnv()
	if err != nil {
		return nil, errors.Wrap(err, "invalid environment")
	}

	filePath := filepath.Join(dir, currentEnv.String()+fileFormat)
	log.Info("Reading config file from path", logger.String("path", filePath))

	v := viper.New()
	v.SetConfigFile(filePath)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "failed to read configuration file")
	}

	for _, key := range v.AllKeys() {
		resolveEnvPlaceholder(v, key, log)
	}

	if err := v.Unmarshal(conf); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}
	return v, nil
}

func configDir(cfg *YamlReadConfig, log *logger.Logger) (string, error) {
	currentDir, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "failed to get current working directory")
	}

	// binaries ship their config next to them
	if strings.Contains(currentDir, binaryDir) || strings.Contains(currentDir, binaryInDocker) {
		cfg.RelativePath = binaryPath
	}

	dir := cfg.RelativePath
	if cfg.AbsolutePath != "" {
		dir = cfg.AbsolutePath
	}
	if cfg.DynamicDir != "" {
		dir = filepath.Join(dir, cfg.DynamicDir)
	}

	log.Debug("Resolved config directory",
		logger.String("working_directory", currentDir),
		logger.String("path", dir),
	)
	return dir, nil
}

func resolveEnvPlaceholder(v *viper.Viper, key string, log *logger.Logger) {
	str, ok := v.Get(key).(string)
	if !ok || !strings.HasPrefix(str, envVarPrefix) {
		return
	}

	envVar := strings.TrimPrefix(str, envVarPrefix)
	if value, exists := os.LookupEnv(envVar); exists {
		v.Set(key, value)
		log.Info("set environment variable", logger.String("variableName", envVar))
		return
	}
	v.Set(key, "")
	log.Warn("environment variable not found", logger.String("variableName", envVar))
}
