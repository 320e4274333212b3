package logger

import (
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alien4cloud/search-guard-ssl/common/env"
)

const (
	StringJSONEncoderName = "string_json"
	MessageKey            = "message"
)

// Logger is the structured logger shared by the transport packages.
type Logger struct {
	*zap.Logger
}

var (
	registerEncoder sync.Once
	registerErr     error

	instanceMu sync.RWMutex
	instance   *Logger
)

type stringJSONEncoder struct {
	zapcore.Encoder
}

// NewStringJSONEncoder returns an encoder that encodes the JSON log dict as a string
// so the log processing pipeline can correctly process logs with nested JSON.
func NewStringJSONEncoder(cfg zapcore.EncoderConfig) (zapcore.Encoder, error) {
	return &stringJSONEncoder{zapcore.NewJSONEncoder(cfg)}, nil
}

// NewLogger wraps an existing zap logger. A nil logger yields a no-op logger.
func NewLogger(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{Logger: z}
}

// With returns a child logger carrying fields.
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Zap exposes the underlying zap logger for libraries that need it.
func (l *Logger) Zap() *zap.Logger {
	return l.Logger
}

// Instance returns the process-wide logger, a no-op logger until SetInstance is called.
func Instance() *Logger {
	instanceMu.RLock()
	defer instanceMu.RUnlock()
	if instance == nil {
		return NewLogger(nil)
	}
	return instance
}

// SetInstance replaces the process-wide logger.
func SetInstance(l *Logger) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = l
}

// InitLogger builds a zap logger configured for the current environment.
func InitLogger(zapOpts ...zap.Option) (*Logger, error) {
	var (
		config  zap.Config
		options []zap.Option
	)

	currentEnv := os.Getenv(env.ApplicationEnvKey)
	if err := env.IsEnvironmentValid(currentEnv); err != nil {
		return nil, errors.Wrap(err, "invalid environment")
	}

	registerEncoder.Do(func() {
		registerErr = zap.RegisterEncoder(StringJSONEncoderName, NewStringJSONEncoder)
	})
	if registerErr != nil {
		return nil, errors.Wrap(registerErr, "failed to register string JSON encoder")
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:       "timestamp",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    MessageKey,
		StacktraceKey: "stacktrace",
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalLevelEncoder,
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	switch env.Environment(currentEnv) {
	case env.EnvironmentLocal:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.MessageKey = MessageKey
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	case env.EnvironmentLocalDocker, env.EnvironmentDevelopment, env.EnvironmentStaging:
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName

	case env.EnvironmentProduction:
		config = zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig
		config.Encoding = StringJSONEncoderName
		config.Level.SetLevel(zap.InfoLevel)
	}
	options = append(options, zap.AddStacktrace(zap.ErrorLevel))
	options = append(options, zapOpts...)

	z, err := config.Build(options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize logger")
	}

	return NewLogger(z), nil
}
