// Package logging builds the zap loggers used by the launcher and its workers.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger level and encoding.
type Config struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// New builds a logger writing to stderr. Development loggers use the console
// encoder with colored levels; production loggers emit JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// FromConfig builds a logger from a Config.
func FromConfig(c Config) (*zap.Logger, error) {
	return New(c.Level, c.Development)
}

// ForWorker builds the logger a worker process uses. Instance and launch
// fields come from the environment set by the supervisor, when present.
func ForWorker(level string, development bool) *zap.Logger {
	logger, err := New(level, development)
	if err != nil {
		logger = zap.NewNop()
	}
	if instance := os.Getenv(EnvInstance); instance != "" {
		logger = logger.With(zap.String("instance", instance))
	}
	return logger.Named("worker")
}

// Environment variables the supervisor sets on worker processes.
const (
	EnvInstance       = "MODELPOOL_INSTANCE"
	EnvLogLevel       = "MODELPOOL_LOG_LEVEL"
	EnvLogDevelopment = "MODELPOOL_LOG_DEVELOPMENT"
)

// WorkerEnv returns the environment entries that carry the launcher's log
// settings into its workers.
func WorkerEnv(level string, development bool) []string {
	env := []string{EnvLogDevelopment + "=" + strconv.FormatBool(development)}
	if level != "" {
		env = append(env, EnvLogLevel+"="+level)
	}
	return env
}
