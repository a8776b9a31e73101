package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level maps LOG_LEVEL onto a zap level, falling back to def when the
// variable is unset or unrecognised.
func Level(def zapcore.Level) zapcore.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return def
	}
	switch l {
	case "dev", "development", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "production", "prod":
		return zapcore.ErrorLevel
	}
	return def
}

// NewServer returns a JSON logger for the relay server. Default level: info.
func NewServer() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(Level(zapcore.InfoLevel))
	return cfg.Build()
}

// NewCLI returns a console logger on stderr so it does not interleave with
// the interactive screen on stdout. Default level: error.
func NewCLI() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(Level(zapcore.ErrorLevel))
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true
	return cfg.Build()
}
