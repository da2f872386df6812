package types

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerManager is the container-held logger; today it is just a
// Logger, the split keeps room for level reconfiguration at runtime.
type LoggerManager interface {
	Logger
}

// Logger is structured logging over zap fields. ErrorWithErrStack
// extracts a pkg/errors stack trace from err when one is present.
type Logger interface {
	Error(msg string, fields ...zap.Field)
	ErrorWithErrStack(msg string, err error, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Log(lvl zapcore.Level, msg string, fields ...zap.Field)
}

// LoggerCreator builds a custom backend registered by name; the config
// argument is the raw logger section from the service configuration.
type LoggerCreator func(config interface{}) (Logger, error)
