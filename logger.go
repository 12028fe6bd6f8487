package antonpaar

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger denotes a generic logging interface (satisfied by a zap.SugaredLogger)
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// NullLogger discards all log output
type NullLogger struct{}

// Debugf discards the message
func (l *NullLogger) Debugf(format string, args ...interface{}) {}

// Infof discards the message
func (l *NullLogger) Infof(format string, args ...interface{}) {}

// Warnf discards the message
func (l *NullLogger) Warnf(format string, args ...interface{}) {}

// Errorf discards the message
func (l *NullLogger) Errorf(format string, args ...interface{}) {}

// Fatalf discards the message
func (l *NullLogger) Fatalf(format string, args ...interface{}) {}

// NewDefaultLogger instantiates a console logger, emitting debug output if requested
func NewDefaultLogger(debug bool) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewExample().Sugar()
	}

	return logger.Sugar()
}
