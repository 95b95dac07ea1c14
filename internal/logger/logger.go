package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger for the given environment. Development gets
// colored console output; production gets JSON.
func New(environment string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	return config.Build(zap.AddCaller())
}

// NewAt creates a logger for the environment with an explicit minimum
// level, falling back to the environment default when the level string
// does not parse.
func NewAt(environment, level string) (*zap.Logger, error) {
	log, err := New(environment)
	if err != nil {
		return nil, err
	}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return log, nil
	}

	return log.WithOptions(zap.IncreaseLevel(parsed)), nil
}
