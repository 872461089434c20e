package testutil

import (
	"github.com/synchrony-labs/synchrony/global"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewNamedLogger(name string, logLevel ...zapcore.Level) *zap.SugaredLogger {
	lvl := zap.InfoLevel
	if len(logLevel) > 0 {
		lvl = logLevel[0]
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("04:05.00000")
	log, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	log = log.WithOptions(zap.IncreaseLevel(lvl), zap.AddStacktrace(zapcore.FatalLevel))
	return log.Sugar().Named(name)
}

// NewEnvironment test environment with its own metrics registry
func NewEnvironment(name string, logLevel ...zapcore.Level) *global.Global {
	return global.New(NewNamedLogger(name, logLevel...))
}
