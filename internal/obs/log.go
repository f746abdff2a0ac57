package obs

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// InitLogger builds the shared structured logger. Safe to call more than
// once; only the first call wins.
func InitLogger(level string) *zap.Logger {
	loggerOnce.Do(func() {
		lvl := zapcore.InfoLevel
		if err := lvl.Set(strings.ToLower(level)); err != nil {
			lvl = zapcore.InfoLevel
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		logger = l
	})
	return logger
}

// Logger returns the shared logger, initializing it with defaults when
// InitLogger was never called (tests mostly).
func Logger() *zap.Logger {
	return InitLogger("info")
}
