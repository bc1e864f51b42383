// Package logging builds the process zap logger and derives request-scoped
// loggers from contexts.
package logging

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
)

// Level is the process-wide log level; it can be changed at runtime.
var Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// New builds a logger writing to stdout. format is "json" or "console".
func New(level, format string) *zap.Logger {
	if err := Level.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		Level.SetLevel(zapcore.InfoLevel)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), Level)
	return zap.New(core, zap.AddCaller())
}

// With attaches the correlation id carried by ctx to logger.
func With(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil {
		logger = zap.L()
	}
	if id := correlation.FromContext(ctx); id != "" {
		return logger.With(zap.String("correlation_id", id))
	}
	return logger
}
