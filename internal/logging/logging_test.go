package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
)

func TestWithAddsCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	ctx := correlation.WithID(context.Background(), "cid-1")
	With(ctx, logger).Info("hello")

	entries := logs.All()
	assert.Len(t, entries, 1)
	assert.Equal(t, "cid-1", entries[0].ContextMap()["correlation_id"])
}

func TestNewParsesLevel(t *testing.T) {
	New("debug", "json")
	assert.Equal(t, zapcore.DebugLevel, Level.Level())

	New("bogus", "console")
	assert.Equal(t, zapcore.InfoLevel, Level.Level())
}
