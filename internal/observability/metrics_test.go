package observability

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("completed", 2*time.Second)
	m.ToolExecuted("get_current_weather", false, 10*time.Millisecond)
	m.SubmitAttempt(errors.New("boom"))
	m.Cancellation("cancelled")
	m.ConnectionOpened("ws")
	m.EventEmitted("thread.message.delta")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	assert.True(t, strings.Contains(body, `assistant_runs_total{outcome="completed"} 1`), body)
	assert.Contains(t, body, `assistant_tool_executions_total{status="success",tool_name="get_current_weather"} 1`)
	assert.Contains(t, body, `assistant_submit_attempts_total{status="error"} 1`)
	assert.Contains(t, body, `assistant_active_connections{transport="ws"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RunFinished("failed", time.Second)
	m.ToolExecuted("x", true, 0)
	m.ConnectionClosed("sse")
}

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
