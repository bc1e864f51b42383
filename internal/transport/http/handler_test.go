package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	store "github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/service"
	"github.com/xiaot623/gogo/assistant/internal/service/servicetest"
	"github.com/xiaot623/gogo/assistant/internal/tools"
)

func newTestServer(t *testing.T, up *servicetest.FakeUpstream, opts ...service.Option) *echo.Echo {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, tools.RegisterBuiltins(registry))
	metrics := observability.NewMetrics()
	opts = append([]service.Option{service.WithMetrics(metrics)}, opts...)
	engine := service.New(up, tools.NewExecutor(registry), service.Config{
		AssistantID:       "asst_test",
		SubmitBackoffBase: time.Millisecond,
		RunPollInterval:   time.Millisecond,
		RunMaxPolls:       2,
		CancelTimeout:     time.Second,
	}, opts...)
	h := NewHandler(engine, "Hello! How can I help?", SSEConfig{}, metrics, nil)
	return NewServer(h, nil, metrics)
}

func chatRequest(t *testing.T, threadID, message string) *http.Request {
	t.Helper()
	body, err := json.Marshal(ChatRequest{ThreadID: threadID, Message: message})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(string(body)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(correlation.Header, "cid-test-0001")
	return req
}

type sseFrame struct {
	Event string
	ID    string
	Data  string
}

func parseSSE(body string) []sseFrame {
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		var f sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				f.Event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "id: "):
				f.ID = strings.TrimPrefix(line, "id: ")
			case strings.HasPrefix(line, "data: "):
				f.Data = strings.TrimPrefix(line, "data: ")
			}
		}
		if f.Event != "" {
			frames = append(frames, f)
		}
	}
	return frames
}

func TestRoot(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHandler(nil, "", SSEConfig{}, nil, nil)
	require.NoError(t, h.Root(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Assistant Engine is running")
}

func TestHealth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHandler(nil, "", SSEConfig{}, nil, nil)
	require.NoError(t, h.Health(c))

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestStart(t *testing.T) {
	e := newTestServer(t, servicetest.NewFakeUpstream())
	req := httptest.NewRequest(http.MethodGet, "/start", nil)
	req.Header.Set(correlation.Header, "cid-start")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "thread_test", resp.ThreadID)
	assert.Equal(t, "Hello! How can I help?", resp.InitialMessage)
	assert.Equal(t, "cid-start", resp.CorrelationID)
	assert.Equal(t, "cid-start", rec.Header().Get(correlation.Header))
}

func TestChatReturnsResponses(t *testing.T) {
	up := &servicetest.FakeUpstream{ThreadID: "thread_test", RunScript: servicetest.CompletedScript("Hello there")}
	e := newTestServer(t, up)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, chatRequest(t, "t1", "hi"))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Hello there"}, resp.Responses)
}

func TestChatValidation(t *testing.T) {
	e := newTestServer(t, servicetest.NewFakeUpstream())

	tests := []struct {
		name    string
		req     *http.Request
		wantMsg string
	}{
		{"missing thread", chatRequest(t, "", "hi"), "Missing thread_id"},
		{"empty message", chatRequest(t, "t1", "   "), "message"},
		{"bad body", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader("{"))
			r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			return r
		}(), "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
			assert.Contains(t, rec.Body.String(), "correlation_id")
		})
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	up := servicetest.NewFakeUpstream()
	up.CreateMsgErr = &domain.UpstreamError{Op: "create message", StatusCode: http.StatusInternalServerError, Message: "boom"}
	e := newTestServer(t, up)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, chatRequest(t, "t1", "hi"))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Failed to process chat (correlation_id: cid-test)")
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestChatInternalFailure(t *testing.T) {
	up := servicetest.NewFakeUpstream()
	up.CreateMsgErr = errors.New("disk on fire")
	e := newTestServer(t, up)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, chatRequest(t, "t1", "hi"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal server error")
}

func TestChatStreamsEvents(t *testing.T) {
	up := &servicetest.FakeUpstream{ThreadID: "thread_test", RunScript: servicetest.CompletedScript("Hi")}
	e := newTestServer(t, up)
	req := chatRequest(t, "t1", "hi")
	req.Header.Set(echo.HeaderAccept, "text/event-stream")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, "cid-test-0001", rec.Header().Get(correlation.Header))

	frames := parseSSE(rec.Body.String())
	var got []string
	for _, f := range frames {
		got = append(got, f.Event)
	}
	assert.Equal(t, []string{
		domain.EventRunInProgress,
		domain.EventMessageDelta,
		domain.EventMessageCompleted,
		domain.EventRunCompleted,
		domain.EventMetadata,
	}, got)

	assert.Equal(t, "cid-test-0001_thread.run.in_progress_1", frames[0].ID)
	assert.Equal(t, "cid-test-0001_thread.run.completed_4", frames[3].ID)
	assert.Equal(t, "cid-test-0001_metadata", frames[4].ID)
	assert.Contains(t, rec.Body.String(), "retry: 5000")

	var frame domain.Frame
	require.NoError(t, json.Unmarshal([]byte(frames[1].Data), &frame))
	assert.Equal(t, domain.EventMessageDelta, frame.Event)

	var info domain.MetadataInfo
	require.NoError(t, json.Unmarshal([]byte(frames[4].Data), &info))
	assert.Equal(t, "cid-test-0001", info.CorrelationID)
	assert.Equal(t, "t1", info.ThreadID)
}

func TestChatStreamReportsFailure(t *testing.T) {
	up := servicetest.NewFakeUpstream(
		servicetest.RunFrame(domain.RunStatusInProgress),
		servicetest.FailedFrame("model overloaded"),
	)
	e := newTestServer(t, up)
	req := chatRequest(t, "t1", "hi")
	req.Header.Set(echo.HeaderAccept, "text/event-stream")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	frames := parseSSE(rec.Body.String())
	require.Len(t, frames, 3)
	assert.Equal(t, domain.EventRunFailed, frames[1].Event)

	last := frames[2]
	assert.Equal(t, domain.EventError, last.Event)
	assert.Equal(t, "cid-test-0001_error", last.ID)
	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(last.Data), &body))
	assert.Equal(t, "upstream_error", body["error_type"])
	assert.Equal(t, "cid-test-0001", body["correlation_id"])
	assert.Contains(t, body["error"], "model overloaded")
}

func TestRunJournalEndpoints(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	up := servicetest.NewFakeUpstream(
		servicetest.RunFrame(domain.RunStatusQueued),
		servicetest.RequiresActionFrame(servicetest.Call{ID: "call_1", Name: "get_current_weather", Arguments: `{"location":"Paris","format":"celsius"}`}),
	)
	up.SubmitScripts = []servicetest.Script{servicetest.CompletedScript("Sunny in Paris")}
	e := newTestServer(t, up, service.WithStore(s))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, chatRequest(t, "t1", "weather?"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+servicetest.RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var run domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, "cid-test-0001", run.CorrelationID)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+servicetest.RunID+"/events?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Events  []domain.EventRecord `json:"events"`
		HasMore bool                 `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, 1, page.Events[0].Seq)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+servicetest.RunID+"/events?after_seq=2&limit=100", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.NotEmpty(t, page.Events)
	assert.Equal(t, 3, page.Events[0].Seq)
	assert.False(t, page.HasMore)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+servicetest.RunID+"/tool_calls", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var calls struct {
		ToolCalls []domain.ToolCallRecord `json:"tool_calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &calls))
	require.Len(t, calls.ToolCalls, 1)
	assert.Equal(t, "get_current_weather", calls.ToolCalls[0].ToolName)
	assert.False(t, calls.ToolCalls[0].IsError)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run_missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/run_missing/events", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunJournalDisabled(t *testing.T) {
	e := newTestServer(t, servicetest.NewFakeUpstream())
	for _, path := range []string{"/v1/runs/run_1", "/v1/runs/run_1/events", "/v1/runs/run_1/tool_calls"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	up := &servicetest.FakeUpstream{ThreadID: "thread_test", RunScript: servicetest.CompletedScript("ok")}
	e := newTestServer(t, up)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, chatRequest(t, "t1", "hi"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `assistant_runs_total{outcome="completed"} 1`)
}

func TestForwardable(t *testing.T) {
	assert.True(t, forwardable(domain.EventRunCompleted))
	assert.True(t, forwardable(domain.EventMessageDelta))
	assert.True(t, forwardable(domain.EventStepDelta))
	assert.True(t, forwardable(domain.EventMetadata))
	assert.False(t, forwardable(domain.EventThreadCreated))
	assert.False(t, forwardable(domain.EventDone))
}
