package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	"github.com/xiaot623/gogo/assistant/internal/service"
)

// Engine is the run engine as seen by the HTTP handlers.
type Engine interface {
	StartThread(ctx context.Context) (string, error)
	ProcessRun(ctx context.Context, threadID, message string) ([]string, error)
	ProcessRunStream(ctx context.Context, threadID, message string) (*service.RunStream, error)
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	GetRunEvents(ctx context.Context, runID string, afterSeq, limit int) ([]domain.EventRecord, error)
	GetRunToolCalls(ctx context.Context, runID string) ([]domain.ToolCallRecord, error)
}

// SSEConfig controls server-sent event streaming.
type SSEConfig struct {
	Heartbeat time.Duration
	Retry     time.Duration
}

// Handler handles HTTP requests.
type Handler struct {
	engine         Engine
	initialMessage string
	sse            SSEConfig
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine Engine, initialMessage string, sse SSEConfig, metrics *observability.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sse.Heartbeat <= 0 {
		sse.Heartbeat = 15 * time.Second
	}
	if sse.Retry <= 0 {
		sse.Retry = 5 * time.Second
	}
	return &Handler{
		engine:         engine,
		initialMessage: initialMessage,
		sse:            sse,
		metrics:        metrics,
		logger:         logger.Named("HTTP"),
	}
}

// RegisterRoutes registers the HTTP routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	e.GET("/start", h.Start)
	e.POST("/chat", h.Chat)

	// Run journal
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)
	e.GET("/v1/runs/:run_id/tool_calls", h.GetRunToolCalls)
}

// Root reports that the engine is up.
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "Assistant Engine is running"})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

// StartResponse is the body returned by /start.
type StartResponse struct {
	ThreadID       string `json:"thread_id"`
	InitialMessage string `json:"initial_message"`
	CorrelationID  string `json:"correlation_id"`
}

// Start creates a new conversation thread.
// GET /start
func (h *Handler) Start(c echo.Context) error {
	ctx := c.Request().Context()
	threadID, err := h.engine.StartThread(ctx)
	if err != nil {
		return h.errorResponse(c, err, "start thread")
	}
	logging.With(ctx, h.logger).Info("new thread created", zap.String("thread_id", threadID))
	return c.JSON(http.StatusOK, StartResponse{
		ThreadID:       threadID,
		InitialMessage: h.initialMessage,
		CorrelationID:  correlation.FromContext(ctx),
	})
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse is the non-streaming /chat reply.
type ChatResponse struct {
	Responses []string `json:"responses"`
}

// Chat processes a user message. Accept: text/event-stream streams the run;
// anything else waits for completion and returns the responses.
// POST /chat
func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return h.errorResponse(c, &domain.ValidationError{Message: "Invalid request body"}, "chat")
	}
	if req.ThreadID == "" {
		return h.errorResponse(c, &domain.ValidationError{Message: "Missing thread_id"}, "chat")
	}

	ctx := c.Request().Context()
	logger := logging.With(ctx, h.logger).With(zap.String("thread_id", req.ThreadID))

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "text/event-stream") {
		logger.Info("processing streaming chat request", zap.Int("message_length", len(req.Message)))
		rs, err := h.engine.ProcessRunStream(ctx, req.ThreadID, req.Message)
		if err != nil {
			return h.errorResponse(c, err, "process chat")
		}
		return h.streamSSE(c, rs)
	}

	responses, err := h.engine.ProcessRun(ctx, req.ThreadID, req.Message)
	if err != nil {
		return h.errorResponse(c, err, "process chat")
	}
	logger.Debug("chat processing completed", zap.Int("response_count", len(responses)))
	return c.JSON(http.StatusOK, ChatResponse{Responses: responses})
}

// errorResponse maps err onto a status code and a client-safe message
// tagged with the short correlation id.
func (h *Handler) errorResponse(c echo.Context, err error, op string) error {
	ctx := c.Request().Context()
	cid := correlation.Short(correlation.FromContext(ctx))
	logger := logging.With(ctx, h.logger)

	status := http.StatusInternalServerError
	msg := "Internal server error"
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		msg = validation.Error()
		logger.Warn("invalid request", zap.String("op", op), zap.Error(err))
	case domain.IsUpstream(err):
		status = http.StatusBadGateway
		msg = "Failed to " + op
		logger.Error("upstream request failed", zap.String("op", op), zap.Error(err))
	default:
		logger.Error("unexpected error", zap.String("op", op), zap.Error(err))
	}
	return c.JSON(status, map[string]string{"error": fmt.Sprintf("%s (correlation_id: %s)", msg, cid)})
}
