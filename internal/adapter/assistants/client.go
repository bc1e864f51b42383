// Package assistants is the HTTP client for the upstream assistants API
// (threads, messages, runs and run steps).
package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const betaHeader = "assistants=v2"

// Client talks to the assistants API. Plain request/response calls go
// through go-openai; streaming run calls are issued directly so the SSE
// frames can be decoded into domain events as they arrive.
type Client struct {
	api        *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// NewClient creates a client. timeout bounds non-streaming calls; streams
// are bounded by their context only.
func NewClient(apiKey, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		api:        openai.NewClientWithConfig(cfg),
		httpClient: &http.Client{},
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		logger:     logger.Named("ASSISTANTS_CLIENT"),
	}
}

// CreateThread creates an empty thread and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", upstreamError("create thread", err)
	}
	return thread.ID, nil
}

// CreateMessage appends a user message to a thread.
func (c *Client) CreateMessage(ctx context.Context, threadID, content string) error {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    "user",
		Content: content,
	})
	if err != nil {
		return upstreamError("create message", err)
	}
	return nil
}

// RetrieveRun fetches the current state of a run.
func (c *Client) RetrieveRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	resp, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, upstreamError("retrieve run", err)
	}
	var run domain.Run
	if err := convert(resp, &run); err != nil {
		return nil, upstreamError("retrieve run", err)
	}
	return &run, nil
}

// ListRunSteps lists the steps of a run in creation order.
func (c *Client) ListRunSteps(ctx context.Context, threadID, runID string) ([]domain.RunStep, error) {
	order := "asc"
	resp, err := c.api.ListRunSteps(ctx, threadID, runID, openai.Pagination{Order: &order})
	if err != nil {
		return nil, upstreamError("list run steps", err)
	}
	var page struct {
		Data []domain.RunStep `json:"data"`
	}
	if err := convert(resp, &page); err != nil {
		return nil, upstreamError("list run steps", err)
	}
	return page.Data, nil
}

// CancelRun asks upstream to cancel a run.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	resp, err := c.api.CancelRun(ctx, threadID, runID)
	if err != nil {
		return nil, upstreamError("cancel run", err)
	}
	var run domain.Run
	if err := convert(resp, &run); err != nil {
		return nil, upstreamError("cancel run", err)
	}
	return &run, nil
}

// CreateRunStream starts a run on a thread and streams its events.
func (c *Client) CreateRunStream(ctx context.Context, threadID, assistantID string) (domain.EventStream, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"stream":       true,
	}
	return c.stream(ctx, "create run", "/threads/"+threadID+"/runs", body)
}

// SubmitToolOutputsStream submits tool outputs and streams the continuation.
func (c *Client) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) (domain.EventStream, error) {
	body := map[string]any{
		"tool_outputs": outputs,
		"stream":       true,
	}
	return c.stream(ctx, "submit tool outputs", "/threads/"+threadID+"/runs/"+runID+"/submit_tool_outputs", body)
}

func (c *Client) stream(ctx context.Context, op, path string, payload any) (domain.EventStream, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("OpenAI-Beta", betaHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &domain.UpstreamError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}

	return newStream(resp.Body, c.logger.With(zap.String("op", op))), nil
}

func errorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func upstreamError(op string, err error) error {
	ue := &domain.UpstreamError{Op: op, Err: err}
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		ue.StatusCode = apiErr.HTTPStatusCode
		ue.Message = apiErr.Message
	case errors.As(err, &reqErr):
		ue.StatusCode = reqErr.HTTPStatusCode
	}
	return ue
}

// convert maps a go-openai response onto the domain type through their
// shared wire format.
func convert(src, dst any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
