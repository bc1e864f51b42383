// Package service drives assistant runs: it posts the user message, follows
// the upstream event stream, executes requested tool calls and submits their
// outputs until the run reaches a terminal state.
package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/config"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/observability"
	store "github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/tools"
)

// Upstream is the subset of the assistants API the engine needs.
type Upstream interface {
	CreateThread(ctx context.Context) (string, error)
	CreateMessage(ctx context.Context, threadID, content string) error
	CreateRunStream(ctx context.Context, threadID, assistantID string) (domain.EventStream, error)
	SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []domain.ToolOutput) (domain.EventStream, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*domain.Run, error)
	ListRunSteps(ctx context.Context, threadID, runID string) ([]domain.RunStep, error)
	CancelRun(ctx context.Context, threadID, runID string) (*domain.Run, error)
}

// ToolExecutor runs one tool call. Implementations must not fail: every
// error is carried in the returned output.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args any, ec tools.ExecContext) domain.ToolOutput
}

// Config holds the engine's run policy.
type Config struct {
	AssistantID       string
	SubmitMaxAttempts int
	SubmitBackoffBase time.Duration
	RunPollInterval   time.Duration
	RunMaxPolls       int
	CancelTimeout     time.Duration
}

// ConfigFrom extracts the engine settings from the process config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		AssistantID:       cfg.Assistant.AssistantID,
		SubmitMaxAttempts: cfg.SubmitMaxAttempts,
		SubmitBackoffBase: cfg.SubmitBackoffBase,
		RunPollInterval:   cfg.RunPollInterval,
		RunMaxPolls:       cfg.RunMaxPolls,
		CancelTimeout:     cfg.CancelTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.SubmitMaxAttempts <= 0 {
		c.SubmitMaxAttempts = 3
	}
	if c.SubmitBackoffBase <= 0 {
		c.SubmitBackoffBase = time.Second
	}
	if c.RunPollInterval <= 0 {
		c.RunPollInterval = time.Second
	}
	if c.RunMaxPolls <= 0 {
		c.RunMaxPolls = 60
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = 10 * time.Second
	}
	return c
}

// Engine is safe for concurrent use; each run keeps its own state.
type Engine struct {
	upstream Upstream
	executor ToolExecutor
	cfg      Config
	store    store.Store
	metrics  *observability.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer

	// backoffNotify observes submission retries; set by tests.
	backoffNotify func(err error, delay time.Duration)
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore journals runs, events and tool calls to s.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine. upstream and executor are required.
func New(upstream Upstream, executor ToolExecutor, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		upstream: upstream,
		executor: executor,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		tracer:   observability.Tracer("assistant/service"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("RUN_ENGINE")
	return e
}

// StartThread creates a new upstream thread.
func (e *Engine) StartThread(ctx context.Context) (string, error) {
	threadID, err := e.upstream.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	e.logger.Info("thread created", zap.String("thread_id", threadID))
	return threadID, nil
}
