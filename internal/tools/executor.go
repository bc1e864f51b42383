package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/correlation"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/logging"
	"github.com/xiaot623/gogo/assistant/internal/observability"
)

// ExecContext identifies the tool call being executed.
type ExecContext struct {
	ThreadID      string
	RunID         string
	ToolCallID    string
	CorrelationID string
}

// PolicyChecker decides whether a tool call may run.
type PolicyChecker interface {
	Evaluate(ctx context.Context, input map[string]any) (decision, reason string, err error)
}

// Executor turns tool-call requests into tool outputs. It never returns an
// error: every failure is rendered into the output text.
type Executor struct {
	registry *Registry
	policy   PolicyChecker
	metrics  *observability.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	timeout  time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPolicy gates every call through p.
func WithPolicy(p PolicyChecker) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithMetrics records executions in m.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithTimeout bounds each handler call by cancelling its context after d.
// Handlers that ignore their context run to completion regardless.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// NewExecutor creates an executor over registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		logger:   zap.NewNop(),
		tracer:   observability.Tracer("github.com/xiaot623/gogo/assistant/internal/tools"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("TOOL_EXECUTOR")
	return e
}

// Execute runs one function call. rawArgs may be a JSON string, raw bytes,
// or an already decoded map.
func (e *Executor) Execute(ctx context.Context, name string, rawArgs any, ec ExecContext) (out domain.ToolOutput) {
	start := time.Now()
	out.ToolCallID = ec.ToolCallID
	cid := correlation.Short(ec.CorrelationID)
	logger := logging.With(ctx, e.logger).With(
		zap.String("tool", name),
		zap.String("tool_call_id", ec.ToolCallID),
		zap.String("run_id", ec.RunID),
	)

	ctx, span := e.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", ec.ToolCallID),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("tool handler panicked", zap.Any("panic", r))
			out = errorOutput(ec, name, domain.ToolErrPanic, fmt.Errorf("%v", r),
				fmt.Sprintf("Error: Function '%s' execution failed: %v (correlation_id: %s)", name, r, cid))
		}
		if out.IsError {
			span.SetStatus(codes.Error, out.Output)
		}
		e.metrics.ToolExecuted(name, out.IsError, time.Since(start))
	}()

	if !e.registry.Has(name) {
		logger.Warn("function not available", zap.Strings("available", e.registry.Names()))
		return errorOutput(ec, name, domain.ToolErrNotFound, ErrFunctionNotFound,
			fmt.Sprintf("Error: Function '%s' not available (correlation_id: %s)", name, cid))
	}

	args, err := decodeArguments(rawArgs)
	if err != nil {
		logger.Warn("invalid tool arguments", zap.Error(err))
		return errorOutput(ec, name, domain.ToolErrInvalidArgs, err, fmt.Sprintf("Error: Invalid JSON arguments: %v", err))
	}

	if e.policy != nil {
		decision, reason, err := e.policy.Evaluate(ctx, map[string]any{
			"tool_name": name,
			"args":      args,
			"thread_id": ec.ThreadID,
			"run_id":    ec.RunID,
		})
		if err != nil {
			logger.Error("policy evaluation failed", zap.Error(err))
			return errorOutput(ec, name, domain.ToolErrPolicy, err,
				fmt.Sprintf("Error: Function '%s' blocked by policy: evaluation failed (correlation_id: %s)", name, cid))
		}
		if decision != "allow" {
			logger.Info("tool call blocked by policy", zap.String("decision", decision), zap.String("reason", reason))
			return errorOutput(ec, name, domain.ToolErrPolicy, fmt.Errorf("%s: %s", decision, reason),
				fmt.Sprintf("Error: Function '%s' blocked by policy: %s (correlation_id: %s)", name, reason, cid))
		}
	}

	unexpected, err := e.registry.Validate(name, args)
	if len(unexpected) > 0 {
		logger.Warn("unexpected parameters for function", zap.Strings("params", unexpected))
	}
	if err != nil {
		logger.Warn("invalid arguments for function", zap.Error(err))
		return errorOutput(ec, name, domain.ToolErrInvalidArgs, err,
			fmt.Sprintf("Error: Invalid arguments for function '%s': %v (correlation_id: %s)", name, err, cid))
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	result, err := e.registry.Call(callCtx, name, args)
	if err != nil {
		logger.Error("function execution failed", zap.Error(err))
		return errorOutput(ec, name, domain.ToolErrExecution, err,
			fmt.Sprintf("Error: Function '%s' execution failed: %v (correlation_id: %s)", name, err, cid))
	}

	logger.Debug("function executed", zap.Duration("elapsed", time.Since(start)))
	out.Output = result
	return out
}

// errorOutput renders a failed call as msg and keeps the cause alongside it.
func errorOutput(ec ExecContext, name, kind string, err error, msg string) domain.ToolOutput {
	return domain.ToolOutput{
		ToolCallID: ec.ToolCallID,
		Output:     msg,
		IsError:    true,
		Err:        &domain.ToolExecutionError{ToolName: name, ToolCallID: ec.ToolCallID, Kind: kind, Err: err},
	}
}

// decodeArguments normalizes the accepted argument forms into a JSON object.
// Maps are round-tripped so numbers match what a JSON decoder would produce.
func decodeArguments(raw any) (map[string]any, error) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	default:
		return nil, fmt.Errorf("unsupported argument type %T", raw)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("arguments must be a JSON object, got %s", typeErr.Value)
		}
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
