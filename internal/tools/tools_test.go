package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const cid = "0123456789abcdef"

func newBuiltinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	handler := func(ctx context.Context, args map[string]any) (string, error) { return "ok", nil }
	require.NoError(t, r.Register(Definition{Name: "echo"}, handler))
	assert.Error(t, r.Register(Definition{Name: "echo"}, handler))
	assert.Error(t, r.Register(Definition{Name: ""}, handler))
	assert.Error(t, r.Register(Definition{Name: "bad", Parameters: json.RawMessage(`{"type": 12}`)}, handler))
}

func TestParametersForReflectsRequiredFields(t *testing.T) {
	raw, err := ParametersFor[forecastArgs]()
	require.NoError(t, err)

	var schema struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Equal(t, "object", schema.Type)
	assert.ElementsMatch(t, []string{"location", "format", "num_days"}, schema.Required)
	assert.Contains(t, schema.Properties, "num_days")

	raw, err = ParametersFor[timeArgs]()
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"required"`)
}

func TestRegistrySubset(t *testing.T) {
	r := newBuiltinRegistry(t)

	sub, err := r.Subset([]string{"get_current_weather"})
	require.NoError(t, err)
	assert.Equal(t, []string{"get_current_weather"}, sub.Names())
	assert.False(t, sub.Has("get_current_time"))

	all, err := r.Subset(nil)
	require.NoError(t, err)
	assert.Len(t, all.Names(), 3)

	_, err = r.Subset([]string{"nope"})
	assert.True(t, errors.Is(err, ErrFunctionNotFound))
}

func TestRegistryInvoke(t *testing.T) {
	r := newBuiltinRegistry(t)
	out, err := r.Invoke(context.Background(), "get_n_day_weather_forecast", map[string]any{
		"location": "Paris", "format": "celsius", "num_days": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "The weather forecast for the next 3 days in Paris is 20 degrees celsius", out)

	_, err = r.Invoke(context.Background(), "get_current_weather", map[string]any{"location": "Paris"})
	var argErr *ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "Missing required arguments: format", argErr.Reason)
}

func TestExecutorSuccess(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "get_current_weather", `{"location":"Paris","format":"celsius"}`,
		ExecContext{ToolCallID: "call_1", CorrelationID: cid})

	assert.Equal(t, "call_1", out.ToolCallID)
	assert.False(t, out.IsError)
	assert.Equal(t, "The current weather in Paris is 20 degrees celsius", out.Output)
}

func TestExecutorAcceptsDecodedMap(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "get_n_day_weather_forecast",
		map[string]any{"location": "Oslo", "format": "celsius", "num_days": 2},
		ExecContext{ToolCallID: "call_1", CorrelationID: cid})
	assert.False(t, out.IsError, out.Output)
	assert.Contains(t, out.Output, "next 2 days in Oslo")
}

func TestExecutorInvalidJSON(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "get_current_weather", `{"location":`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.True(t, strings.HasPrefix(out.Output, "Error: Invalid JSON arguments:"), out.Output)

	out = e.Execute(context.Background(), "get_current_weather", `[1,2]`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, strings.HasPrefix(out.Output, "Error: Invalid JSON arguments:"), out.Output)
}

func TestExecutorUnknownFunction(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "launch_rocket", `{}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: Function 'launch_rocket' not available (correlation_id: 01234567)", out.Output)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.ToolErrNotFound, out.Err.Kind)
	assert.ErrorIs(t, out.Err, ErrFunctionNotFound)
}

func TestExecutorUnknownFunctionWinsOverBadArguments(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "launch_rocket", `{"target":`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: Function 'launch_rocket' not available (correlation_id: 01234567)", out.Output)
}

func TestExecutorMissingRequiredArgument(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "get_current_weather", `{"location":"Paris"}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: Invalid arguments for function 'get_current_weather': Missing required arguments: format (correlation_id: 01234567)", out.Output)
}

func TestExecutorSchemaViolation(t *testing.T) {
	e := NewExecutor(newBuiltinRegistry(t))
	out := e.Execute(context.Background(), "get_current_weather", `{"location":"Paris","format":"kelvin"}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.True(t, strings.HasPrefix(out.Output, "Error: Invalid arguments for function 'get_current_weather': format"), out.Output)
}

func TestExecutorWarnsOnUnexpectedParameters(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	e := NewExecutor(newBuiltinRegistry(t), WithLogger(zap.New(core)))

	out := e.Execute(context.Background(), "get_current_weather", `{"location":"Paris","format":"celsius","mood":"happy"}`,
		ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.False(t, out.IsError, out.Output)
	require.Equal(t, 1, logs.FilterMessage("unexpected parameters for function").Len())
}

func TestExecutorHandlerErrorAndPanic(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "fails"}, func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("database offline")
	})
	r.MustRegister(Definition{Name: "panics"}, func(ctx context.Context, args map[string]any) (string, error) {
		panic("nil map")
	})
	e := NewExecutor(r)

	out := e.Execute(context.Background(), "fails", "", ExecContext{ToolCallID: "c1", CorrelationID: cid})
	assert.Equal(t, "Error: Function 'fails' execution failed: database offline (correlation_id: 01234567)", out.Output)
	require.NotNil(t, out.Err)
	assert.Equal(t, domain.ToolErrExecution, out.Err.Kind)
	assert.Equal(t, "fails", out.Err.ToolName)
	assert.Equal(t, "c1", out.Err.ToolCallID)
	assert.EqualError(t, out.Err, "tool fails (execution): database offline")

	out = e.Execute(context.Background(), "panics", nil, ExecContext{ToolCallID: "c2", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "c2", out.ToolCallID)
	assert.Equal(t, "Error: Function 'panics' execution failed: nil map (correlation_id: 01234567)", out.Output)
	assert.Equal(t, domain.ToolErrPanic, out.Err.Kind)
}

func TestExecutorTimeoutCancelsHandler(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "slow"}, func(ctx context.Context, args map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	e := NewExecutor(r, WithTimeout(10*time.Millisecond))

	out := e.Execute(context.Background(), "slow", `{}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: Function 'slow' execution failed: context deadline exceeded (correlation_id: 01234567)", out.Output)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

type stubPolicy struct {
	decision string
	err      error
	input    map[string]any
}

func (p *stubPolicy) Evaluate(ctx context.Context, input map[string]any) (string, string, error) {
	p.input = input
	return p.decision, "not today", p.err
}

func TestExecutorPolicyGate(t *testing.T) {
	p := &stubPolicy{decision: "block"}
	e := NewExecutor(newBuiltinRegistry(t), WithPolicy(p))

	out := e.Execute(context.Background(), "get_current_time", `{}`, ExecContext{ToolCallID: "c", RunID: "run_1", CorrelationID: cid})
	assert.True(t, out.IsError)
	assert.Equal(t, "Error: Function 'get_current_time' blocked by policy: not today (correlation_id: 01234567)", out.Output)
	assert.Equal(t, domain.ToolErrPolicy, out.Err.Kind)
	assert.Equal(t, "run_1", p.input["run_id"])

	p.decision = "allow"
	out = e.Execute(context.Background(), "get_current_time", `{}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.False(t, out.IsError, out.Output)

	p.err = errors.New("opa down")
	out = e.Execute(context.Background(), "get_current_time", `{}`, ExecContext{ToolCallID: "c", CorrelationID: cid})
	assert.True(t, out.IsError)
}
