package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyAllows(t *testing.T) {
	engine, err := NewEngine(context.Background(), DefaultPolicy, nil)
	require.NoError(t, err)

	decision, _, err := engine.Evaluate(context.Background(), map[string]any{
		"tool_name": "get_current_weather",
		"args":      map[string]any{"location": "Paris"},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestDefaultPolicyBlocksConfiguredTools(t *testing.T) {
	engine, err := NewEngine(context.Background(), DefaultPolicy, []string{"delete_everything"})
	require.NoError(t, err)

	decision, reason, err := engine.Evaluate(context.Background(), map[string]any{"tool_name": "delete_everything"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
	assert.Equal(t, "tool is blocked by configuration", reason)
}

func TestCustomPolicyFromFile(t *testing.T) {
	policy := `
package tool_policy

default decision = "allow"

decision = "block" {
	input.tool_name == "get_n_day_weather_forecast"
	input.args.num_days > 7
}
`
	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte(policy), 0o600))

	engine, err := NewEngineFromFile(context.Background(), path, nil)
	require.NoError(t, err)

	decision, _, err := engine.Evaluate(context.Background(), map[string]any{
		"tool_name": "get_n_day_weather_forecast",
		"args":      map[string]any{"num_days": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)

	decision, _, err = engine.Evaluate(context.Background(), map[string]any{
		"tool_name": "get_n_day_weather_forecast",
		"args":      map[string]any{"num_days": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package tool_policy\n decision = ", nil)
	assert.Error(t, err)
}
