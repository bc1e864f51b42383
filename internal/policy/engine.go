// Package policy evaluates tool calls against an OPA rego policy.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions returned by Evaluate.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Engine is the OPA policy engine.
type Engine struct {
	query   rego.PreparedEvalQuery
	blocked []string
}

// NewEngine prepares policyContent. blocked is exposed to the policy as
// input.blocked_tools.
func NewEngine(ctx context.Context, policyContent string, blocked []string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	if blocked == nil {
		blocked = []string{}
	}
	return &Engine{query: query, blocked: blocked}, nil
}

// NewEngineFromFile loads the policy from path, or DefaultPolicy when path is empty.
func NewEngineFromFile(ctx context.Context, path string, blocked []string) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy: %w", err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content, blocked)
}

// Evaluate checks a tool call. input should carry tool_name and args.
// Returns: decision (allow, block), reason (optional), error
func (e *Engine) Evaluate(ctx context.Context, input map[string]any) (string, string, error) {
	merged := make(map[string]any, len(input)+1)
	for k, v := range input {
		merged[k] = v
	}
	merged["blocked_tools"] = e.blocked

	results, err := e.query.Eval(ctx, rego.EvalInput(merged))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, "default", nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return "", "", fmt.Errorf("unexpected policy result type %T", results[0].Expressions[0].Value)
	}
	decision, _ := doc["decision"].(string)
	reason, _ := doc["reason"].(string)
	if decision == "" {
		decision = DecisionAllow
	}
	return decision, reason, nil
}

// DefaultPolicy allows every tool except those listed in input.blocked_tools.
const DefaultPolicy = `
package tool_policy

default decision = "allow"

decision = "block" {
	input.blocked_tools[_] == input.tool_name
}

reason = "tool is blocked by configuration" {
	decision == "block"
}
`
