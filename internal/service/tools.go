package service

import (
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/tools"
)

// executeTools runs a requires_action batch concurrently. The result holds
// exactly one output per call, in request order.
func (r *runState) executeTools(calls []domain.ToolCallRequest) []domain.ToolOutput {
	outputs := make([]domain.ToolOutput, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			outputs[i] = r.executeTool(call)
			return nil
		})
	}
	_ = g.Wait()

	for i, call := range calls {
		r.journalToolCall(call, outputs[i])
	}
	r.logger.Info("tool batch executed", zap.Int("count", len(calls)))
	return outputs
}

func (r *runState) executeTool(call domain.ToolCallRequest) domain.ToolOutput {
	if call.Type != "" && call.Type != domain.ToolTypeFunction {
		// Hosted tools run upstream; the batch still needs an entry for them.
		return domain.ToolOutput{ToolCallID: call.ToolCallID, Output: call.Type}
	}
	out := r.e.executor.Execute(r.ctx, call.Name, call.Arguments, tools.ExecContext{
		ThreadID:      r.stream.threadID,
		RunID:         r.runID,
		ToolCallID:    call.ToolCallID,
		CorrelationID: r.stream.correlationID,
	})
	out.ToolCallID = call.ToolCallID
	return out
}
