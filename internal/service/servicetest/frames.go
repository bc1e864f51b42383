package servicetest

import (
	"encoding/json"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const RunID = "run_test"

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// RunFrame is a thread.run.<status> frame for RunID.
func RunFrame(status domain.RunStatus) Frame {
	return Frame{
		Event: "thread.run." + string(status),
		Data:  mustJSON(map[string]any{"id": RunID, "thread_id": "thread_test", "status": status}),
	}
}

// StreamErrorFrame is the upstream's stream-level error frame.
func StreamErrorFrame(message string) Frame {
	return Frame{Event: domain.EventError, Data: mustJSON(map[string]any{"message": message})}
}

// DeltaFrame streams text into message msgID.
func DeltaFrame(msgID, text string) Frame {
	return Frame{
		Event: domain.EventMessageDelta,
		Data: mustJSON(map[string]any{
			"id": msgID,
			"delta": map[string]any{"content": []map[string]any{
				{"index": 0, "type": "text", "text": map[string]any{"value": text}},
			}},
		}),
	}
}

// MessageCompletedFrame completes message msgID with text.
func MessageCompletedFrame(msgID, text string) Frame {
	return Frame{
		Event: domain.EventMessageCompleted,
		Data: mustJSON(map[string]any{
			"id":     msgID,
			"role":   "assistant",
			"status": "completed",
			"content": []map[string]any{
				{"index": 0, "type": "text", "text": map[string]any{"value": text}},
			},
		}),
	}
}

// Call is a scripted function call.
type Call struct {
	ID        string
	Name      string
	Arguments string
	Type      string
}

// RequiresActionFrame asks for the given calls.
func RequiresActionFrame(calls ...Call) Frame {
	return Frame{Event: domain.EventRunRequiresAction, Data: mustJSON(RequiresActionRun(calls...))}
}

// RequiresActionRun is a requires_action run carrying calls.
func RequiresActionRun(calls ...Call) domain.Run {
	toolCalls := make([]domain.ToolCall, 0, len(calls))
	for i, c := range calls {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i+1)
		}
		typ := c.Type
		if typ == "" {
			typ = domain.ToolTypeFunction
		}
		tc := domain.ToolCall{ID: id, Type: typ}
		if typ == domain.ToolTypeFunction {
			tc.Function = &domain.FunctionCall{Name: c.Name, Arguments: c.Arguments}
		}
		toolCalls = append(toolCalls, tc)
	}
	return domain.Run{
		ID:       RunID,
		ThreadID: "thread_test",
		Status:   domain.RunStatusRequiresAction,
		RequiredAction: &domain.RequiredAction{
			Type:              domain.RequiredActionSubmitToolOutputs,
			SubmitToolOutputs: &domain.SubmitToolOutputs{ToolCalls: toolCalls},
		},
	}
}

// FailedFrame is an upstream run failure with message.
func FailedFrame(message string) Frame {
	return Frame{
		Event: "thread.run.failed",
		Data: mustJSON(map[string]any{
			"id":         RunID,
			"status":     "failed",
			"last_error": map[string]any{"code": "server_error", "message": message},
		}),
	}
}

// CompletedScript is a stream that says answer and completes.
func CompletedScript(answer string) Script {
	return Script{Frames: []Frame{
		RunFrame(domain.RunStatusInProgress),
		DeltaFrame("msg_answer", answer),
		MessageCompletedFrame("msg_answer", answer),
		RunFrame(domain.RunStatusCompleted),
	}}
}
