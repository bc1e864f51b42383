package domain

import "strings"

// Run is the upstream run object as carried in run events and REST responses.
type Run struct {
	ID             string          `json:"id"`
	Object         string          `json:"object,omitempty"`
	ThreadID       string          `json:"thread_id"`
	AssistantID    string          `json:"assistant_id,omitempty"`
	Status         RunStatus       `json:"status"`
	RequiredAction *RequiredAction `json:"required_action,omitempty"`
	LastError      *RunError       `json:"last_error,omitempty"`
	CreatedAt      int64           `json:"created_at,omitempty"`
	StartedAt      int64           `json:"started_at,omitempty"`
	CompletedAt    int64           `json:"completed_at,omitempty"`
	FailedAt       int64           `json:"failed_at,omitempty"`
	CancelledAt    int64           `json:"cancelled_at,omitempty"`
	ExpiresAt      int64           `json:"expires_at,omitempty"`
}

// ToolCalls returns the tool calls the run is waiting on, if any.
func (r *Run) ToolCalls() []ToolCall {
	if r == nil || r.RequiredAction == nil || r.RequiredAction.SubmitToolOutputs == nil {
		return nil
	}
	return r.RequiredAction.SubmitToolOutputs.ToolCalls
}

// RequiredAction describes what the run needs before it can continue.
type RequiredAction struct {
	Type              string             `json:"type"`
	SubmitToolOutputs *SubmitToolOutputs `json:"submit_tool_outputs,omitempty"`
}

// SubmitToolOutputs lists the pending tool calls.
type SubmitToolOutputs struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolCall is an upstream tool invocation request.
type ToolCall struct {
	Index    *int          `json:"index,omitempty"`
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

// FunctionCall holds a function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string  `json:"name"`
	Arguments string  `json:"arguments"`
	Output    *string `json:"output,omitempty"`
}

// RunError is the upstream last_error object.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunStep is one unit of work within a run.
type RunStep struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id,omitempty"`
	ThreadID    string      `json:"thread_id,omitempty"`
	Type        string      `json:"type"`
	Status      string      `json:"status,omitempty"`
	StepDetails StepDetails `json:"step_details"`
	CreatedAt   int64       `json:"created_at,omitempty"`
	CompletedAt int64       `json:"completed_at,omitempty"`
	FailedAt    int64       `json:"failed_at,omitempty"`
	CancelledAt int64       `json:"cancelled_at,omitempty"`
	ExpiredAt   int64       `json:"expired_at,omitempty"`
}

// EndedAt returns the unix timestamp at which the step stopped, or 0.
func (s RunStep) EndedAt() int64 {
	for _, ts := range []int64{s.CompletedAt, s.FailedAt, s.CancelledAt, s.ExpiredAt} {
		if ts != 0 {
			return ts
		}
	}
	return 0
}

// StepDetails is the type-specific body of a run step.
type StepDetails struct {
	Type            string           `json:"type"`
	MessageCreation *MessageCreation `json:"message_creation,omitempty"`
	ToolCalls       []ToolCall       `json:"tool_calls,omitempty"`
}

// MessageCreation references the message a step produced.
type MessageCreation struct {
	MessageID string `json:"message_id"`
}

// ThreadMessage is an upstream thread message.
type ThreadMessage struct {
	ID       string         `json:"id"`
	ThreadID string         `json:"thread_id,omitempty"`
	RunID    string         `json:"run_id,omitempty"`
	Role     string         `json:"role"`
	Status   string         `json:"status,omitempty"`
	Content  []ContentBlock `json:"content"`
}

// Text concatenates the text blocks of the message in block order.
func (m ThreadMessage) Text() string {
	return joinText(m.Content, "\n")
}

// ContentBlock is one piece of message content.
type ContentBlock struct {
	Index int          `json:"index"`
	Type  string       `json:"type"`
	Text  *TextContent `json:"text,omitempty"`
}

// TextContent carries a text value.
type TextContent struct {
	Value string `json:"value"`
}

// MessageDeltaBody is the payload of a thread.message.delta event.
type MessageDeltaBody struct {
	ID    string `json:"id"`
	Delta struct {
		Role    string         `json:"role,omitempty"`
		Content []ContentBlock `json:"content"`
	} `json:"delta"`
}

// ToolCallRequest is a normalized pending tool call.
type ToolCallRequest struct {
	ToolCallID string `json:"tool_call_id"`
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
}

// ToolOutput is the result submitted back for one tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	IsError    bool   `json:"-"`
	// Err is set when IsError is.
	Err *ToolExecutionError `json:"-"`
}

// NormalizeToolCalls converts upstream tool calls into requests.
func NormalizeToolCalls(calls []ToolCall) []ToolCallRequest {
	reqs := make([]ToolCallRequest, 0, len(calls))
	for _, tc := range calls {
		req := ToolCallRequest{ToolCallID: tc.ID, Type: tc.Type}
		if req.Type == "" {
			req.Type = ToolTypeFunction
		}
		if tc.Function != nil {
			req.Name = tc.Function.Name
			req.Arguments = tc.Function.Arguments
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func joinText(blocks []ContentBlock, sep string) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Text != nil {
			parts = append(parts, b.Text.Value)
		}
	}
	return strings.Join(parts, sep)
}
