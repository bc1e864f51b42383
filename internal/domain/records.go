package domain

import (
	"encoding/json"
	"time"
)

// Step types reported in StepData.
const (
	StepKindTool    = "tool"
	StepKindMessage = "message"
)

// StepData is the tracker's view of one run step or tool call.
type StepData struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	ParentID  string     `json:"parent_id,omitempty"`
	ShowInput string     `json:"show_input,omitempty"`
	Input     string     `json:"input,omitempty"`
	Output    string     `json:"output,omitempty"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// MessageData is the tracker's view of one message.
type MessageData struct {
	ID      string `json:"id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

// RunRecord is the journal row for a run.
type RunRecord struct {
	RunID         string     `json:"run_id"`
	ThreadID      string     `json:"thread_id"`
	CorrelationID string     `json:"correlation_id"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// EventRecord is the journal row for one emitted event.
type EventRecord struct {
	EventID string          `json:"event_id"`
	RunID   string          `json:"run_id"`
	Seq     int             `json:"seq"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToolCallRecord is the journal row for one executed tool call.
type ToolCallRecord struct {
	ToolCallID string    `json:"tool_call_id"`
	RunID      string    `json:"run_id"`
	ToolName   string    `json:"tool_name"`
	ToolType   string    `json:"tool_type"`
	Arguments  string    `json:"arguments,omitempty"`
	Output     string    `json:"output"`
	IsError    bool      `json:"is_error"`
	CreatedAt  time.Time `json:"created_at"`
}
