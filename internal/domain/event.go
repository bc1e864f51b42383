package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Event is a typed run event. The set of implementations is closed:
// RunStatusChanged, MessageEvent, MessageDelta, StepCreated, StepDelta,
// StepCompleted, RequiresAction, RunCompleted, RunFailed, StreamError,
// Metadata and Unknown.
type Event interface {
	// EventName is the wire name, e.g. "thread.message.delta".
	EventName() string
	// Payload is the raw upstream (or synthesized) JSON body.
	Payload() json.RawMessage
	// Seq is the per-run sequence number; zero until emitted.
	Seq() int

	setSeq(int)
}

type envelope struct {
	name string
	raw  json.RawMessage
	seq  int
}

func (e envelope) EventName() string        { return e.name }
func (e envelope) Payload() json.RawMessage { return e.raw }
func (e envelope) Seq() int                 { return e.seq }
func (e *envelope) setSeq(n int)            { e.seq = n }

// SetSeq stamps ev with its position in the run's event sequence.
func SetSeq(ev Event, n int) { ev.setSeq(n) }

// RunStatusChanged reports a non-terminal run transition.
type RunStatusChanged struct {
	envelope
	Run Run
}

// MessageEvent reports a message lifecycle event (created, in_progress, completed, incomplete).
type MessageEvent struct {
	envelope
	Message ThreadMessage
}

// Completed reports whether the message content is final.
func (e *MessageEvent) Completed() bool {
	return e.name == EventMessageCompleted || e.name == EventMessageIncomplete
}

// MessageDelta carries incremental message content.
type MessageDelta struct {
	envelope
	MessageID string
	Blocks    []ContentBlock
}

// Text returns the concatenated text fragments of the delta.
func (e *MessageDelta) Text() string { return joinText(e.Blocks, "") }

// StepCreated reports a new run step.
type StepCreated struct {
	envelope
	Step RunStep
}

// StepDelta reports step progress. Its payload is passed through untouched.
type StepDelta struct {
	envelope
	StepID string
}

// StepCompleted reports a step that stopped (completed, failed, cancelled or expired).
type StepCompleted struct {
	envelope
	Step RunStep
}

// RequiresAction reports that the run is waiting on tool outputs.
type RequiresAction struct {
	envelope
	Run       Run
	ToolCalls []ToolCallRequest
}

// RunCompleted reports successful completion.
type RunCompleted struct {
	envelope
	Run Run
}

// RunFailed is the terminal failure event. It is either decoded from an
// upstream failure or synthesized by the engine.
type RunFailed struct {
	envelope
	RunID     string
	Status    RunStatus
	Message   string
	ErrorType string
}

// Metadata closes a completed run with summary figures.
type Metadata struct {
	envelope
	Info MetadataInfo
}

// MetadataInfo is the body of a metadata event.
type MetadataInfo struct {
	CorrelationID      string  `json:"correlation_id"`
	ThreadID           string  `json:"thread_id"`
	RunID              string  `json:"run_id,omitempty"`
	ElapsedTimeSeconds float64 `json:"elapsed_time_seconds"`
	EventCount         int     `json:"event_count"`
}

// StreamError reports that the upstream event stream broke. The run it
// belongs to may still be active upstream.
type StreamError struct {
	envelope
	Message string
}

// Unknown wraps events this engine does not interpret.
type Unknown struct {
	envelope
}

// NewRunFailed synthesizes a terminal failure event.
func NewRunFailed(runID string, status RunStatus, message, errorType string) *RunFailed {
	if status == "" {
		status = RunStatusFailed
	}
	raw, _ := json.Marshal(map[string]any{
		"run_id": runID,
		"status": status,
		"error":  message,
		"type":   errorType,
	})
	return &RunFailed{
		envelope:  envelope{name: "thread.run." + string(status), raw: raw},
		RunID:     runID,
		Status:    status,
		Message:   message,
		ErrorType: errorType,
	}
}

// NewMetadata synthesizes a metadata event.
func NewMetadata(info MetadataInfo) *Metadata {
	raw, _ := json.Marshal(info)
	return &Metadata{envelope: envelope{name: EventMetadata, raw: raw}, Info: info}
}

// EventFromRun synthesizes the event matching a run's current status.
func EventFromRun(run Run) (Event, error) {
	raw, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run: %w", err)
	}
	return DecodeEvent("thread.run."+string(run.Status), raw)
}

// DecodeEvent turns an upstream SSE frame into a typed event. Frames this
// engine does not interpret decode to *Unknown. A malformed body for a known
// event name yields *Unknown together with a non-nil error.
func DecodeEvent(name string, data []byte) (Event, error) {
	raw := json.RawMessage(append([]byte(nil), data...))
	env := envelope{name: name, raw: raw}
	unknown := &Unknown{envelope: env}

	switch {
	case name == EventError:
		var body struct {
			Error   *RunError `json:"error"`
			Message string    `json:"message"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return unknown, fmt.Errorf("decode %s: %w", name, err)
		}
		msg := body.Message
		if body.Error != nil && body.Error.Message != "" {
			msg = body.Error.Message
		}
		if msg == "" {
			msg = "upstream stream error"
		}
		return &StreamError{envelope: env, Message: msg}, nil

	case name == EventMessageDelta:
		var body MessageDeltaBody
		if err := json.Unmarshal(data, &body); err != nil {
			return unknown, fmt.Errorf("decode %s: %w", name, err)
		}
		if body.ID == "" {
			return unknown, fmt.Errorf("decode %s: missing message id", name)
		}
		blocks := body.Delta.Content
		sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Index < blocks[j].Index })
		return &MessageDelta{envelope: env, MessageID: body.ID, Blocks: blocks}, nil

	case strings.HasPrefix(name, "thread.message."):
		var msg ThreadMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return unknown, fmt.Errorf("decode %s: %w", name, err)
		}
		return &MessageEvent{envelope: env, Message: msg}, nil

	case strings.HasPrefix(name, "thread.run.step."):
		var step RunStep
		if err := json.Unmarshal(data, &step); err != nil {
			return unknown, fmt.Errorf("decode %s: %w", name, err)
		}
		switch name {
		case EventStepCreated:
			return &StepCreated{envelope: env, Step: step}, nil
		case EventStepInProgress, EventStepDelta:
			return &StepDelta{envelope: env, StepID: step.ID}, nil
		case EventStepCompleted, EventStepFailed, EventStepCancelled, EventStepExpired:
			return &StepCompleted{envelope: env, Step: step}, nil
		}
		return unknown, nil

	case strings.HasPrefix(name, "thread.run."):
		var run Run
		if err := json.Unmarshal(data, &run); err != nil {
			return unknown, fmt.Errorf("decode %s: %w", name, err)
		}
		switch name {
		case EventRunCompleted:
			return &RunCompleted{envelope: env, Run: run}, nil
		case EventRunFailed, EventRunCancelled, EventRunExpired, EventRunIncomplete:
			status := RunStatus(strings.TrimPrefix(name, "thread.run."))
			msg := "run " + string(status)
			errType := "run_" + string(status)
			if run.LastError != nil && run.LastError.Message != "" {
				msg = run.LastError.Message
			}
			return &RunFailed{envelope: env, RunID: run.ID, Status: status, Message: msg, ErrorType: errType}, nil
		case EventRunRequiresAction:
			if calls := run.ToolCalls(); len(calls) > 0 {
				return &RequiresAction{envelope: env, Run: run, ToolCalls: NormalizeToolCalls(calls)}, nil
			}
			return &RunStatusChanged{envelope: env, Run: run}, nil
		case EventRunCreated, EventRunQueued, EventRunInProgress, EventRunCancelling:
			return &RunStatusChanged{envelope: env, Run: run}, nil
		}
		return unknown, nil
	}

	return unknown, nil
}

// Frame is the JSON envelope pushed to downstream clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Seq   int             `json:"seq,omitempty"`
}

// MarshalFrame encodes ev as a downstream frame.
func MarshalFrame(ev Event) ([]byte, error) {
	data := ev.Payload()
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return json.Marshal(Frame{Event: ev.EventName(), Data: data, Seq: ev.Seq()})
}
