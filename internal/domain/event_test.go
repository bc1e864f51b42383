package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEventRunLifecycle(t *testing.T) {
	ev, err := DecodeEvent(EventRunCreated, []byte(`{"id":"run_1","thread_id":"t1","status":"queued"}`))
	require.NoError(t, err)
	changed, ok := ev.(*RunStatusChanged)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "run_1", changed.Run.ID)
	assert.Equal(t, RunStatusQueued, changed.Run.Status)
	assert.Equal(t, EventRunCreated, ev.EventName())

	ev, err = DecodeEvent(EventRunCompleted, []byte(`{"id":"run_1","status":"completed","completed_at":null}`))
	require.NoError(t, err)
	_, ok = ev.(*RunCompleted)
	assert.True(t, ok, "got %T", ev)
}

func TestDecodeEventRequiresAction(t *testing.T) {
	data := `{"id":"run_1","status":"requires_action","required_action":{"type":"submit_tool_outputs",
		"submit_tool_outputs":{"tool_calls":[
			{"id":"call_a","type":"function","function":{"name":"get_weather","arguments":"{\"location\":\"Paris\"}"}},
			{"id":"call_b","type":"code_interpreter"}
		]}}}`
	ev, err := DecodeEvent(EventRunRequiresAction, []byte(data))
	require.NoError(t, err)

	ra, ok := ev.(*RequiresAction)
	require.True(t, ok, "got %T", ev)
	require.Len(t, ra.ToolCalls, 2)
	assert.Equal(t, ToolCallRequest{ToolCallID: "call_a", Type: "function", Name: "get_weather", Arguments: `{"location":"Paris"}`}, ra.ToolCalls[0])
	assert.Equal(t, "code_interpreter", ra.ToolCalls[1].Type)
}

func TestDecodeEventRequiresActionWithoutCalls(t *testing.T) {
	ev, err := DecodeEvent(EventRunRequiresAction, []byte(`{"id":"run_1","status":"requires_action"}`))
	require.NoError(t, err)
	_, ok := ev.(*RunStatusChanged)
	assert.True(t, ok, "got %T", ev)
}

func TestDecodeEventFailureVariants(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		data    string
		status  RunStatus
		message string
	}{
		{"failed with last_error", EventRunFailed, `{"id":"r","status":"failed","last_error":{"code":"server_error","message":"boom"}}`, RunStatusFailed, "boom"},
		{"expired", EventRunExpired, `{"id":"r","status":"expired"}`, RunStatusExpired, "run expired"},
		{"cancelled", EventRunCancelled, `{"id":"r","status":"cancelled"}`, RunStatusCancelled, "run cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent(tt.event, []byte(tt.data))
			require.NoError(t, err)
			failed, ok := ev.(*RunFailed)
			require.True(t, ok, "got %T", ev)
			assert.Equal(t, tt.status, failed.Status)
			assert.Equal(t, tt.message, failed.Message)
		})
	}
}

func TestDecodeEventStreamError(t *testing.T) {
	ev, err := DecodeEvent(EventError, []byte(`{"error":{"message":"overloaded"}}`))
	require.NoError(t, err)
	streamErr, ok := ev.(*StreamError)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "overloaded", streamErr.Message)

	ev, err = DecodeEvent(EventError, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "upstream stream error", ev.(*StreamError).Message)
}

func TestDecodeEventMessageDelta(t *testing.T) {
	data := `{"id":"msg_1","delta":{"content":[
		{"index":1,"type":"text","text":{"value":"b"}},
		{"index":0,"type":"text","text":{"value":"a"}}]}}`
	ev, err := DecodeEvent(EventMessageDelta, []byte(data))
	require.NoError(t, err)
	delta, ok := ev.(*MessageDelta)
	require.True(t, ok)
	assert.Equal(t, "msg_1", delta.MessageID)
	assert.Equal(t, "ab", delta.Text())
}

func TestDecodeEventSteps(t *testing.T) {
	ev, err := DecodeEvent(EventStepCreated, []byte(`{"id":"step_1","type":"tool_calls","step_details":{"type":"tool_calls"}}`))
	require.NoError(t, err)
	_, ok := ev.(*StepCreated)
	assert.True(t, ok)

	ev, err = DecodeEvent(EventStepDelta, []byte(`{"id":"step_1","delta":{}}`))
	require.NoError(t, err)
	delta, ok := ev.(*StepDelta)
	require.True(t, ok)
	assert.Equal(t, "step_1", delta.StepID)

	ev, err = DecodeEvent(EventStepFailed, []byte(`{"id":"step_1","status":"failed","failed_at":10}`))
	require.NoError(t, err)
	done, ok := ev.(*StepCompleted)
	require.True(t, ok)
	assert.Equal(t, int64(10), done.Step.EndedAt())
}

func TestDecodeEventUnknownAndMalformed(t *testing.T) {
	ev, err := DecodeEvent("thread.run.something_new", []byte(`{"id":"r"}`))
	require.NoError(t, err)
	_, ok := ev.(*Unknown)
	assert.True(t, ok)

	ev, err = DecodeEvent(EventDone, []byte("[DONE]"))
	require.NoError(t, err)
	_, ok = ev.(*Unknown)
	assert.True(t, ok)

	ev, err = DecodeEvent(EventMessageDelta, []byte("not json"))
	require.Error(t, err)
	_, ok = ev.(*Unknown)
	assert.True(t, ok)
}

func TestEventFromRun(t *testing.T) {
	ev, err := EventFromRun(Run{ID: "r", Status: RunStatusCompleted})
	require.NoError(t, err)
	_, ok := ev.(*RunCompleted)
	assert.True(t, ok)

	ev, err = EventFromRun(Run{ID: "r", Status: RunStatusRequiresAction, RequiredAction: &RequiredAction{
		Type:              RequiredActionSubmitToolOutputs,
		SubmitToolOutputs: &SubmitToolOutputs{ToolCalls: []ToolCall{{ID: "c1", Type: "function", Function: &FunctionCall{Name: "f"}}}},
	}})
	require.NoError(t, err)
	ra, ok := ev.(*RequiresAction)
	require.True(t, ok)
	assert.Equal(t, "c1", ra.ToolCalls[0].ToolCallID)
}

func TestNewRunFailedAndFrame(t *testing.T) {
	ev := NewRunFailed("run_1", "", "retries exhausted", "submission_exhausted")
	SetSeq(ev, 7)
	assert.Equal(t, EventRunFailed, ev.EventName())
	assert.Equal(t, 7, ev.Seq())

	raw, err := MarshalFrame(ev)
	require.NoError(t, err)
	var frame struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
		Seq   int            `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "thread.run.failed", frame.Event)
	assert.Equal(t, "retries exhausted", frame.Data["error"])
	assert.Equal(t, 7, frame.Seq)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, "validation_error", ErrorType(&ValidationError{Field: "thread_id", Message: "required"}))
	assert.Equal(t, "submission_exhausted", ErrorType(&UpstreamError{Op: "submit", Err: ErrSubmissionExhausted}))
	assert.Equal(t, "upstream_error", ErrorType(&UpstreamError{Op: "retrieve run", StatusCode: 500}))
	assert.Equal(t, "internal_error", ErrorType(errors.New("x")))
	assert.True(t, IsUpstream(&UpstreamError{}))
	assert.Equal(t, "upstream create thread failed (status 401): bad key",
		(&UpstreamError{Op: "create thread", StatusCode: 401, Message: "bad key"}).Error())
}
