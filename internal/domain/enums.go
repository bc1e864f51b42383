// Package domain defines the core domain models for the assistant engine.
package domain

// RunStatus represents the upstream status of a run.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusIncomplete     RunStatus = "incomplete"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusIncomplete, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// Upstream event names.
const (
	EventThreadCreated = "thread.created"

	EventRunCreated        = "thread.run.created"
	EventRunQueued         = "thread.run.queued"
	EventRunInProgress     = "thread.run.in_progress"
	EventRunRequiresAction = "thread.run.requires_action"
	EventRunCompleted      = "thread.run.completed"
	EventRunIncomplete     = "thread.run.incomplete"
	EventRunFailed         = "thread.run.failed"
	EventRunCancelling     = "thread.run.cancelling"
	EventRunCancelled      = "thread.run.cancelled"
	EventRunExpired        = "thread.run.expired"

	EventStepCreated    = "thread.run.step.created"
	EventStepInProgress = "thread.run.step.in_progress"
	EventStepDelta      = "thread.run.step.delta"
	EventStepCompleted  = "thread.run.step.completed"
	EventStepFailed     = "thread.run.step.failed"
	EventStepCancelled  = "thread.run.step.cancelled"
	EventStepExpired    = "thread.run.step.expired"

	EventMessageCreated    = "thread.message.created"
	EventMessageInProgress = "thread.message.in_progress"
	EventMessageDelta      = "thread.message.delta"
	EventMessageCompleted  = "thread.message.completed"
	EventMessageIncomplete = "thread.message.incomplete"

	EventError    = "error"
	EventDone     = "done"
	EventMetadata = "metadata"
)

// Step types.
const (
	StepTypeMessageCreation = "message_creation"
	StepTypeToolCalls       = "tool_calls"
)

// Tool call types.
const (
	ToolTypeFunction        = "function"
	ToolTypeCodeInterpreter = "code_interpreter"
	ToolTypeFileSearch      = "file_search"
	ToolTypeRetrieval       = "retrieval"
)

// RequiredActionSubmitToolOutputs is the only required action type upstream issues.
const RequiredActionSubmitToolOutputs = "submit_tool_outputs"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
