// Package tracker accumulates the steps and messages of a single run from
// its event stream.
package tracker

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

type messageState struct {
	data   domain.MessageData
	blocks map[int]*strings.Builder
	final  bool
}

func (m *messageState) text() string {
	if m.final {
		return m.data.Content
	}
	idx := make([]int, 0, len(m.blocks))
	for i := range m.blocks {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	var sb strings.Builder
	for _, i := range idx {
		sb.WriteString(m.blocks[i].String())
	}
	return sb.String()
}

// Tracker is owned by one run and is not safe for concurrent use.
type Tracker struct {
	logger *zap.Logger

	steps     map[string]*domain.StepData
	stepOrder []string

	messages     map[string]*messageState
	messageOrder []string
}

// New creates an empty tracker.
func New(logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		logger:   logger,
		steps:    make(map[string]*domain.StepData),
		messages: make(map[string]*messageState),
	}
}

// Observe updates tracked state from ev. Events that carry nothing to track
// are ignored.
func (t *Tracker) Observe(ev domain.Event) {
	switch v := ev.(type) {
	case *domain.StepCreated:
		t.TrackStep(v.Step)
	case *domain.StepCompleted:
		t.TrackStep(v.Step)
	case *domain.MessageDelta:
		t.ApplyDelta(v.MessageID, v.Blocks)
	case *domain.MessageEvent:
		t.TrackMessage(v.Message, v.Completed())
	case *domain.RequiresAction:
		t.TrackToolRequests(v.Run.ID, v.ToolCalls)
	}
}

// TrackStep creates or updates the entries for a run step. Tool-call steps
// produce one entry per tool call, keyed by tool call id.
func (t *Tracker) TrackStep(step domain.RunStep) {
	if step.ID == "" {
		t.logger.Warn("skipping run step without id", zap.String("type", step.Type))
		return
	}

	start := unixTime(step.CreatedAt)
	end := unixTime(step.EndedAt())

	switch step.StepDetails.Type {
	case domain.StepTypeToolCalls:
		for _, tc := range step.StepDetails.ToolCalls {
			if tc.ID == "" {
				t.logger.Warn("skipping tool call without id", zap.String("step_id", step.ID))
				continue
			}
			sd := t.upsertStep(tc.ID, step.RunID)
			name, show := toolDisplay(tc)
			if name != tc.Type || sd.Name == "" {
				sd.Name = name
			}
			sd.ShowInput = show
			if tc.Function != nil {
				if tc.Function.Arguments != "" {
					sd.Input = tc.Function.Arguments
				}
				if tc.Function.Output != nil {
					sd.Output = *tc.Function.Output
				}
			}
			setTimes(sd, start, end)
		}
	default:
		sd := t.upsertStep(step.ID, step.RunID)
		sd.Type = domain.StepKindMessage
		sd.Name = step.Type
		if mc := step.StepDetails.MessageCreation; mc != nil {
			sd.Output = mc.MessageID
		}
		setTimes(sd, start, end)
	}
}

// TrackToolRequests records pending tool calls announced by requires_action.
func (t *Tracker) TrackToolRequests(runID string, calls []domain.ToolCallRequest) {
	now := time.Now()
	for _, tc := range calls {
		if tc.ToolCallID == "" {
			continue
		}
		sd := t.upsertStep(tc.ToolCallID, runID)
		if sd.Name == "" {
			sd.Name = tc.Name
			if sd.Name == "" {
				sd.Name = tc.Type
			}
		}
		if sd.Input == "" {
			sd.Input = tc.Arguments
		}
		if sd.Start == nil {
			sd.Start = &now
		}
	}
}

// RecordToolOutput attaches an output to the matching tool call entry.
func (t *Tracker) RecordToolOutput(out domain.ToolOutput) {
	sd, ok := t.steps[out.ToolCallID]
	if !ok {
		t.logger.Warn("tool output for untracked call", zap.String("tool_call_id", out.ToolCallID))
		return
	}
	sd.Output = out.Output
}

// ApplyDelta appends streamed content to a message.
func (t *Tracker) ApplyDelta(messageID string, blocks []domain.ContentBlock) {
	if messageID == "" {
		t.logger.Warn("skipping message delta without id")
		return
	}
	m := t.upsertMessage(messageID, domain.RoleAssistant)
	if m.final {
		return
	}
	for _, b := range blocks {
		if b.Text == nil {
			continue
		}
		sb, ok := m.blocks[b.Index]
		if !ok {
			sb = &strings.Builder{}
			m.blocks[b.Index] = sb
		}
		sb.WriteString(b.Text.Value)
	}
}

// TrackMessage records a message lifecycle event. A final message replaces
// any streamed content with the concatenation of its content blocks.
func (t *Tracker) TrackMessage(msg domain.ThreadMessage, final bool) {
	if msg.ID == "" {
		t.logger.Warn("skipping message without id")
		return
	}
	m := t.upsertMessage(msg.ID, msg.Role)
	if msg.Role != "" {
		m.data.Author = msg.Role
	}
	if !final {
		return
	}
	if text := msg.Text(); text != "" || len(m.blocks) == 0 {
		m.data.Content = text
		m.final = true
	}
}

// Steps returns a snapshot of tracked steps in first-seen order.
func (t *Tracker) Steps() []domain.StepData {
	out := make([]domain.StepData, 0, len(t.stepOrder))
	for _, id := range t.stepOrder {
		out = append(out, *t.steps[id])
	}
	return out
}

// Messages returns a snapshot of tracked messages in first-seen order.
func (t *Tracker) Messages() []domain.MessageData {
	out := make([]domain.MessageData, 0, len(t.messageOrder))
	for _, id := range t.messageOrder {
		m := t.messages[id]
		d := m.data
		d.Content = m.text()
		out = append(out, d)
	}
	return out
}

// Responses returns the non-empty assistant message texts in order. The
// result is never nil.
func (t *Tracker) Responses() []string {
	out := []string{}
	for _, m := range t.Messages() {
		if m.Author == domain.RoleAssistant && m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

func (t *Tracker) upsertStep(id, parentID string) *domain.StepData {
	if sd, ok := t.steps[id]; ok {
		if sd.ParentID == "" {
			sd.ParentID = parentID
		}
		return sd
	}
	sd := &domain.StepData{ID: id, Type: domain.StepKindTool, ParentID: parentID}
	t.steps[id] = sd
	t.stepOrder = append(t.stepOrder, id)
	return sd
}

func (t *Tracker) upsertMessage(id, role string) *messageState {
	if m, ok := t.messages[id]; ok {
		return m
	}
	if role == "" {
		role = domain.RoleAssistant
	}
	m := &messageState{
		data:   domain.MessageData{ID: id, Author: role},
		blocks: make(map[int]*strings.Builder),
	}
	t.messages[id] = m
	t.messageOrder = append(t.messageOrder, id)
	return m
}

func toolDisplay(tc domain.ToolCall) (name, showInput string) {
	switch tc.Type {
	case domain.ToolTypeCodeInterpreter:
		return tc.Type, "python"
	case domain.ToolTypeFileSearch, domain.ToolTypeRetrieval:
		return tc.Type, ""
	}
	if tc.Function != nil && tc.Function.Name != "" {
		return tc.Function.Name, "json"
	}
	return tc.Type, "json"
}

func setTimes(sd *domain.StepData, start, end *time.Time) {
	if sd.Start == nil && start != nil {
		sd.Start = start
	}
	if end != nil {
		sd.End = end
	}
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	ts := time.Unix(sec, 0).UTC()
	return &ts
}
