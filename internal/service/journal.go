package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// The journal is best effort: failures are logged and the run carries on.

func (r *runState) journalCtx() context.Context {
	return context.WithoutCancel(r.ctx)
}

func (r *runState) journalRun() {
	if r.e.store == nil || r.journaled {
		return
	}
	err := r.e.store.CreateRun(r.journalCtx(), &domain.RunRecord{
		RunID:         r.runID,
		ThreadID:      r.stream.threadID,
		CorrelationID: r.stream.correlationID,
		Status:        domain.RunStatusInProgress,
		StartedAt:     r.started,
	})
	if err != nil {
		r.logger.Error("failed to record run", zap.Error(err))
		return
	}
	r.journaled = true
}

func (r *runState) journalEvent(ev domain.Event) {
	if r.e.store == nil || !r.journaled {
		return
	}
	err := r.e.store.CreateEvent(r.journalCtx(), &domain.EventRecord{
		EventID: "evt_" + uuid.New().String()[:8],
		RunID:   r.runID,
		Seq:     ev.Seq(),
		Ts:      time.Now().UnixMilli(),
		Name:    ev.EventName(),
		Payload: ev.Payload(),
	})
	if err != nil {
		r.logger.Error("failed to record event", zap.String("event", ev.EventName()), zap.Error(err))
	}
}

func (r *runState) journalToolCall(call domain.ToolCallRequest, out domain.ToolOutput) {
	if r.e.store == nil || !r.journaled {
		return
	}
	err := r.e.store.CreateToolCall(r.journalCtx(), &domain.ToolCallRecord{
		ToolCallID: call.ToolCallID,
		RunID:      r.runID,
		ToolName:   call.Name,
		ToolType:   call.Type,
		Arguments:  call.Arguments,
		Output:     out.Output,
		IsError:    out.IsError,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		r.logger.Error("failed to record tool call", zap.String("tool_call_id", call.ToolCallID), zap.Error(err))
	}
}

func (r *runState) journalFinish(status domain.RunStatus, errMsg string) {
	if r.e.store == nil || !r.journaled {
		return
	}
	if err := r.e.store.UpdateRunCompleted(r.journalCtx(), r.runID, status, errMsg); err != nil {
		r.logger.Error("failed to update run status", zap.Error(err))
	}
}
