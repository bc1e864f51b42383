package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// ErrJournalDisabled is returned by journal queries when no store is configured.
var ErrJournalDisabled = errors.New("run journal is disabled")

// GetRun returns the journaled run, or nil if it is unknown.
func (e *Engine) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if e.store == nil {
		return nil, ErrJournalDisabled
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// GetRunEvents returns journaled events with seq greater than afterSeq.
func (e *Engine) GetRunEvents(ctx context.Context, runID string, afterSeq, limit int) ([]domain.EventRecord, error) {
	if e.store == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	events, err := e.store.GetEvents(ctx, runID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	return events, nil
}

// GetRunToolCalls returns the journaled tool calls of a run.
func (e *Engine) GetRunToolCalls(ctx context.Context, runID string) ([]domain.ToolCallRecord, error) {
	if e.store == nil {
		return nil, ErrJournalDisabled
	}
	calls, err := e.store.ListToolCalls(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	return calls, nil
}
