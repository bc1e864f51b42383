// Package store defines the run journal interface and its SQLite implementation.
package store

import (
	"context"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Store persists runs, their emitted events and executed tool calls.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.RunRecord) error
	GetRun(ctx context.Context, runID string) (*domain.RunRecord, error)
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error

	// Event operations
	CreateEvent(ctx context.Context, event *domain.EventRecord) error
	GetEvents(ctx context.Context, runID string, afterSeq int, limit int) ([]domain.EventRecord, error)

	// ToolCall operations
	CreateToolCall(ctx context.Context, toolCall *domain.ToolCallRecord) error
	ListToolCalls(ctx context.Context, runID string) ([]domain.ToolCallRecord, error)

	// Lifecycle
	Close() error
}
