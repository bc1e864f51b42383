package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domain.RunRecord{
		RunID:         "run_1",
		ThreadID:      "thread_1",
		CorrelationID: "cid",
		Status:        domain.RunStatusQueued,
		StartedAt:     time.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := store.UpdateRunCompleted(ctx, "run_1", domain.RunStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateRunCompleted failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.Status != domain.RunStatusFailed || got.Error != "boom" || got.EndedAt == nil {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.CorrelationID != "cid" || got.ThreadID != "thread_1" {
		t.Fatalf("unexpected run identity: %+v", got)
	}

	missing, err := store.GetRun(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil run, got %+v, %v", missing, err)
	}
}

func TestSQLiteStoreEventsAfterSeq(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CreateRun(ctx, &domain.RunRecord{RunID: "run_1", ThreadID: "t", Status: domain.RunStatusQueued, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	for i, name := range []string{domain.EventRunCreated, domain.EventMessageDelta, domain.EventRunCompleted} {
		ev := &domain.EventRecord{
			EventID: name,
			RunID:   "run_1",
			Seq:     i + 1,
			Ts:      time.Now().UnixMilli(),
			Name:    name,
			Payload: json.RawMessage(`{"i":1}`),
		}
		if err := store.CreateEvent(ctx, ev); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
	}

	events, err := store.GetEvents(ctx, "run_1", 1, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Name != domain.EventMessageDelta || events[1].Seq != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}

	limited, err := store.GetEvents(ctx, "run_1", 0, 1)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(limited) != 1 || limited[0].Seq != 1 {
		t.Fatalf("unexpected limited events: %+v", limited)
	}
}

func TestSQLiteStoreEventRequiresRun(t *testing.T) {
	store := newTestStore(t)
	err := store.CreateEvent(context.Background(), &domain.EventRecord{EventID: "e", RunID: "ghost", Seq: 1, Name: "x"})
	if err == nil {
		t.Fatalf("expected foreign key violation")
	}
}

func TestSQLiteStoreToolCalls(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CreateRun(ctx, &domain.RunRecord{RunID: "run_1", ThreadID: "t", Status: domain.RunStatusQueued, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	now := time.Now()
	calls := []*domain.ToolCallRecord{
		{ToolCallID: "call_a", RunID: "run_1", ToolName: "get_current_weather", ToolType: "function", Arguments: `{"location":"Paris"}`, Output: "sunny", CreatedAt: now},
		{ToolCallID: "call_b", RunID: "run_1", ToolName: "code_interpreter", ToolType: "code_interpreter", Output: "code_interpreter", CreatedAt: now.Add(time.Millisecond)},
		{ToolCallID: "call_c", RunID: "run_1", ToolName: "missing", ToolType: "function", Output: "Error: nope", IsError: true, CreatedAt: now.Add(2 * time.Millisecond)},
	}
	for _, tc := range calls {
		if err := store.CreateToolCall(ctx, tc); err != nil {
			t.Fatalf("CreateToolCall failed: %v", err)
		}
	}

	got, err := store.ListToolCalls(ctx, "run_1")
	if err != nil {
		t.Fatalf("ListToolCalls failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 tool calls, got %d", len(got))
	}
	if got[0].Arguments != `{"location":"Paris"}` || got[1].Arguments != "" || !got[2].IsError {
		t.Fatalf("unexpected tool calls: %+v", got)
	}
}
