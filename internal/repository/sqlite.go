package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			correlation_id TEXT,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			name TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			tool_call_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_type TEXT NOT NULL,
			arguments TEXT,
			output TEXT NOT NULL,
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, thread_id, correlation_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.ThreadID, nullString(run.CorrelationID), run.Status, run.StartedAt)
	return err
}

// GetRun retrieves a run by ID. It returns nil, nil when the run is unknown.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var correlationID, errMsg sql.NullString
	var endedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, thread_id, correlation_id, status, started_at, ended_at, error FROM runs WHERE run_id = ?`,
		runID).Scan(&run.RunID, &run.ThreadID, &correlationID, &run.Status, &run.StartedAt, &endedAt, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run.CorrelationID = correlationID.String
	run.Error = errMsg.String
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// UpdateRunCompleted marks a run as finished.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ? WHERE run_id = ?`,
		status, time.Now(), nullString(errMsg), runID)
	return err
}

// CreateEvent appends an emitted event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.EventRecord) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, seq, ts, name, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Seq, event.Ts, event.Name, payload)
	return err
}

// GetEvents returns a run's events with seq greater than afterSeq, in order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterSeq int, limit int) ([]domain.EventRecord, error) {
	query := `SELECT event_id, run_id, seq, ts, name, payload FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.EventRecord{}
	for rows.Next() {
		var event domain.EventRecord
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Seq, &event.Ts, &event.Name, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreateToolCall records an executed tool call.
func (s *SQLiteStore) CreateToolCall(ctx context.Context, tc *domain.ToolCallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tool_calls (tool_call_id, run_id, tool_name, tool_type, arguments, output, is_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ToolCallID, tc.RunID, tc.ToolName, tc.ToolType, nullString(tc.Arguments), tc.Output, tc.IsError, tc.CreatedAt)
	return err
}

// ListToolCalls returns the tool calls of a run in execution order.
func (s *SQLiteStore) ListToolCalls(ctx context.Context, runID string) ([]domain.ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, run_id, tool_name, tool_type, arguments, output, is_error, created_at
		 FROM tool_calls WHERE run_id = ? ORDER BY created_at ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	calls := []domain.ToolCallRecord{}
	for rows.Next() {
		var tc domain.ToolCallRecord
		var args sql.NullString
		if err := rows.Scan(&tc.ToolCallID, &tc.RunID, &tc.ToolName, &tc.ToolType, &args, &tc.Output, &tc.IsError, &tc.CreatedAt); err != nil {
			return nil, err
		}
		tc.Arguments = args.String
		calls = append(calls, tc)
	}
	return calls, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
