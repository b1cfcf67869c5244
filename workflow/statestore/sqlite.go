package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/eventlog"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a pure-Go, single-file durable StateStore backend
// (spec.md §4.1 "a durable relational one"). Grounded on
// graph/store.SQLiteStore[S], generalized from the teacher's step-history
// schema to a (workflow_specs, workflow_states, events_outbox) schema. The
// whole workflow State, task states included, is stored as one JSON blob
// in workflow_states.state_json; there is no per-task table, so per-task
// fields are not queryable without deserializing the blob.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteStore opens (creating if necessary) a SQLite-backed StateStore
// at path. Use ":memory:" for ephemeral in-process use in tests that still
// want to exercise the SQL code path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statestore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("statestore: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_specs (
			workflow_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			spec_json TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_states (
			workflow_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			state_json TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_states_status ON workflow_states(status)`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			event_json TEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_pending ON events_outbox(emitted_at, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statestore: create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) SaveSpec(ctx context.Context, spec *workflow.Spec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("statestore: marshal spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_specs (workflow_id, tenant_id, spec_json) VALUES (?, ?, ?)
		 ON CONFLICT(workflow_id) DO NOTHING`,
		spec.ID, spec.TenantID, string(specJSON))
	if err != nil {
		return fmt.Errorf("statestore: save spec: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSpec(ctx context.Context, workflowID string) (*workflow.Spec, error) {
	var specJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT spec_json FROM workflow_specs WHERE workflow_id = ?`, workflowID).Scan(&specJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: load spec: %w", err)
	}
	var spec workflow.Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, fmt.Errorf("statestore: unmarshal spec: %w", err)
	}
	return &spec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *workflow.State, outbox []eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statestore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflow_states WHERE workflow_id = ?`, state.WorkflowID).Scan(&currentVersion)
	switch {
	case err == sql.ErrNoRows:
		if state.Version != 0 {
			return ErrConflict
		}
	case err != nil:
		return fmt.Errorf("statestore: read version: %w", err)
	default:
		if currentVersion != state.Version-1 {
			return ErrConflict
		}
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("statestore: marshal state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflow_states (workflow_id, tenant_id, status, version, state_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			status = excluded.status, version = excluded.version,
			state_json = excluded.state_json, updated_at = CURRENT_TIMESTAMP`,
		state.WorkflowID, state.TenantID, string(state.Status), state.Version, string(stateJSON))
	if err != nil {
		return fmt.Errorf("statestore: save state: %w", err)
	}

	for _, ev := range outbox {
		evJSON, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("statestore: marshal event: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events_outbox (id, workflow_id, event_json) VALUES (?, ?, ?)`,
			ev.ID, state.WorkflowID, string(evJSON)); err != nil {
			return fmt.Errorf("statestore: insert outbox event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statestore: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, workflowID string) (*workflow.State, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM workflow_states WHERE workflow_id = ?`, workflowID).Scan(&stateJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("statestore: load state: %w", err)
	}
	var state workflow.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("statestore: unmarshal state: %w", err)
	}
	return &state, nil
}

func (s *SQLiteStore) List(ctx context.Context, status workflow.Status) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT workflow_id FROM workflow_states WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("statestore: list: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("statestore: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) PendingEvents(ctx context.Context, limit int) ([]eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_json FROM events_outbox
		WHERE emitted_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("statestore: pending events: %w", err)
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var evJSON string
		if err := rows.Scan(&evJSON); err != nil {
			return nil, fmt.Errorf("statestore: scan event: %w", err)
		}
		var ev eventlog.Event
		if err := json.Unmarshal([]byte(evJSON), &ev); err != nil {
			return nil, fmt.Errorf("statestore: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := ""
	args := make([]any, 0, len(eventIDs))
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	// #nosec G201 -- placeholders are "?" marks only, not user input
	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = ? WHERE id IN (%s)`, placeholders)
	args = append([]any{time.Now().UTC()}, args...)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("statestore: mark emitted: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
