package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/eventlog"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is the production relational StateStore backend (spec.md
// §4.1 "a durable relational one", clustered deployments). Grounded on
// graph/store.MySQLStore[S], schema adapted the same way as SQLiteStore.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the schema
// exists. DSN format: user:pass@tcp(host:3306)/dbname?parseTime=true.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("statestore: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &MySQLStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_specs (
			workflow_id VARCHAR(191) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			spec_json LONGTEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS workflow_states (
			workflow_id VARCHAR(191) PRIMARY KEY,
			tenant_id VARCHAR(191) NOT NULL,
			status VARCHAR(32) NOT NULL,
			version INT NOT NULL,
			state_json LONGTEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			INDEX idx_workflow_states_status (status)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS events_outbox (
			id VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			event_json LONGTEXT NOT NULL,
			emitted_at TIMESTAMP NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_events_pending (emitted_at, created_at)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statestore: create schema: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) SaveSpec(ctx context.Context, spec *workflow.Spec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("statestore: marshal spec: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT IGNORE INTO workflow_specs (workflow_id, tenant_id, spec_json) VALUES (?, ?, ?)`,
		spec.ID, spec.TenantID, string(specJSON))
	if err != nil {
		return fmt.Errorf("statestore: save spec: %w", err)
	}
	return nil
}

func (s *MySQLStore) LoadSpec(ctx context.Context, workflowID string) (*workflow.Spec, error) {
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

func (s *MySQLStore) Save(ctx context.Context, state *workflow.State, outbox []eventlog.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statestore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflow_states WHERE workflow_id = ? FOR UPDATE`, state.WorkflowID).Scan(&currentVersion)
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), version = VALUES(version), state_json = VALUES(state_json)`,
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

func (s *MySQLStore) Load(ctx context.Context, workflowID string) (*workflow.State, error) {
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

func (s *MySQLStore) List(ctx context.Context, status workflow.Status) ([]string, error) {
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

func (s *MySQLStore) PendingEvents(ctx context.Context, limit int) ([]eventlog.Event, error) {
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

func (s *MySQLStore) MarkEventsEmitted(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	placeholders := ""
	args := make([]any, 0, len(eventIDs)+1)
	args = append(args, time.Now().UTC())
	for i, id := range eventIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}
	// #nosec G201 -- placeholders are "?" marks only, not user input
	query := fmt.Sprintf(`UPDATE events_outbox SET emitted_at = ? WHERE id IN (%s)`, placeholders)
	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("statestore: mark emitted: %w", err)
	}
	return nil
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}
