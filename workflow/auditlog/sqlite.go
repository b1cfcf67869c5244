package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLog is the durable AuditLog backend (spec.md §4.3). Grounded on
// graph/store.SQLiteStore's single-file, WAL-mode pattern, adapted to an
// append-only audit_entries table with no update path.
type SQLiteLog struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteLog opens (creating if necessary) a SQLite-backed Log at path.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("auditlog: %s: %w", pragma, err)
		}
	}
	l := &SQLiteLog{db: db}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_entries (
			workflow_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			state_before TEXT,
			state_after TEXT,
			provenance TEXT,
			previous_hash TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			PRIMARY KEY (workflow_id, seq)
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auditlog: create schema: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) Append(ctx context.Context, workflowID, actor, action string, stateBefore, stateAfter, provenance map[string]any) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("auditlog: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prevHash string
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT content_hash, seq FROM audit_entries WHERE workflow_id = ? ORDER BY seq DESC LIMIT 1`,
		workflowID).Scan(&prevHash, &seq)
	if err != nil && err != sql.ErrNoRows {
		return Entry{}, fmt.Errorf("auditlog: read tail: %w", err)
	}
	seq++

	entry := Entry{
		Seq:          seq,
		WorkflowID:   workflowID,
		Timestamp:    time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		StateBefore:  stateBefore,
		StateAfter:   stateAfter,
		Provenance:   provenance,
		PreviousHash: prevHash,
	}
	hash, err := computeContentHash(entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ContentHash = hash

	beforeJSON, _ := json.Marshal(stateBefore)
	afterJSON, _ := json.Marshal(stateAfter)
	provJSON, _ := json.Marshal(provenance)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries
		(workflow_id, seq, timestamp, actor, action, state_before, state_after, provenance, previous_hash, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.WorkflowID, entry.Seq, entry.Timestamp.Format(time.RFC3339Nano), entry.Actor, entry.Action,
		string(beforeJSON), string(afterJSON), string(provJSON), entry.PreviousHash, entry.ContentHash)
	if err != nil {
		return Entry{}, fmt.Errorf("auditlog: insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("auditlog: commit: %w", err)
	}
	return entry, nil
}

func (l *SQLiteLog) Read(ctx context.Context, workflowID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT seq, timestamp, actor, action, state_before, state_after, provenance, previous_hash, content_hash
		FROM audit_entries WHERE workflow_id = ? ORDER BY seq ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("auditlog: read: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                                    Entry
			tsStr, before, after, provenanceJSON sql.NullString
		)
		e.WorkflowID = workflowID
		if err := rows.Scan(&e.Seq, &tsStr, &e.Actor, &e.Action, &before, &after, &provenanceJSON, &e.PreviousHash, &e.ContentHash); err != nil {
			return nil, fmt.Errorf("auditlog: scan: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr.String)
		if err != nil {
			return nil, fmt.Errorf("auditlog: parse timestamp: %w", err)
		}
		if before.Valid && before.String != "null" && before.String != "" {
			_ = json.Unmarshal([]byte(before.String), &e.StateBefore)
		}
		if after.Valid && after.String != "null" && after.String != "" {
			_ = json.Unmarshal([]byte(after.String), &e.StateAfter)
		}
		if provenanceJSON.Valid && provenanceJSON.String != "null" && provenanceJSON.String != "" {
			_ = json.Unmarshal([]byte(provenanceJSON.String), &e.Provenance)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *SQLiteLog) VerifyChain(ctx context.Context, workflowID string) error {
	entries, err := l.Read(ctx, workflowID)
	if err != nil {
		return err
	}
	return verifyEntries(entries)
}

// Close releases the underlying database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
