// Package memorystore implements the MemoryStore component (spec.md
// §4.4): a provenance-tracked store of episodic notes, artifacts, and
// verified snapshots that the Orchestrator and Reflexion subsystem use to
// recall prior results and to roll a workflow back to a known-good state.
// Grounded on graph/store's checkpoint persistence pattern, generalized
// from a single typed-state checkpoint to a provenance-tagged entry log
// with an explicit verified flag (spec.md's snapshot rollback invariant:
// "rollback may only target a snapshot that has been marked verified").
package memorystore

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/wfguard/orchestrator/workflow"
)

// EntryType is the closed set of memory entry kinds (spec.md §3 "Memory
// entry").
type EntryType string

const (
	EntryEpisodicNote EntryType = "episodic_note"
	EntryArtifact     EntryType = "artifact"
	EntrySnapshot     EntryType = "snapshot"
)

// Entry is one record in a workflow's memory store.
type Entry struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       EntryType      `json:"type"`
	Content    map[string]any `json:"content"`
	// TaskID and StepID are the provenance of this entry: which task and
	// step produced it. Both must be non-empty (spec.md §4.4 invariant).
	TaskID string `json:"task_id"`
	StepID string `json:"step_id"`
	// SourceAuditID links this entry to the AuditLog entry that recorded
	// its creation, a directional memory->audit reference (spec.md §9).
	SourceAuditID string            `json:"source_audit_id,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	// Verified is only meaningful for EntrySnapshot entries: only a
	// verified snapshot may be the target of a rollback.
	Verified bool `json:"verified"`
}

// ErrInvalidProvenance is returned by Write when TaskID or StepID is empty.
var ErrInvalidProvenance = workflow.NewTaskError(workflow.CodeInvalidSpec, "memory entry requires non-empty task_id and step_id", false)

// ErrNotFound is returned when an entry id is unknown.
var ErrNotFound = workflow.ErrNotFound

// Store is the provenance-tracked memory contract.
type Store interface {
	// Write persists a new entry, deep-copying Content so later caller-side
	// mutation cannot alter the stored record (spec.md §4.4 "deep copy on
	// write").
	Write(ctx context.Context, entry Entry) (Entry, error)

	// Read retrieves a single entry by id.
	Read(ctx context.Context, id string) (Entry, error)

	// Timeline returns every entry for a workflow in creation order.
	Timeline(ctx context.Context, workflowID string) ([]Entry, error)

	// MarkVerified flags a snapshot entry as verified, making it eligible
	// as a rollback target.
	MarkVerified(ctx context.Context, id string) error

	// LatestVerifiedSnapshot returns the most recently created verified
	// snapshot for a workflow, or ErrNoVerifiedSnapshot if none exists.
	LatestVerifiedSnapshot(ctx context.Context, workflowID string) (Entry, error)
}

func deepCopyContent(content map[string]any) (map[string]any, error) {
	if content == nil {
		return nil, nil
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	var copied map[string]any
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}

// MemoryStore is the in-process Store backend, sufficient for single-node
// deployments and the Reflexion sandbox's isolated runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	order   map[string][]string // workflowID -> entry ids in creation order
	seq     int
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
		order:   make(map[string][]string),
	}
}

func (m *MemoryStore) Write(_ context.Context, entry Entry) (Entry, error) {
	if entry.TaskID == "" || entry.StepID == "" {
		return Entry{}, ErrInvalidProvenance
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := deepCopyContent(entry.Content)
	if err != nil {
		return Entry{}, err
	}
	entry.Content = content
	if entry.ID == "" {
		m.seq++
		entry.ID = entry.WorkflowID + "-mem-" + strconv.Itoa(m.seq)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries[entry.ID] = entry
	m.order[entry.WorkflowID] = append(m.order[entry.WorkflowID], entry.ID)
	return entry, nil
}

func (m *MemoryStore) Read(_ context.Context, id string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Timeline(_ context.Context, workflowID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.order[workflowID]
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.entries[id])
	}
	return out, nil
}

func (m *MemoryStore) MarkVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Verified = true
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) LatestVerifiedSnapshot(_ context.Context, workflowID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.order[workflowID]
	for i := len(ids) - 1; i >= 0; i-- {
		e := m.entries[ids[i]]
		if e.Type == EntrySnapshot && e.Verified {
			return e, nil
		}
	}
	return Entry{}, workflow.ErrNoVerifiedSnapshot
}
