package statestore

import (
	"context"
	"sync"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/eventlog"
)

// MemoryStore is an in-process Store for tests, single-process dev
// deployments, and the Reflexion sandbox's isolated validation runs
// (spec.md §4.10 "sandbox ... structurally identical to the production
// execution path"). Grounded on graph/store.MemStore[S].
type MemoryStore struct {
	mu            sync.RWMutex
	specs         map[string]*workflow.Spec
	states        map[string]*workflow.State
	pendingEvents []eventlog.Event
	eventIndex    map[string]int
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:      make(map[string]*workflow.Spec),
		states:     make(map[string]*workflow.State),
		eventIndex: make(map[string]int),
	}
}

func (m *MemoryStore) SaveSpec(_ context.Context, spec *workflow.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.specs[spec.ID]; exists {
		return nil
	}
	m.specs[spec.ID] = spec
	return nil
}

func (m *MemoryStore) LoadSpec(_ context.Context, workflowID string) (*workflow.Spec, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	spec, ok := m.specs[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return spec, nil
}

func (m *MemoryStore) Save(_ context.Context, state *workflow.State, outbox []eventlog.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.states[state.WorkflowID]
	if ok && existing.Version != state.Version-1 && state.Version != 0 {
		return ErrConflict
	}
	// Store a copy of the State struct so the stored Version does not move
	// with the caller's later increments. The Tasks and Context maps are
	// shared with the caller, who must not mutate them after Save.
	stored := *state
	m.states[state.WorkflowID] = &stored

	for _, ev := range outbox {
		if ev.ID != "" {
			m.eventIndex[ev.ID] = len(m.pendingEvents)
		}
		m.pendingEvents = append(m.pendingEvents, ev)
	}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, workflowID string) (*workflow.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, status workflow.Status) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, st := range m.states {
		if st.Status == status {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) PendingEvents(_ context.Context, limit int) ([]eventlog.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pending []eventlog.Event
	for _, ev := range m.pendingEvents {
		if !ev.Emitted {
			pending = append(pending, ev)
			if limit > 0 && len(pending) >= limit {
				break
			}
		}
	}
	return pending, nil
}

func (m *MemoryStore) MarkEventsEmitted(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	toMark := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		toMark[id] = true
	}
	for i, ev := range m.pendingEvents {
		if toMark[ev.ID] {
			m.pendingEvents[i].Emitted = true
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
