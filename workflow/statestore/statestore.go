// Package statestore implements the StateStore component (spec.md §4.1):
// durable persistence of workflow specifications and their mutable
// execution state, with optimistic-concurrency Save and transactional
// outbox event delivery. Grounded on graph/store.Store[S], generalized
// from a type parameter S to the workflow package's concrete
// (*workflow.Spec, *workflow.State) pair, since the spec's workflow
// context is dynamically typed (map[string]any) rather than caller-typed.
package statestore

import (
	"context"
	"errors"

	"github.com/wfguard/orchestrator/workflow"
	"github.com/wfguard/orchestrator/workflow/eventlog"
)

// ErrNotFound is returned when a requested workflow id does not exist.
var ErrNotFound = errors.New("statestore: not found")

// ErrConflict is returned by Save when the caller's State.Version is not
// exactly one past the currently persisted version: callers increment
// Version before each Save after the first (spec.md §4.1 "optimistic
// concurrency: Save fails with a conflict error if the version does not
// match").
var ErrConflict = errors.New("statestore: version conflict")

// ErrUnavailable names backend connectivity failures (spec.md §4.1
// "backend_unavailable"). The backends in this package do not return it:
// they return the driver's error wrapped with context, which does not
// match ErrUnavailable under errors.Is.
var ErrUnavailable = errors.New("statestore: backend unavailable")

// Store is the durable persistence contract for workflow specs and state.
// Implementations make Save atomic: the workflow state (task states
// included) and any outbox events are committed together or not at all.
// The relational backends do this in one transaction over the state row
// and the outbox rows; they keep no separate per-task rows.
type Store interface {
	// SaveSpec persists an immutable workflow specification. Called once at
	// submission time. A second SaveSpec for an existing ID leaves the first
	// spec in place and returns nil.
	SaveSpec(ctx context.Context, spec *workflow.Spec) error

	// LoadSpec retrieves a previously saved specification.
	LoadSpec(ctx context.Context, workflowID string) (*workflow.Spec, error)

	// Save persists the workflow's mutable execution state, enforcing
	// optimistic concurrency on State.Version, and atomically appends any
	// outbox events produced during this transition.
	Save(ctx context.Context, state *workflow.State, outbox []eventlog.Event) error

	// Load retrieves the most recently saved execution state.
	Load(ctx context.Context, workflowID string) (*workflow.State, error)

	// List returns the ids of all workflows in the given status, for crash
	// recovery scans (spec.md §4.9 "Resumption").
	List(ctx context.Context, status workflow.Status) ([]string, error)

	// PendingEvents retrieves outbox events not yet marked emitted, oldest
	// first (spec.md §4.2, transactional-outbox pattern shared with
	// graph/store.Store.PendingEvents).
	PendingEvents(ctx context.Context, limit int) ([]eventlog.Event, error)

	// MarkEventsEmitted marks outbox events as delivered so PendingEvents
	// will not return them again.
	MarkEventsEmitted(ctx context.Context, eventIDs []string) error

	// Close releases backend resources.
	Close() error
}
