// Package auditlog implements the AuditLog component (spec.md §4.3): a
// hash-chained, tamper-evident record of every governance-relevant
// decision (policy gate evaluations, approvals, CRV verdicts,
// compensations, rollbacks). Grounded on graph/checkpoint.go's
// computeIdempotencyKey SHA-256-over-fields pattern, generalized from a
// single digest of (runID, stepID, frontier, state) to a canonical-JSON
// digest of a full entry chained to its predecessor's hash.
package auditlog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/wfguard/orchestrator/workflow"
)

// ErrIntegrity is returned by VerifyChain when a stored entry's hash does
// not match its recomputed digest or its PreviousHash does not match the
// prior entry's ContentHash.
var ErrIntegrity = errors.New("auditlog: hash chain integrity check failed")

// Entry is one append-only, hash-chained audit record (spec.md §3 "Audit
// entry").
type Entry struct {
	Seq           int64          `json:"seq"`
	WorkflowID    string         `json:"workflow_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Actor         string         `json:"actor"`
	Action        string         `json:"action"`
	StateBefore   map[string]any `json:"state_before,omitempty"`
	StateAfter    map[string]any `json:"state_after,omitempty"`
	Provenance    map[string]any `json:"provenance,omitempty"`
	PreviousHash  string         `json:"previous_hash"`
	ContentHash   string         `json:"content_hash"`
}

// computeContentHash returns the SHA-256 hex digest of entry's fields
// other than ContentHash itself, over a canonical JSON encoding (spec.md
// §4.3 "canonical serialization: recursively sorted map keys, RFC3339
// nanosecond timestamps").
func computeContentHash(e Entry) (string, error) {
	e.ContentHash = ""
	payload, err := workflow.CanonicalJSON(e)
	if err != nil {
		return "", fmt.Errorf("auditlog: canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Log is the durable, append-only, hash-chained audit record contract.
type Log interface {
	// Append computes entry's ContentHash (chained to the current tail's
	// ContentHash via PreviousHash) and durably persists it. Entries are
	// immutable once appended: there is no update or delete operation.
	Append(ctx context.Context, workflowID, actor, action string, stateBefore, stateAfter, provenance map[string]any) (Entry, error)

	// Read returns every entry for a workflow in Seq order.
	Read(ctx context.Context, workflowID string) ([]Entry, error)

	// VerifyChain recomputes every entry's content hash and confirms the
	// PreviousHash linkage, returning ErrIntegrity at the first break
	// (spec.md §4.3 "orchestrator must refuse to start against a log that
	// fails verification").
	VerifyChain(ctx context.Context, workflowID string) error
}
