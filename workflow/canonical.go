package workflow

import (
	"bytes"
	"encoding/json"
	"sort"
)

// CanonicalJSON serializes v with map keys sorted lexicographically at
// every nesting level, producing a stable byte representation suitable for
// content-addressed hashing (idempotency keys, audit-entry content hashes).
// Grounded on graph/checkpoint.go's computeIdempotencyKey, which hashes a
// JSON marshaling of state directly; generalized here because the spec's
// dynamic map[string]any values need canonical key ordering that Go's
// encoding/json already guarantees for map[string]X but not for nested
// interface{} values decoded from arbitrary JSON (those decode as
// map[string]interface{}, which json.Marshal also sorts by key — this
// function exists chiefly to make that guarantee explicit and testable,
// and to apply it uniformly across the idempotency and audit subsystems).
func CanonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

// normalize round-trips v through JSON so arbitrary Go struct values
// (including typed fields like TaskType) are reduced to the plain
// map[string]any / []any / scalar tree. It does not reorder anything
// itself: deterministic key order in the final encoding comes from
// encoding/json, which writes map keys in sorted order.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// sortedKeys returns m's keys in lexicographic order.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
