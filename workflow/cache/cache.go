// Package cache implements the ToolResultCache component (spec.md §4.5):
// a store of successful tool invocation results keyed by idempotency key,
// consulted by the Tool Execution Layer before re-invoking a
// cache_replay-strategy tool. Only successes are ever stored; a failed
// call is never cached so a retry always gets a fresh attempt.
package cache

import "context"

// Cache is the ToolResultCache contract.
type Cache interface {
	// Get returns the cached result for key, if present.
	Get(ctx context.Context, key string) (result map[string]any, ok bool, err error)

	// Set stores result under key. Only called for successful invocations.
	Set(ctx context.Context, key string, result map[string]any) error

	// Has reports whether key is present without retrieving the value.
	Has(ctx context.Context, key string) (bool, error)

	// Clear removes a single key's entry.
	Clear(ctx context.Context, key string) error

	// ClearAll removes every entry. Intended for test teardown and the
	// Reflexion sandbox's per-attempt isolation.
	ClearAll(ctx context.Context) error
}
