package tool

import (
	"context"
	"sync"
)

// MockTool is a reusable test double for Tool: a configurable response
// sequence plus call history, safe for concurrent use by the Orchestrator's
// worker goroutines.
type MockTool struct {
	// ToolName is the identifier returned by Name().
	ToolName string

	// Responses is the sequence of outputs returned by successive calls.
	// Once exhausted, the last response repeats.
	Responses []map[string]any

	// Err, if set, is returned instead of a response.
	Err error

	// Calls records every invocation's input, in order.
	Calls []MockToolCall

	mu        sync.Mutex
	callIndex int
}

// MockToolCall records a single Call invocation.
type MockToolCall struct {
	Input map[string]any
}

// Name implements Tool.
func (m *MockTool) Name() string {
	return m.ToolName
}

// Call implements Tool: records the call, then returns Err if configured,
// otherwise the next queued response (repeating the last one once
// exhausted).
func (m *MockTool) Call(ctx context.Context, input map[string]any) (map[string]any, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockToolCall{Input: input})

	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return map[string]any{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears call history and rewinds the response index, for reusing one
// MockTool across independent subtests.
func (m *MockTool) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.callIndex = 0
}

// CallCount reports how many times Call has been invoked.
func (m *MockTool) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
