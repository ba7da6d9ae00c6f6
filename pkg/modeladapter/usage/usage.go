// Package usage tracks token consumption reported by completion streams.
package usage

import (
	"maps"
	"sync"
)

// TokenCount holds input and output token counts for one exchange.
type TokenCount struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the sum of input and output tokens.
func (tc TokenCount) Total() int {
	return tc.InputTokens + tc.OutputTokens
}

// Tracker accumulates token usage per model across exchanges of all
// sessions sharing an adapter. It is safe for concurrent use. The zero value
// is ready to use.
type Tracker struct {
	mu      sync.Mutex
	count   int
	total   TokenCount
	byModel map[string]TokenCount
}

// Add records the usage of one exchange served by model.
func (t *Tracker) Add(model string, tc TokenCount) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.byModel == nil {
		t.byModel = make(map[string]TokenCount)
	}

	m := t.byModel[model]
	m.InputTokens += tc.InputTokens
	m.OutputTokens += tc.OutputTokens
	t.byModel[model] = m

	t.total.InputTokens += tc.InputTokens
	t.total.OutputTokens += tc.OutputTokens
	t.count++
}

// Total returns the aggregate token count across all entries.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.total
}

// Count returns the number of recorded entries.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.count
}

// ByModel returns a snapshot of usage keyed by model id.
func (t *Tracker) ByModel() map[string]TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return maps.Clone(t.byModel)
}
