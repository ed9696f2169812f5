package enforce

import (
	"context"
	"sync"
)

// MemoryCounter is an in-process UsageCounter. The compare-and-increment
// runs under one lock, so concurrent attempts against the same rule
// serialize.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryCounter creates an empty in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

// CheckAndIncrement implements UsageCounter.
func (c *MemoryCounter) CheckAndIncrement(_ context.Context, ruleID string, max int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.counts[ruleID]
	if n >= max {
		return n, false, nil
	}
	c.counts[ruleID] = n + 1
	return n + 1, true, nil
}

// Count returns the current counter value for a rule.
func (c *MemoryCounter) Count(ruleID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[ruleID]
}
