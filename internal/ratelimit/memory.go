package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	start time.Time
	count int64
}

// MemoryCounter keeps window counts in process memory.
type MemoryCounter struct {
	mu        sync.Mutex
	entries   map[string]*windowEntry
	lastSweep time.Time
}

// NewMemoryCounter constructs an empty counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*windowEntry)}
}

// Increment adds one hit for key in the window starting at windowStart.
func (c *MemoryCounter) Increment(_ context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !entry.start.Equal(windowStart) {
		entry = &windowEntry{start: windowStart}
		c.entries[key] = entry
	}
	entry.count++

	if windowStart.Sub(c.lastSweep) >= window {
		c.sweep(windowStart)
		c.lastSweep = windowStart
	}
	return entry.count, nil
}

// Len returns the number of tracked keys.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep drops entries from closed windows. Caller holds mu.
func (c *MemoryCounter) sweep(current time.Time) {
	for key, entry := range c.entries {
		if entry.start.Before(current) {
			delete(c.entries, key)
		}
	}
}
