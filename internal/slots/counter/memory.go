package counter

import (
	"context"
	"sync"
)

// MemoryCounter is a process-local Counter for single-node deployments and
// tests. The mutex gives the same per-key serialization the Redis
// implementation gets from its script.
type MemoryCounter struct {
	mu     sync.Mutex
	values map[string]int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		values: make(map[string]int),
	}
}

func (c *MemoryCounter) Get(_ context.Context, classID string) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.values[classID]
	return value, ok, nil
}

func (c *MemoryCounter) SetIfAbsent(_ context.Context, classID string, value int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.values[classID]; ok {
		return false, nil
	}
	c.values[classID] = value
	return true, nil
}

func (c *MemoryCounter) DecrementIfPositive(_ context.Context, classID string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.values[classID]
	if !ok {
		return Absent, nil
	}
	if value <= 0 {
		return Exhausted, nil
	}
	c.values[classID] = value - 1
	return Decremented, nil
}

func (c *MemoryCounter) Increment(_ context.Context, classID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[classID]++
	return nil
}

func (c *MemoryCounter) Delete(_ context.Context, classID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.values, classID)
	return nil
}

func (c *MemoryCounter) Ping(_ context.Context) error {
	return nil
}
