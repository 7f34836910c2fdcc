// Package detail caches case detail views for the lifetime of a session.
package detail

import (
	"context"
	"sync"

	"casedesk/cases"
)

// Cache stores case details by id. Implementations are scoped to a single
// session; Purge drops everything the session stored.
type Cache interface {
	Get(ctx context.Context, caseID int64) (cases.Detail, bool, error)
	Put(ctx context.Context, d cases.Detail) error
	Invalidate(ctx context.Context, caseID int64) error
	Purge(ctx context.Context) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[int64]cases.Detail
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[int64]cases.Detail)}
}

func (c *MemoryCache) Get(_ context.Context, caseID int64) (cases.Detail, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[caseID]
	return d, ok, nil
}

func (c *MemoryCache) Put(_ context.Context, d cases.Detail) error {
	c.mu.Lock()
	c.entries[d.ID] = d
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, caseID int64) error {
	c.mu.Lock()
	delete(c.entries, caseID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Purge(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[int64]cases.Detail)
	c.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
