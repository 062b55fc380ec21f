package templates

import (
	"context"
	"sync"
	"time"
)

// CachingRepository serves ListActive from a snapshot refreshed every ttl.
// Usage writes pass straight through.
type CachingRepository struct {
	inner Repository
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	snapshot  []Template
	fetchedAt time.Time
}

// NewCachingRepository wraps inner. A non-positive ttl disables caching.
func NewCachingRepository(inner Repository, ttl time.Duration) *CachingRepository {
	if inner == nil {
		panic("templates: inner repository cannot be nil")
	}
	return &CachingRepository{inner: inner, ttl: ttl, now: time.Now}
}

func (c *CachingRepository) ListActive(ctx context.Context) ([]Template, error) {
	if c.ttl <= 0 {
		return c.inner.ListActive(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.snapshot, nil
	}
	list, err := c.inner.ListActive(ctx)
	if err != nil {
		if c.snapshot != nil {
			// Serve stale content rather than dropping to generated text.
			return c.snapshot, nil
		}
		return nil, err
	}
	if list == nil {
		list = []Template{}
	}
	c.snapshot = list
	c.fetchedAt = c.now()
	return list, nil
}

func (c *CachingRepository) RecordUsage(ctx context.Context, id string, at time.Time) error {
	return c.inner.RecordUsage(ctx, id, at)
}

// Invalidate drops the snapshot so the next read refetches.
func (c *CachingRepository) Invalidate() {
	c.mu.Lock()
	c.snapshot = nil
	c.mu.Unlock()
}

var _ Repository = (*CachingRepository)(nil)
