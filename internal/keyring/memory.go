package keyring

import (
	"context"
	"sync"
	"time"
)

// MemoryCursor is a process-local cursor for single instance deployments and
// tests. It honours the same TTL as the shared cursors.
type MemoryCursor struct {
	mu        sync.Mutex
	next      int64
	expiresAt time.Time
	ttl       time.Duration
	now       func() time.Time
}

func NewMemoryCursor(ttl time.Duration) *MemoryCursor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCursor{ttl: ttl, now: time.Now}
}

func (c *MemoryCursor) Advance(_ context.Context, n int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
		c.next = 0
	}
	index := wrap(c.next, n)
	c.next = int64((index + 1) % n)
	c.expiresAt = now.Add(c.ttl)
	return index, nil
}
