package cache

import (
	"context"
	"sync"
	"time"

	"fieldroute/internal/opt"
)

type entry struct {
	route    opt.Route
	storedAt time.Time
}

// Memory is a process-local RouteCache. Expired entries are dropped lazily
// when read.
type Memory struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	m   map[string]entry
}

// NewMemory returns a Memory cache; ttl <= 0 uses DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, m: map[string]entry{}}
}

// WithClock replaces the time source, for tests.
func (c *Memory) WithClock(now func() time.Time) *Memory {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *Memory) Get(_ context.Context, key string) (opt.Route, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return opt.Route{}, false, nil
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.m, key)
		return opt.Route{}, false, nil
	}
	return e.route, true, nil
}

func (c *Memory) Put(_ context.Context, key string, r opt.Route) error {
	c.mu.Lock()
	c.m[key] = entry{route: r, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

func (c *Memory) Clear(_ context.Context) error {
	c.mu.Lock()
	c.m = map[string]entry{}
	c.mu.Unlock()
	return nil
}

// Len counts stored entries, expired or not.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
