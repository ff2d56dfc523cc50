// Package cache memoizes execution results per (engine, canonical SQL) with
// single-flight semantics: concurrent identical requests share one backend
// execution, so a popular dashboard question is billed once, not N times.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/medsidd/whyline-denver/internal/engine"
	"github.com/medsidd/whyline-denver/internal/models"
)

// Key derives the cache key from the engine and the canonical SQL (filters
// included). Cosmetic SQL differences were already collapsed by
// canonicalization.
func Key(engineName, canonicalSQL string) string {
	digest := sha256.Sum256([]byte(canonicalSQL))
	return fmt.Sprintf("%s:%x", engineName, digest)
}

type entry struct {
	result    *engine.Result
	createdAt time.Time
}

// flight is one in-progress execution. Waiters attach and detach; the
// underlying execution is cancelled only when the last waiter has gone.
type flight struct {
	done    chan struct{}
	result  *engine.Result
	err     error
	waiters int
	settled bool
	cancel  context.CancelFunc
}

// Cache is a TTL- and capacity-bounded single-flight result cache. Entries
// expire after the TTL; once capacity is exceeded the oldest entries are
// evicted first, independent of TTL. Process-memory only.
type Cache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order, for oldest-first eviction
	flights map[string]*flight
}

func New(ttl time.Duration, capacity int) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*entry),
		flights:  make(map[string]*flight),
	}
}

// GetOrExecute returns the cached result for key, or runs fn exactly once
// across all concurrent callers and caches its success. The second return
// value reports whether the result came from the cache.
//
// fn runs on a context detached from any single caller: cancelling one of
// several waiters only detaches that waiter, and the execution is aborted
// only when every waiter has cancelled. A failed execution is not cached, so
// the next call retries.
func (c *Cache) GetOrExecute(ctx context.Context, key string, fn func(context.Context) (*engine.Result, error)) (*engine.Result, bool, error) {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok {
		if time.Since(e.createdAt) < c.ttl {
			c.mu.Unlock()
			return e.result, true, nil
		}
		c.removeLocked(key)
	}

	if f, ok := c.flights[key]; ok {
		f.waiters++
		c.mu.Unlock()
		return c.wait(ctx, key, f)
	}

	// Leader: start the execution on a detached context.
	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
	c.flights[key] = f
	c.mu.Unlock()

	go c.run(key, f, execCtx, fn)

	return c.wait(ctx, key, f)
}

func (c *Cache) run(key string, f *flight, execCtx context.Context, fn func(context.Context) (*engine.Result, error)) {
	result, err := fn(execCtx)
	f.cancel()

	c.mu.Lock()
	f.result, f.err = result, err
	f.settled = true
	close(f.done)
	delete(c.flights, key)
	if err == nil {
		c.storeLocked(key, result)
	}
	c.mu.Unlock()
}

func (c *Cache) wait(ctx context.Context, key string, f *flight) (*engine.Result, bool, error) {
	select {
	case <-f.done:
		return f.result, false, f.err
	case <-ctx.Done():
		c.detach(f)
		return nil, false, models.WrapQueryError(models.KindCancelled, ctx.Err(), "query cancelled")
	}
}

// detach removes one waiter from a flight. The last waiter to leave aborts
// the execution; everyone still attached keeps it alive.
func (c *Cache) detach(f *flight) {
	c.mu.Lock()
	f.waiters--
	abort := f.waiters == 0 && !f.settled
	c.mu.Unlock()
	if abort {
		f.cancel()
	}
}

// Get returns a live cached result without executing anything.
func (c *Cache) Get(key string) (*engine.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(e.createdAt) >= c.ttl {
		c.removeLocked(key)
		return nil, false
	}
	return e.result, true
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) storeLocked(key string, result *engine.Result) {
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &entry{result: result, createdAt: time.Now()}
	for c.capacity > 0 && len(c.entries) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
