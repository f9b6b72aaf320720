package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is an in-process LRU with per-entry TTL. It serves as the cache
// layer when Redis is not configured and as a test double.
type Memory struct {
	mu   sync.Mutex
	cap  int
	list *list.List               // front = most recent
	m    map[string]*list.Element // key -> element
}

type memEntry struct {
	key      string
	value    []byte
	storedAt time.Time
	ttl      time.Duration
}

// NewMemory creates a memory cache holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Memory{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.m[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(memEntry)
	if time.Since(ent.storedAt) > ent.ttl {
		// Expired: logically deleted on read.
		c.list.Remove(el)
		delete(c.m, key)
		return nil, false
	}
	c.list.MoveToFront(el)
	return ent.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ent := memEntry{key: key, value: value, storedAt: time.Now(), ttl: ttl}
	if el, ok := c.m[key]; ok {
		el.Value = ent
		c.list.MoveToFront(el)
		return
	}
	c.m[key] = c.list.PushFront(ent)
	if c.list.Len() > c.cap {
		oldest := c.list.Back()
		if oldest != nil {
			delete(c.m, oldest.Value.(memEntry).key)
			c.list.Remove(oldest)
		}
	}
}
