package cache

import (
	"context"
	"sync"
	"time"
)

// defaultMemoryLimit bounds the number of cached profiles. A flood of
// distinct tokens evicts the entries closest to expiry instead of growing
// the process.
const defaultMemoryLimit = 10000

const janitorInterval = time.Minute

// MemoryCache is a process-local Cache. Entries are dropped when read after
// expiry and by a janitor running every minute.
type MemoryCache struct {
	mu    sync.RWMutex
	data  map[string]entry
	limit int
	now   func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

func NewMemoryCache() *MemoryCache {
	mc := &MemoryCache{
		data:  make(map[string]entry),
		limit: defaultMemoryLimit,
		now:   time.Now,
		stop:  make(chan struct{}),
	}

	go mc.janitor(janitorInterval)

	return mc
}

func (mc *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	mc.mu.RLock()
	e, ok := mc.data[key]
	mc.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if e.expired(mc.now()) {
		mc.mu.Lock()
		if cur, ok := mc.data[key]; ok && cur.expired(mc.now()) {
			delete(mc.data, key)
		}
		mc.mu.Unlock()
		return nil, ErrNotFound
	}

	return append([]byte(nil), e.value...), nil
}

// Set stores value for ttl. A non-positive ttl stores nothing.
func (mc *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.data[key]; !exists && len(mc.data) >= mc.limit {
		mc.evictLocked()
	}

	mc.data[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: mc.now().Add(ttl),
	}
	return nil
}

func (mc *MemoryCache) Delete(_ context.Context, key string) error {
	mc.mu.Lock()
	delete(mc.data, key)
	mc.mu.Unlock()
	return nil
}

func (mc *MemoryCache) Exists(_ context.Context, key string) (bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	e, ok := mc.data[key]
	return ok && !e.expired(mc.now()), nil
}

// Len reports the number of stored entries, expired ones included until
// they are collected.
func (mc *MemoryCache) Len() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.data)
}

// Close stops the janitor. It is safe to call more than once.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.cleanup()
		case <-mc.stop:
			return
		}
	}
}

func (mc *MemoryCache) cleanup() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	for key, e := range mc.data {
		if e.expired(now) {
			delete(mc.data, key)
		}
	}
}

// evictLocked frees one slot: every expired entry if there are any, else the
// entry expiring first.
func (mc *MemoryCache) evictLocked() {
	now := mc.now()

	var (
		victim  string
		soonest time.Time
		freed   bool
	)
	for key, e := range mc.data {
		if e.expired(now) {
			delete(mc.data, key)
			freed = true
			continue
		}
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = key, e.expiresAt
		}
	}

	if !freed && victim != "" {
		delete(mc.data, victim)
	}
}
