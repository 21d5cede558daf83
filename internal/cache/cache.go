// Package cache stores extractor results per URL with a fixed TTL.
//
// Each result kind has its own store so a metadata payload can never be
// served for a formats lookup. Expired entries are invisible to Get but keep
// their slot until they are overwritten, swept, or pushed out by the
// capacity bound.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/mediagate/internal/metrics"
)

// Kind names an independent result store.
type Kind string

const (
	// KindMetadata holds analyze results.
	KindMetadata Kind = "metadata"
	// KindFormats holds format listings.
	KindFormats Kind = "formats"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config holds cache settings.
type Config struct {
	// TTL is how long an entry stays visible after it was written.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxEntries bounds each kind's store; the least recently used entry is
	// evicted first. Zero means unbounded.
	MaxEntries int `mapstructure:"max_entries"`
	// SweepInterval is how often Run drops expired entries.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// Entry is one cached payload.
type Entry struct {
	Key       string
	Timestamp time.Time
	Payload   any
}

type store struct {
	items map[string]*list.Element
	lru   *list.List
}

func newStore() *store {
	return &store{items: make(map[string]*list.Element), lru: list.New()}
}

// Cache is a set of per-kind TTL stores. It is safe for concurrent use.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	stores map[Kind]*store
}

// New creates a Cache.
func New(cfg Config, clock Clock) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Cache{
		cfg:    cfg,
		clock:  clock,
		stores: make(map[Kind]*store),
	}
}

// storeFor returns the store for kind, creating it. Callers must hold c.mu.
func (c *Cache) storeFor(kind Kind) *store {
	s, ok := c.stores[kind]
	if !ok {
		s = newStore()
		c.stores[kind] = s
	}
	return s
}

// Get returns the payload stored for url under kind if it is younger than TTL.
func (c *Cache) Get(kind Kind, url string) (any, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.storeFor(kind)
	el, ok := s.items[url]
	if !ok {
		metrics.ObserveCacheLookup(string(kind), false)
		return nil, false
	}
	entry := el.Value.(*Entry)
	if now.Sub(entry.Timestamp) >= c.cfg.TTL {
		metrics.ObserveCacheLookup(string(kind), false)
		return nil, false
	}
	s.lru.MoveToFront(el)
	metrics.ObserveCacheLookup(string(kind), true)
	return entry.Payload, true
}

// Put stores payload for url under kind, replacing any previous entry.
func (c *Cache) Put(kind Kind, url string, payload any) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.storeFor(kind)
	if el, ok := s.items[url]; ok {
		entry := el.Value.(*Entry)
		entry.Timestamp = now
		entry.Payload = payload
		s.lru.MoveToFront(el)
		return
	}
	s.items[url] = s.lru.PushFront(&Entry{Key: url, Timestamp: now, Payload: payload})
	if c.cfg.MaxEntries > 0 {
		for s.lru.Len() > c.cfg.MaxEntries {
			oldest := s.lru.Back()
			s.lru.Remove(oldest)
			delete(s.items, oldest.Value.(*Entry).Key)
		}
	}
}

// Len returns the number of stored entries for kind, expired ones included.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores[kind]; ok {
		return len(s.items)
	}
	return 0
}

// Sweep removes expired entries from every store and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, s := range c.stores {
		for key, el := range s.items {
			if now.Sub(el.Value.(*Entry).Timestamp) >= c.cfg.TTL {
				s.lru.Remove(el)
				delete(s.items, key)
				removed++
			}
		}
	}
	return removed
}

// Run sweeps expired entries every SweepInterval until ctx is done. It
// returns immediately when SweepInterval is not positive.
func (c *Cache) Run(ctx context.Context) {
	if c.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
