package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
)

type item struct {
	entity   *entity.Entity
	inserted time.Time
	name     string
	alts     []string
}

type lruCache struct {
	name    string
	maxAge  time.Duration
	clock   clock.Clock
	altKeys func(*entity.Entity) []string

	mu     sync.Mutex
	lru    *simplelru.LRU[string, *item]
	byName map[string]string
	byAlt  map[string]string

	hits, misses, evictions, expirations int64
	maxEntries                           int
}

func newLRUCache(opts Options) *lruCache {
	c := &lruCache{
		name:       opts.Name,
		maxAge:     opts.MaxAge,
		clock:      opts.Clock,
		altKeys:    opts.AltKeys,
		byName:     make(map[string]string),
		byAlt:      make(map[string]string),
		maxEntries: opts.MaxEntries,
	}
	if c.clock == nil {
		c.clock = clock.WallClock
	}
	// size is positive, so NewLRU cannot fail
	c.lru, _ = simplelru.NewLRU(opts.MaxEntries, c.onEvict)
	return c
}

func fold(key string) string {
	return strings.ToLower(key)
}

// onEvict drops the secondary indexes of an entry leaving the LRU. It runs
// with c.mu held.
func (c *lruCache) onEvict(id string, it *item) {
	if c.byName[it.name] == id {
		delete(c.byName, it.name)
	}
	for _, alt := range it.alts {
		if c.byAlt[alt] == id {
			delete(c.byAlt, alt)
		}
	}
}

func (c *lruCache) expired(it *item) bool {
	return c.maxAge > 0 && c.clock.Now().Sub(it.inserted) > c.maxAge
}

// lookup resolves id and records the hit or miss. c.mu must be held.
func (c *lruCache) lookup(id string, found bool) (*entity.Entity, bool) {
	if !found {
		c.misses++
		return nil, false
	}
	it, ok := c.lru.Get(id)
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(it) {
		c.lru.Remove(id)
		c.expirations++
		c.misses++
		return nil, false
	}
	c.hits++
	return it.entity.Clone(), true
}

func (c *lruCache) GetByID(id string) (*entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(id, true)
}

func (c *lruCache) GetByName(name string) (*entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byName[fold(name)]
	return c.lookup(id, ok)
}

func (c *lruCache) GetByAlt(key string) (*entity.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byAlt[fold(key)]
	return c.lookup(id, ok)
}

func (c *lruCache) Put(e *entity.Entity) {
	if e == nil || e.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(e)
}

func (c *lruCache) put(e *entity.Entity) {
	it := &item{
		entity:   e.Clone(),
		inserted: c.clock.Now(),
		name:     fold(e.Name),
	}
	if c.altKeys != nil {
		for _, alt := range c.altKeys(e) {
			if alt != "" {
				it.alts = append(it.alts, fold(alt))
			}
		}
	}

	// one live entry per id, and a name or alternate key resolves to at
	// most one entry
	c.lru.Remove(e.ID)
	if other, ok := c.byName[it.name]; ok && other != e.ID {
		c.lru.Remove(other)
	}
	for _, alt := range it.alts {
		if other, ok := c.byAlt[alt]; ok && other != e.ID {
			c.lru.Remove(other)
		}
	}

	if c.lru.Add(e.ID, it) {
		c.evictions++
	}
	if it.name != "" {
		c.byName[it.name] = e.ID
	}
	for _, alt := range it.alts {
		c.byAlt[alt] = e.ID
	}
}

func (c *lruCache) Replace(e *entity.Entity) {
	if e == nil || e.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Contains(e.ID) {
		c.put(e)
	}
}

func (c *lruCache) Remove(e *entity.Entity) {
	if e == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.ID != "" {
		c.lru.Remove(e.ID)
	}
	if id, ok := c.byName[fold(e.Name)]; ok && e.Name != "" {
		c.lru.Remove(id)
	}
}

func (c *lruCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	clear(c.byName)
	clear(c.byAlt)
	c.hits, c.misses, c.evictions, c.expirations = 0, 0, 0, 0
}

func (c *lruCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *lruCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitRate()
}

func (c *lruCache) hitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *lruCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:        c.name,
		Entries:     c.lru.Len(),
		MaxEntries:  c.maxEntries,
		MaxAge:      c.maxAge,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		HitRate:     c.hitRate(),
	}
}
