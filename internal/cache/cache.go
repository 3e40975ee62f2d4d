// Package cache provides the typed entity caches that sit in front of the
// directory.
//
// Every kind has its own independently sized cache. Entries are reachable by
// id, by name and by any alternate keys the cache's AltKeys function derives
// from the entity; all three resolve to the same entry. Entries expire after
// MaxAge and the least recently used entry is evicted once MaxEntries is
// reached. Values are copied on the way in and out, so callers can never
// observe or cause partial updates.
package cache

import (
	"time"

	"github.com/juju/clock"

	"github.com/isometry/dirprov/internal/entity"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "cache"

// Cache is a typed entity cache.
type Cache interface {
	GetByID(id string) (*entity.Entity, bool)
	GetByName(name string) (*entity.Entity, bool)
	GetByAlt(key string) (*entity.Entity, bool)

	// Put inserts or refreshes an entity.
	Put(e *entity.Entity)
	// Replace refreshes an entity only if it is already cached.
	Replace(e *entity.Entity)
	Remove(e *entity.Entity)
	Clear()

	Size() int
	// HitRate is hits / lookups since the last Clear, 0 with no lookups.
	HitRate() float64
	Stats() Stats
}

// Stats describes the state of one cache.
type Stats struct {
	Name        string
	Entries     int
	MaxEntries  int
	MaxAge      time.Duration
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	HitRate     float64
}

// Options configure a cache.
type Options struct {
	Name       string
	MaxEntries int
	MaxAge     time.Duration
	Clock      clock.Clock
	// AltKeys derives alternate lookup keys, for example a domain's
	// foreign names and virtual hostnames.
	AltKeys func(*entity.Entity) []string
}

// New returns an LRU cache, or a disabled cache when MaxEntries is not
// positive.
func New(opts Options) Cache {
	if opts.MaxEntries <= 0 {
		return Disabled(opts.Name)
	}
	return newLRUCache(opts)
}

type disabled struct {
	name string
}

// Disabled returns a cache that never stores anything and reports size 0.
func Disabled(name string) Cache {
	return &disabled{name: name}
}

func (d *disabled) GetByID(string) (*entity.Entity, bool)   { return nil, false }
func (d *disabled) GetByName(string) (*entity.Entity, bool) { return nil, false }
func (d *disabled) GetByAlt(string) (*entity.Entity, bool)  { return nil, false }
func (d *disabled) Put(*entity.Entity)                      {}
func (d *disabled) Replace(*entity.Entity)                  {}
func (d *disabled) Remove(*entity.Entity)                   {}
func (d *disabled) Clear()                                  {}
func (d *disabled) Size() int                               { return 0 }
func (d *disabled) HitRate() float64                        { return 0 }
func (d *disabled) Stats() Stats                            { return Stats{Name: d.name} }
