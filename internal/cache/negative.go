package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/juju/clock"
)

// NegativeCache remembers keys confirmed absent from the directory for a
// bounded time. A nil or zero-sized NegativeCache remembers nothing.
type NegativeCache struct {
	maxAge time.Duration
	clock  clock.Clock

	mu  sync.Mutex
	lru *simplelru.LRU[string, time.Time]
}

// NewNegative returns a negative cache holding at most maxEntries keys for
// at most maxAge each.
func NewNegative(maxEntries int, maxAge time.Duration, clk clock.Clock) *NegativeCache {
	if clk == nil {
		clk = clock.WallClock
	}
	n := &NegativeCache{maxAge: maxAge, clock: clk}
	if maxEntries > 0 && maxAge > 0 {
		n.lru, _ = simplelru.NewLRU[string, time.Time](maxEntries, nil)
	}
	return n
}

// Contains reports whether key was recently confirmed absent.
func (n *NegativeCache) Contains(key string) bool {
	if n == nil || n.lru == nil {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	added, ok := n.lru.Get(fold(key))
	if !ok {
		return false
	}
	if n.clock.Now().Sub(added) > n.maxAge {
		n.lru.Remove(fold(key))
		return false
	}
	return true
}

// Add records key as absent.
func (n *NegativeCache) Add(key string) {
	if n == nil || n.lru == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lru.Add(fold(key), n.clock.Now())
}

// Remove forgets key, typically because an entry with that key was created.
func (n *NegativeCache) Remove(key string) {
	if n == nil || n.lru == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lru.Remove(fold(key))
}

func (n *NegativeCache) Clear() {
	if n == nil || n.lru == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lru.Purge()
}

func (n *NegativeCache) Len() int {
	if n == nil || n.lru == nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lru.Len()
}
