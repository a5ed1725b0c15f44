// Package gapcache tracks blocks that cannot yet be admitted because a
// dependency is missing, but are being actively voted on by multiple
// peers — a signal that the block is likely legitimate and its
// dependency is worth fetching with priority during bootstrap.
// Grounded on original_source/scendere/node/gap_cache.{hpp,cpp}.
package gapcache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/scendere/scendere-node/core/types"
)

// DefaultSize is the maximum number of tracked gap entries, matching the
// reference implementation's bootstrap_weight_max_blocks-scale cache.
const DefaultSize = 256

// DefaultExpiry is how long an entry is tracked before it is evicted for
// staleness, independent of LRU pressure.
const DefaultExpiry = 10 * time.Minute

type entry struct {
	arrived time.Time
	voters  map[types.Account]struct{}
}

// Cache records, per missing-dependency hash, which representative
// accounts have voted for a block that is blocked on it.
type Cache struct {
	mu      sync.Mutex
	entries *lru.Cache[types.BlockHash, *entry]
	expiry  time.Duration
}

// New builds a Cache holding up to size entries.
func New(size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[types.BlockHash, *entry](size)
	if err != nil {
		// lru.New only errors on a non-positive size, already guarded above.
		panic(err)
	}
	return &Cache{entries: c, expiry: DefaultExpiry}
}

// Vote records that voter supports a block gated on dependency. Returns
// the number of distinct voters now recorded for dependency.
func (c *Cache) Vote(dependency types.BlockHash, voter types.Account) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(dependency)
	if !ok || time.Since(e.arrived) > c.expiry {
		e = &entry{arrived: time.Now(), voters: make(map[types.Account]struct{})}
		c.entries.Add(dependency, e)
	}
	e.voters[voter] = struct{}{}
	return len(e.voters)
}

// VoterCount reports how many distinct accounts have voted for a block
// gated on dependency, or 0 if dependency is untracked or stale.
func (c *Cache) VoterCount(dependency types.BlockHash) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries.Get(dependency)
	if !ok || time.Since(e.arrived) > c.expiry {
		return 0
	}
	return len(e.voters)
}

// Erase drops tracking for dependency, called once it arrives and is
// admitted so the cache does not keep voting data for a resolved gap.
func (c *Cache) Erase(dependency types.BlockHash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Remove(dependency)
}

// Len reports the number of tracked dependencies.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
