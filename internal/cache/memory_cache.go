package cache

import (
	"sync/atomic"
	"time"

	"github.com/karlseguin/ccache/v3"

	"slippymap/internal/tiles"
)

// blockSize is the unit the memory budget is accounted in. ccache prunes at
// least as many entries as the budget is exceeded by, so sizes are kept in
// coarse blocks rather than bytes.
const blockSize = 64 * 1024

// DefaultTTL bounds how long an unused decoded tile stays in memory.
const DefaultTTL = time.Hour

type memEntry struct {
	tile *tiles.Tile
}

func (e memEntry) Size() int64 {
	return (e.tile.Size() + blockSize - 1) / blockSize
}

// MemoryCache is the in-memory tier of decoded tiles. It is bounded by a byte
// budget, evicts least recently used tiles first and can be shrunk at any
// time by Shrink, so entries are never pinned.
type MemoryCache struct {
	cache   *ccache.Cache[memEntry]
	blocks  int64
	ttl     time.Duration
	shrunk  atomic.Bool
	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// NewMemoryCache creates a memory tier holding up to maxBytes of decoded
// images. A non-positive ttl uses DefaultTTL.
func NewMemoryCache(maxBytes int64, ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	blocks := maxBytes / blockSize
	if blocks < 1 {
		blocks = 1
	}
	return &MemoryCache{
		cache:  ccache.New(ccache.Configure[memEntry]().MaxSize(blocks).ItemsToPrune(16)),
		blocks: blocks,
		ttl:    ttl,
	}
}

func (c *MemoryCache) Get(key tiles.Key) (*tiles.Tile, bool) {
	item := c.cache.Get(key.String())
	if item == nil || item.Expired() {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return item.Value().tile, true
}

func (c *MemoryCache) Has(key tiles.Key) bool {
	item := c.cache.Get(key.String())
	return item != nil && !item.Expired()
}

func (c *MemoryCache) Set(key tiles.Key, tile *tiles.Tile) {
	if tile == nil {
		return
	}
	c.cache.Set(key.String(), memEntry{tile: tile}, c.ttl)
}

// Clear drops every entry, as a full reclaim would.
func (c *MemoryCache) Clear() {
	c.cache.Clear()
}

func (c *MemoryCache) Len() int {
	return c.cache.ItemCount()
}

// Shrink halves the budget, letting the cache prune least recently used
// tiles. It is a no-op while already shrunk.
func (c *MemoryCache) Shrink() bool {
	if !c.shrunk.CompareAndSwap(false, true) {
		return false
	}
	c.cache.SetMaxSize(max(c.blocks/2, 1))
	return true
}

// Restore returns the budget to its configured size after Shrink.
func (c *MemoryCache) Restore() bool {
	if !c.shrunk.CompareAndSwap(true, false) {
		return false
	}
	c.cache.SetMaxSize(c.blocks)
	return true
}

func (c *MemoryCache) Shrunk() bool {
	return c.shrunk.Load()
}

// Stats returns cumulative hit and miss counts and the number of tiles
// dropped by pruning.
func (c *MemoryCache) Stats() (hits, misses, dropped uint64) {
	dropped = c.dropped.Add(uint64(c.cache.GetDropped()))
	return c.hits.Load(), c.misses.Load(), dropped
}

// Stop terminates the cache's background worker.
func (c *MemoryCache) Stop() {
	c.cache.Stop()
}
