package cache

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slippymap/internal/tiles"
)

func testTile(key tiles.Key) *tiles.Tile {
	return tiles.NewTile(key, image.NewRGBA(image.Rect(0, 0, tiles.TileSize, tiles.TileSize)))
}

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(64<<20, time.Minute)
	defer c.Stop()

	key := tiles.Key{Zoom: 4, X: 1, Y: 2}
	_, ok := c.Get(key)
	assert.False(t, ok)

	tile := testTile(key)
	c.Set(key, tile)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Same(t, tile, got)
	assert.True(t, c.Has(key))
	assert.Equal(t, 1, c.Len())

	c.Set(key, nil)
	got, _ = c.Get(key)
	assert.Same(t, tile, got, "nil tiles are never stored")

	hits, misses, _ := c.Stats()
	assert.EqualValues(t, 2, hits)
	assert.EqualValues(t, 1, misses)

	c.Clear()
	assert.False(t, c.Has(key))
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(64<<20, 10*time.Millisecond)
	defer c.Stop()

	key := tiles.Key{Zoom: 1}
	c.Set(key, testTile(key))
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(key)
	assert.False(t, ok)
}

func TestMemoryCacheIsBounded(t *testing.T) {
	one := testTile(tiles.Key{}).Size()
	c := NewMemoryCache(8*one, time.Minute)
	defer c.Stop()

	for x := 0; x < 32; x++ {
		key := tiles.Key{Zoom: 5, X: x}
		c.Set(key, testTile(key))
	}
	assert.Eventually(t, func() bool { return c.Len() <= 8 }, time.Second, 5*time.Millisecond)
}

func TestMemoryCacheShrinkRestore(t *testing.T) {
	one := testTile(tiles.Key{}).Size()
	c := NewMemoryCache(16*one, time.Minute)
	defer c.Stop()

	for x := 0; x < 12; x++ {
		key := tiles.Key{Zoom: 5, X: x}
		c.Set(key, testTile(key))
	}
	assert.Eventually(t, func() bool { return c.Len() == 12 }, time.Second, 5*time.Millisecond)

	assert.True(t, c.Shrink())
	assert.False(t, c.Shrink())
	assert.True(t, c.Shrunk())
	assert.Eventually(t, func() bool { return c.Len() <= 8 }, time.Second, 5*time.Millisecond)

	assert.True(t, c.Restore())
	assert.False(t, c.Restore())
	assert.False(t, c.Shrunk())
}

func TestPressureWatcher(t *testing.T) {
	c := NewMemoryCache(64<<20, time.Minute)
	defer c.Stop()

	heap := uint64(0)
	w := NewPressureWatcher(c, 1000, time.Second, zap.NewNop())
	w.readHeap = func() uint64 { return heap }

	heap = 1500
	w.Check()
	assert.True(t, c.Shrunk())

	// Between half the limit and the limit nothing changes.
	heap = 700
	w.Check()
	assert.True(t, c.Shrunk())

	heap = 400
	w.Check()
	assert.False(t, c.Shrunk())
}
