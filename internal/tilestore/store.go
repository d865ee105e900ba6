// Package tilestore resolves tile keys to decoded tiles through the memory
// tier, the disk tier and the network, in that order, loading each key at
// most once at a time.
package tilestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"slippymap/internal/cache"
	"slippymap/internal/fetch"
	"slippymap/internal/serverpool"
	"slippymap/internal/tiles"
)

// Options configure a Store built by Open.
type Options struct {
	Name        string // cache name, used for the mbtiles file
	Servers     []string
	CacheType   string
	CacheDir    string
	MemoryBytes int64
	TTL         time.Duration
	Timeout     time.Duration
	RPS         float64
	UserAgent   string
}

// Stats are cumulative counters since the store was created.
type Stats struct {
	// MemoryHits and MemoryMisses count every memory tier lookup,
	// including the non-blocking ones made by scheduling passes.
	MemoryHits     uint64 `json:"memoryHits"`
	MemoryMisses   uint64 `json:"memoryMisses"`
	MemoryDropped  uint64 `json:"memoryDropped"`
	DiskHits       uint64 `json:"diskHits"`
	NetworkFetches uint64 `json:"networkFetches"`
	Failures       uint64 `json:"failures"`
	MemoryTiles    int    `json:"memoryTiles"`
	MemoryShrunk   bool   `json:"memoryShrunk"`
}

type Store struct {
	memory  *cache.MemoryCache
	disk    cache.Cache
	fetcher fetch.Fetcher
	log     *zap.Logger
	group   singleflight.Group

	diskHits       atomic.Uint64
	networkFetches atomic.Uint64
	failures       atomic.Uint64
}

// New assembles a store from its tiers. disk may be nil to disable the disk
// tier.
func New(memory *cache.MemoryCache, disk cache.Cache, fetcher fetch.Fetcher, log *zap.Logger) *Store {
	if disk == nil {
		disk = cache.NewNoopCache()
	}
	return &Store{
		memory:  memory,
		disk:    disk,
		fetcher: fetcher,
		log:     log,
	}
}

// Open validates opts and builds all tiers. An empty or malformed server
// list is a configuration error.
func Open(opts Options, log *zap.Logger) (*Store, error) {
	pool, err := serverpool.New(opts.Servers, serverpool.WithRateLimit(opts.RPS, 1))
	if err != nil {
		return nil, fmt.Errorf("invalid tile servers: %w", err)
	}

	disk, err := cache.NewCache(opts.CacheType, opts.CacheDir, opts.Name, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk cache: %w", err)
	}

	fetcher := fetch.NewHTTPFetcher(pool, log,
		fetch.WithTimeout(opts.Timeout),
		fetch.WithUserAgent(opts.UserAgent))

	log.Info("Tile store ready",
		zap.Strings("servers", pool.Prefixes()),
		zap.String("cache_type", opts.CacheType),
		zap.Int64("memory_bytes", opts.MemoryBytes))

	return New(cache.NewMemoryCache(opts.MemoryBytes, opts.TTL), disk, fetcher, log), nil
}

// Memory exposes the memory tier, e.g. to attach a pressure watcher.
func (s *Store) Memory() *cache.MemoryCache {
	return s.memory
}

// GetIfPresent consults the memory tier only and never blocks on I/O.
func (s *Store) GetIfPresent(key tiles.Key) (*tiles.Tile, bool) {
	return s.memory.Get(key)
}

// Cached reports whether key is held by the memory or disk tier, without
// reading or decoding it.
func (s *Store) Cached(key tiles.Key) bool {
	return s.memory.Has(key) || s.disk.Has(key)
}

// Clear empties both cache tiers.
func (s *Store) Clear() error {
	s.memory.Clear()
	if err := s.disk.Clear(); err != nil {
		return fmt.Errorf("failed to clear disk cache: %w", err)
	}
	s.log.Info("Tile caches cleared")
	return nil
}

// Get returns the tile for key, loading it from disk or the network when it
// is not in memory. Concurrent callers for the same key share one load.
// Every failure is logged and reported as absent. If ctx is done before the
// load finishes the caller gives up, but the shared load still completes and
// populates the caches.
func (s *Store) Get(ctx context.Context, key tiles.Key) (*tiles.Tile, bool) {
	if t, ok := s.GetIfPresent(key); ok {
		return t, true
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.load(loadCtx, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false
		}
		return res.Val.(*tiles.Tile), true
	case <-ctx.Done():
		return nil, false
	}
}

func (s *Store) load(ctx context.Context, key tiles.Key) (*tiles.Tile, error) {
	// A load that finished just before this one started may have filled memory.
	if t, ok := s.GetIfPresent(key); ok {
		return t, nil
	}

	if t, ok := s.loadFromDisk(key); ok {
		return t, nil
	}

	s.networkFetches.Add(1)
	data, err := s.fetcher.Fetch(ctx, key)
	if err != nil {
		s.failures.Add(1)
		s.log.Warn("Failed to fetch tile", keyFields(key, zap.Error(err))...)
		return nil, err
	}

	img, err := decode(data)
	if err != nil {
		s.failures.Add(1)
		s.log.Warn("Failed to decode fetched tile", keyFields(key, zap.Error(err))...)
		return nil, err
	}

	tile := tiles.NewTile(key, img)
	s.memory.Set(key, tile)
	if err := s.disk.Set(key, data); err != nil {
		s.log.Warn("Failed to write tile to disk cache", keyFields(key, zap.Error(err))...)
	}
	return tile, nil
}

func (s *Store) loadFromDisk(key tiles.Key) (*tiles.Tile, bool) {
	data, err := s.disk.Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("Failed to read tile from disk cache", keyFields(key, zap.Error(err))...)
		}
		return nil, false
	}

	img, err := decode(data)
	if err != nil {
		s.log.Warn("Corrupt tile in disk cache, refetching", keyFields(key, zap.Error(err))...)
		return nil, false
	}

	s.diskHits.Add(1)
	tile := tiles.NewTile(key, img)
	s.memory.Set(key, tile)
	return tile, true
}

// maxTileDimension bounds the canvas a tile may declare, so a misbehaving
// server cannot make a worker allocate an arbitrarily large image.
const maxTileDimension = 4 * tiles.TileSize

var ErrTileTooLarge = errors.New("tile image too large")

func decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile image: %w", err)
	}
	if cfg.Width > maxTileDimension || cfg.Height > maxTileDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrTileTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile image: %w", err)
	}
	return img, nil
}

func keyFields(key tiles.Key, extra ...zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.Int("z", key.Zoom),
		zap.Int("x", key.X),
		zap.Int("y", key.Y),
	}, extra...)
}

func (s *Store) Stats() Stats {
	hits, misses, dropped := s.memory.Stats()
	return Stats{
		MemoryHits:     hits,
		MemoryMisses:   misses,
		MemoryDropped:  dropped,
		DiskHits:       s.diskHits.Load(),
		NetworkFetches: s.networkFetches.Load(),
		Failures:       s.failures.Load(),
		MemoryTiles:    s.memory.Len(),
		MemoryShrunk:   s.memory.Shrunk(),
	}
}

// Close stops the memory tier and closes the disk tier if it holds
// resources.
func (s *Store) Close() error {
	s.memory.Stop()
	if c, ok := s.disk.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
