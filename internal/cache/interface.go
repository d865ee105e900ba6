package cache

import (
	"errors"

	"slippymap/internal/tiles"
)

// ErrNotFound is returned by Get when the tile is not stored.
var ErrNotFound = errors.New("tile not in cache")

// Cache is a persistent tier holding encoded tile images.
type Cache interface {
	Get(key tiles.Key) ([]byte, error)
	Set(key tiles.Key, value []byte) error
	Has(key tiles.Key) bool // Check if tile exists without reading it (lightweight check)
	Clear() error
}
