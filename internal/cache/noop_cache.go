package cache

import "slippymap/internal/tiles"

// NoopCache is the disabled disk tier: every lookup misses.
type NoopCache struct{}

func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

func (c *NoopCache) Get(key tiles.Key) ([]byte, error) {
	return nil, ErrNotFound
}

func (c *NoopCache) Set(key tiles.Key, value []byte) error {
	return nil
}

func (c *NoopCache) Has(key tiles.Key) bool {
	return false
}

func (c *NoopCache) Clear() error {
	return nil
}
