package cache

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// NewCache creates the disk tier based on the cache type
func NewCache(cacheType, cacheDir, name string, log *zap.Logger) (Cache, error) {
	switch cacheType {
	case "files":
		log.Info("Using file cache", zap.String("cache_dir", cacheDir))
		c, err := NewFileCache(cacheDir)
		if errors.Is(err, ErrNotDirectory) {
			return nil, err
		}
		if err != nil {
			log.Warn("Disk cache unavailable, continuing without it", zap.String("cache_dir", cacheDir), zap.Error(err))
			return NewNoopCache(), nil
		}
		return c, nil
	case "mbtiles":
		path := filepath.Join(cacheDir, name+".mbtiles")
		log.Info("Using mbtiles cache", zap.String("path", path))
		return NewMBTilesCache(path, name)
	case "disabled", "":
		log.Info("Disk cache disabled")
		return NewNoopCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: files, mbtiles, disabled)", cacheType)
	}
}
