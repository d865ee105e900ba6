package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"slippymap/internal/tiles"
)

// ErrNotDirectory is returned when the cache root exists as a regular file.
var ErrNotDirectory = errors.New("cache path is not a directory")

// FileCache implements file-based cache
// Structure: {cacheDir}/{z}/{x}/{y}.png
type FileCache struct {
	cacheDir string
}

// NewFileCache uses cacheDir as the cache root, creating it if needed. It
// fails when cacheDir exists but is not a directory.
func NewFileCache(cacheDir string) (*FileCache, error) {
	info, err := os.Stat(cacheDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, cacheDir)
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat cache directory: %w", err)
	}

	return &FileCache{
		cacheDir: cacheDir,
	}, nil
}

// buildFilePath builds file path from tile key
func (c *FileCache) buildFilePath(key tiles.Key) string {
	return filepath.Join(c.cacheDir, strconv.Itoa(key.Zoom), strconv.Itoa(key.X), strconv.Itoa(key.Y)+".png")
}

func (c *FileCache) Get(key tiles.Key) ([]byte, error) {
	data, err := os.ReadFile(c.buildFilePath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *FileCache) Has(key tiles.Key) bool {
	_, err := os.Stat(c.buildFilePath(key))
	return err == nil
}

func (c *FileCache) Set(key tiles.Key, value []byte) error {
	filePath := c.buildFilePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	// Write atomically; concurrent writers of one key race on the rename only.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tile_*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close tile: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}
	return nil
}

func (c *FileCache) Clear() error {
	if err := os.RemoveAll(c.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(c.cacheDir, 0755)
}
