package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slippymap/internal/tiles"
)

func TestFileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewFileCache(filepath.Join(dir, "tiles"))
	require.NoError(t, err)

	key := tiles.Key{Zoom: 5, X: 16, Y: 10}
	_, err = c.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Has(key))

	require.NoError(t, c.Set(key, []byte("png-bytes")))
	assert.True(t, c.Has(key))
	assert.FileExists(t, filepath.Join(dir, "tiles", "5", "16", "10.png"))

	data, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	require.NoError(t, c.Set(key, []byte("replaced")))
	data, err = c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "tiles", "5", "16"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, c.Clear())
	assert.False(t, c.Has(key))
	assert.DirExists(t, filepath.Join(dir, "tiles"))
}

func TestFileCacheRejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, err := NewFileCache(path)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestNewCache(t *testing.T) {
	log := zap.NewNop()
	dir := t.TempDir()

	c, err := NewCache("files", filepath.Join(dir, "files"), "osm", log)
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, c)

	c, err = NewCache("disabled", dir, "osm", log)
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)

	c, err = NewCache("", dir, "osm", log)
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)

	_, err = NewCache("redis", dir, "osm", log)
	assert.Error(t, err)

	file := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	_, err = NewCache("files", file, "osm", log)
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestNewCacheFallsBackWhenUncreatable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	// The parent is a file, so the directory cannot be created.
	c, err := NewCache("files", filepath.Join(blocker, "tiles"), "osm", zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &NoopCache{}, c)
}

func TestNoopCache(t *testing.T) {
	c := NewNoopCache()
	key := tiles.Key{Zoom: 1}
	require.NoError(t, c.Set(key, []byte("x")))
	_, err := c.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Has(key))
	assert.NoError(t, c.Clear())
}
