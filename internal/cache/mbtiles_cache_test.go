package cache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/tiles"
)

func TestMBTilesCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "osm.mbtiles")
	c, err := NewMBTilesCache(path, "osm")
	require.NoError(t, err)

	key := tiles.Key{Zoom: 3, X: 2, Y: 1}
	_, err = c.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, c.Has(key))

	require.NoError(t, c.Set(key, []byte("a")))
	require.NoError(t, c.Set(key, []byte("b")))
	assert.True(t, c.Has(key))

	data, err := c.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), data)

	var row int
	require.NoError(t, c.db.QueryRow("select tile_row from tiles where zoom_level = 3").Scan(&row))
	assert.Equal(t, 6, row, "rows are stored in TMS order")

	var format string
	require.NoError(t, c.db.QueryRow("select value from metadata where name = 'format'").Scan(&format))
	assert.Equal(t, "png", format)

	require.NoError(t, c.Clear())
	assert.False(t, c.Has(key))
	require.NoError(t, c.Close())

	// Reopening keeps the schema.
	c, err = NewMBTilesCache(path, "osm")
	require.NoError(t, err)
	require.NoError(t, c.Set(key, []byte("c")))
	require.NoError(t, c.Close())
}
