package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"slippymap/internal/tiles"
)

// MBTileVersion is the MBTiles format version written to metadata.
const MBTileVersion = "1.2"

// MBTilesCache stores tiles in a single SQLite file using the MBTiles layout.
// Rows are addressed in TMS order, so y is flipped on the way in and out.
type MBTilesCache struct {
	db   *sql.DB
	path string
}

// NewMBTilesCache opens (or creates) the MBTiles file at path.
func NewMBTilesCache(path, name string) (*MBTilesCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := optimizeConnection(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := setupTables(db, name); err != nil {
		db.Close()
		return nil, err
	}

	return &MBTilesCache{db: db, path: path}, nil
}

func optimizeConnection(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA synchronous=0",
		"PRAGMA locking_mode=EXCLUSIVE",
		"PRAGMA journal_mode=DELETE",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func setupTables(db *sql.DB, name string) error {
	stmts := []string{
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index if not exists name on metadata (name);",
		"create unique index if not exists tile_index on tiles (zoom_level, tile_column, tile_row);",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to set up mbtiles schema: %w", err)
		}
	}

	meta := map[string]string{
		"name":    name,
		"format":  "png",
		"type":    "baselayer",
		"version": MBTileVersion,
	}
	for k, v := range meta {
		if _, err := db.Exec("insert or replace into metadata (name, value) values (?, ?)", k, v); err != nil {
			return fmt.Errorf("failed to write mbtiles metadata: %w", err)
		}
	}
	return nil
}

func flipY(key tiles.Key) int {
	return (1 << uint(key.Zoom)) - 1 - key.Y
}

func (c *MBTilesCache) Get(key tiles.Key) ([]byte, error) {
	var data []byte
	err := c.db.QueryRow(
		"select tile_data from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		key.Zoom, key.X, flipY(key),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", key, err)
	}
	return data, nil
}

func (c *MBTilesCache) Has(key tiles.Key) bool {
	var n int
	err := c.db.QueryRow(
		"select count(*) from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		key.Zoom, key.X, flipY(key),
	).Scan(&n)
	return err == nil && n > 0
}

func (c *MBTilesCache) Set(key tiles.Key, value []byte) error {
	_, err := c.db.Exec(
		"insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?)",
		key.Zoom, key.X, flipY(key), value,
	)
	if err != nil {
		return fmt.Errorf("failed to write tile %s: %w", key, err)
	}
	return nil
}

func (c *MBTilesCache) Clear() error {
	_, err := c.db.Exec("delete from tiles")
	return err
}

func (c *MBTilesCache) Close() error {
	return c.db.Close()
}
