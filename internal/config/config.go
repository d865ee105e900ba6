package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/spf13/viper"

	"slippymap/internal/geo"
	"slippymap/internal/provider"
	"slippymap/internal/serverpool"
	"slippymap/internal/tiles"
	"slippymap/internal/tilestore"
)

type TilesConfig struct {
	Provider  string
	Servers   []string
	MaxZoom   int
	Margin    int
	UserAgent string
}

type ViewConfig struct {
	// Projection is the working coordinate system of viewports:
	// mercator, latlon or tangent.
	Projection string
	OriginLat  float64
	OriginLon  float64
}

type FetchConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
	RPS     float64
}

type CacheConfig struct {
	Type        string
	Dir         string
	MemoryMB    int
	TTL         time.Duration
	HeapLimitMB int
}

type LogConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port          int
	AllowedOrigin string
}

type WarmupConfig struct {
	Levels  int
	Workers int
	// BBox is west, south, east, north in degrees.
	BBox []float64
}

type ExportConfig struct {
	Quality int
}

type Config struct {
	Tiles  TilesConfig
	View   ViewConfig
	Fetch  FetchConfig
	Cache  CacheConfig
	Log    LogConfig
	Server ServerConfig
	Warmup WarmupConfig
	Export ExportConfig
}

// unsetMaxZoom marks tiles.maxzoom as not configured, so the provider's
// limit applies. Zero is a valid explicit limit.
const unsetMaxZoom = -1

func setDefaults(v *viper.Viper) {
	v.SetDefault("tiles.provider", "osm")
	v.SetDefault("tiles.servers", []string{})
	v.SetDefault("tiles.maxzoom", unsetMaxZoom)
	v.SetDefault("tiles.margin", 0)
	v.SetDefault("tiles.useragent", "")
	v.SetDefault("view.projection", "mercator")
	v.SetDefault("view.originlat", 0.0)
	v.SetDefault("view.originlon", 0.0)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.queue", 1024)
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.rps", 0.0)
	v.SetDefault("cache.type", "files")
	v.SetDefault("cache.dir", defaultCacheDir())
	v.SetDefault("cache.memorymb", 256)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.heaplimitmb", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowedorigin", "")
	v.SetDefault("warmup.levels", 0)
	v.SetDefault("warmup.workers", 2)
	v.SetDefault("warmup.bbox", []float64{-180, -tiles.MaxLatitude, 180, tiles.MaxLatitude})
	v.SetDefault("export.quality", 82)
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "slippymap")
}

// Load reads the optional TOML file at path, applies environment overrides
// (tiles.servers <- TILES_SERVERS) and resolves the provider preset. It does
// not validate; call Validate before building anything from the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // read in environment variables that match

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		v.SetConfigType("toml")
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Tiles.Servers = splitList(cfg.Tiles.Servers)

	if err := cfg.applyProvider(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma separated entries, as environment variables
// deliver lists as a single string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// applyProvider fills servers and max zoom from the preset when they are not
// set explicitly.
func (c *Config) applyProvider() error {
	if len(c.Tiles.Servers) > 0 || c.Tiles.Provider == "" {
		if c.Tiles.MaxZoom == unsetMaxZoom {
			c.Tiles.MaxZoom = tiles.DefaultMaxZoom
		}
		return nil
	}
	p, ok := provider.Lookup(c.Tiles.Provider)
	if !ok {
		return fmt.Errorf("unknown tile provider %q (known: %s)", c.Tiles.Provider, strings.Join(provider.Names(), ", "))
	}
	c.Tiles.Servers = p.Servers
	if c.Tiles.MaxZoom == unsetMaxZoom {
		c.Tiles.MaxZoom = p.MaxZoom
	}
	return nil
}

// Validate reports configuration errors before any component is built.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Tiles.Servers) == 0 {
		errs = append(errs, serverpool.ErrNoServers)
	}
	for _, s := range c.Tiles.Servers {
		if _, err := serverpool.Normalize(s); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Tiles.MaxZoom < 0 || c.Tiles.MaxZoom > 30 {
		errs = append(errs, fmt.Errorf("tiles.maxzoom must be within 0..30, got %d", c.Tiles.MaxZoom))
	}
	if c.Tiles.Margin < 0 {
		errs = append(errs, fmt.Errorf("tiles.margin must not be negative"))
	}
	switch c.View.Projection {
	case "mercator", "latlon", "tangent":
	default:
		errs = append(errs, fmt.Errorf("unknown view.projection %q", c.View.Projection))
	}
	if c.Fetch.Workers < 1 {
		errs = append(errs, fmt.Errorf("fetch.workers must be at least 1"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must not be negative"))
	}
	switch c.Cache.Type {
	case "files", "mbtiles", "disabled", "":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q (supported: files, mbtiles, disabled)", c.Cache.Type))
	}
	if c.Cache.MemoryMB < 1 {
		errs = append(errs, fmt.Errorf("cache.memorymb must be at least 1"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if len(c.Warmup.BBox) != 4 {
		errs = append(errs, fmt.Errorf("warmup.bbox needs 4 values, got %d", len(c.Warmup.BBox)))
	}
	if c.Export.Quality < 1 || c.Export.Quality > 100 {
		errs = append(errs, fmt.Errorf("export.quality must be within 1..100"))
	}
	return errors.Join(errs...)
}

// CacheName names the disk cache after the provider, so switching providers
// does not mix their tiles.
func (c *Config) CacheName() string {
	if c.Tiles.Provider != "" {
		return c.Tiles.Provider
	}
	return "tiles"
}

// CacheDir is the disk tier root for the configured provider.
func (c *Config) CacheDir() string {
	if c.Cache.Type == "files" {
		return filepath.Join(c.Cache.Dir, c.CacheName())
	}
	return c.Cache.Dir
}

// StoreOptions maps the tile, fetch and cache sections onto the tile store.
func (c *Config) StoreOptions() tilestore.Options {
	return tilestore.Options{
		Name:        c.CacheName(),
		Servers:     c.Tiles.Servers,
		CacheType:   c.Cache.Type,
		CacheDir:    c.CacheDir(),
		MemoryBytes: int64(c.Cache.MemoryMB) << 20,
		TTL:         c.Cache.TTL,
		Timeout:     c.Fetch.Timeout,
		RPS:         c.Fetch.RPS,
		UserAgent:   c.Tiles.UserAgent,
	}
}

// Projection builds the viewport coordinate system.
func (c *Config) Projection() (geo.Projection, error) {
	return geo.Named(c.View.Projection, c.View.OriginLat, c.View.OriginLon)
}

// WarmupBound is the warmup area as a geographic bound.
func (c *Config) WarmupBound() orb.Bound {
	b := c.Warmup.BBox
	if len(b) != 4 {
		return orb.Bound{Min: orb.Point{-180, -tiles.MaxLatitude}, Max: orb.Point{180, tiles.MaxLatitude}}
	}
	return orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}}
}
