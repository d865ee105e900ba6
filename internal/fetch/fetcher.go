// Package fetch is the network tier: it downloads encoded tile images from
// the tile server mirrors.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"slippymap/internal/serverpool"
	"slippymap/internal/tiles"
)

// DefaultTimeout bounds a single tile request, including reading the body.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies the client to tile servers; most public
// providers reject requests without one.
const DefaultUserAgent = "slippymap/1.0"

// maxTileBytes caps the body read for one tile.
const maxTileBytes = 16 << 20

// Fetcher downloads the encoded image for one tile.
type Fetcher interface {
	Fetch(ctx context.Context, key tiles.Key) ([]byte, error)
}

// StatusError is returned when a server answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile server returned %d for %s", e.StatusCode, e.URL)
}

// HTTPFetcher issues GET {prefix}{z}/{x}/{y}.png against a prefix taken from
// the server pool, so each mirror serves at most one request at a time.
type HTTPFetcher struct {
	client    *http.Client
	pool      *serverpool.Pool
	userAgent string
	log       *zap.Logger
}

type Option func(*HTTPFetcher)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		f.client.Timeout = d
	}
}

func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithClient replaces the HTTP client. Options applied after it still
// adjust its timeout.
func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

func NewHTTPFetcher(pool *serverpool.Pool, log *zap.Logger, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		client:    &http.Client{Timeout: DefaultTimeout},
		pool:      pool,
		userAgent: DefaultUserAgent,
		log:       log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns the raw response body. Network errors, non-2xx responses and
// empty bodies are all errors; the caller decides whether the bytes decode.
func (f *HTTPFetcher) Fetch(ctx context.Context, key tiles.Key) ([]byte, error) {
	prefix, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(prefix)

	url := prefix + key.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty response from %s", url)
	}

	f.log.Debug("Fetched tile",
		zap.String("url", url),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)))
	return data, nil
}
