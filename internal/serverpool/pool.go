// Package serverpool hands out tile server URL prefixes so that at most one
// request is in flight against each mirror at any time.
package serverpool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

var (
	ErrNoServers  = errors.New("at least one tile server is required")
	ErrInvalidURL = errors.New("invalid tile server url")
)

// Pool is a blocking queue of server prefixes. Released prefixes go to the
// back of the queue, so mirrors are used round-robin.
type Pool struct {
	prefixes  []string
	available chan string
	limiters  map[string]*rate.Limiter
}

type Option func(*Pool)

// WithRateLimit additionally caps each mirror at rps requests per second.
// A non-positive rps leaves mirrors unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pool) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiters = make(map[string]*rate.Limiter, len(p.prefixes))
		for _, prefix := range p.prefixes {
			p.limiters[prefix] = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// New validates the prefixes and builds a pool. Each prefix must be an
// absolute http(s) URL; a trailing slash is added when missing.
func New(prefixes []string, opts ...Option) (*Pool, error) {
	if len(prefixes) == 0 {
		return nil, ErrNoServers
	}

	normalized := make([]string, 0, len(prefixes))
	for _, prefix := range prefixes {
		p, err := Normalize(prefix)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, p)
	}

	p := &Pool{
		prefixes:  normalized,
		available: make(chan string, len(normalized)),
	}
	for _, prefix := range normalized {
		p.available <- prefix
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Normalize validates a server prefix and ensures it ends with a slash.
func Normalize(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	u, err := url.Parse(prefix)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, prefix, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, prefix)
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix, nil
}

// Acquire blocks until a prefix is free or ctx is done. The caller must
// Release the prefix when its request completes.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	var prefix string
	select {
	case prefix = <-p.available:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if lim := p.limiters[prefix]; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			p.Release(prefix)
			return "", err
		}
	}
	return prefix, nil
}

func (p *Pool) Release(prefix string) {
	p.available <- prefix
}

// Prefixes returns the configured, normalized prefixes.
func (p *Pool) Prefixes() []string {
	return append([]string(nil), p.prefixes...)
}

// Available is the number of idle mirrors.
func (p *Pool) Available() int {
	return len(p.available)
}
