// Package scheduler keeps the resident set of tiles in step with a moving
// viewport. Each pass computes the tiles the viewport needs, adds those
// already in memory, queues loads for the rest and drops tiles that are no
// longer relevant.
package scheduler

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"slippymap/internal/geo"
	"slippymap/internal/tiles"
	"slippymap/internal/worker"
)

// Loader is the part of the tile store the scheduler needs.
type Loader interface {
	GetIfPresent(key tiles.Key) (*tiles.Tile, bool)
	Get(ctx context.Context, key tiles.Key) (*tiles.Tile, bool)
}

type Options struct {
	MaxZoom int
	// Margin expands the needed range by this many tiles on every side so
	// fast pans show neighbours that are already loaded.
	Margin  int
	Workers int
	Queue   int
}

// State is the outcome of the latest scheduling pass.
type State struct {
	Zoom  int         `json:"zoom"`
	Range tiles.Range `json:"range"`
	Bound orb.Bound   `json:"bound"`
}

// Stats are cumulative job counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Rejected   uint64 `json:"rejected"`
	Skipped    uint64 `json:"skipped"`
	Discarded  uint64 `json:"discarded"`
	Added      uint64 `json:"added"`
	Evicted    uint64 `json:"evicted"`
	Resident   int    `json:"resident"`
	InProgress int    `json:"inProgress"`
	// Queued is the number of jobs waiting for a worker.
	Queued int `json:"queued"`
}

type Scheduler struct {
	proj  geo.Projection
	store Loader
	pool  *worker.Pool
	opts  Options
	log   *zap.Logger

	// mu guards everything below. The sweep and every add happen under it,
	// so an add always sees the state of the latest pass.
	mu       sync.Mutex
	state    State
	hasState bool
	last     tiles.Viewport
	resident map[tiles.Key]*tiles.Tile
	pending  map[tiles.Key]struct{}
	onChange func()
	// retry forces the next pass even for an identical viewport, set when
	// a submission was rejected.
	retry bool

	submitted atomic.Uint64
	rejected  atomic.Uint64
	skipped   atomic.Uint64
	discarded atomic.Uint64
	added     atomic.Uint64
	evicted   atomic.Uint64
}

func New(proj geo.Projection, store Loader, opts Options, log *zap.Logger) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.Queue < 1 {
		opts.Queue = 1024
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	}
	return &Scheduler{
		proj:     proj,
		store:    store,
		pool:     worker.NewPool(opts.Workers, opts.Queue),
		opts:     opts,
		log:      log,
		resident: make(map[tiles.Key]*tiles.Tile),
		pending:  make(map[tiles.Key]struct{}),
	}
}

// OnChange registers fn to be called after the resident set changes. fn runs
// on the goroutine that made the change and must not block.
func (s *Scheduler) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Update runs a scheduling pass for vp and returns the resulting state. A
// viewport identical to the previous one is not rescheduled. Update never
// blocks on I/O.
func (s *Scheduler) Update(vp tiles.Viewport) State {
	return s.update(vp, false)
}

// Refresh reruns the pass for the last viewport, retrying tiles that failed
// to load.
func (s *Scheduler) Refresh() State {
	s.mu.Lock()
	vp, ok := s.last, s.hasState
	s.mu.Unlock()
	if !ok {
		return State{}
	}
	return s.update(vp, true)
}

func (s *Scheduler) update(vp tiles.Viewport, force bool) State {
	if !vp.Valid() {
		s.log.Debug("Ignoring degenerate viewport", zap.Any("viewport", vp))
		st, _ := s.State()
		return st
	}

	s.mu.Lock()
	if s.hasState && !force && !s.retry && vp == s.last {
		st := s.state
		s.mu.Unlock()
		return st
	}
	s.mu.Unlock()

	bound := geo.ViewportBound(s.proj, vp)
	zoom := tiles.BestZoomForSpan(bound.Max[0]-bound.Min[0], tiles.TilesAcross(vp.WidthPx), s.opts.MaxZoom)
	rng := tiles.CoveringRange(bound, zoom, s.opts.Margin)
	st := State{Zoom: zoom, Range: rng, Bound: bound}

	var queue []tiles.Key
	s.mu.Lock()
	s.last = vp
	s.state = st
	s.hasState = true
	s.retry = false

	changed := s.sweepLocked()
	for _, key := range rng.Keys() {
		if _, ok := s.resident[key]; ok {
			continue
		}
		if _, ok := s.pending[key]; ok {
			continue
		}
		if tile, ok := s.store.GetIfPresent(key); ok {
			s.resident[key] = tile
			s.added.Add(1)
			changed = true
			continue
		}
		s.pending[key] = struct{}{}
		queue = append(queue, key)
	}
	notify := s.onChange
	s.mu.Unlock()

	for _, key := range queue {
		if s.pool.Submit(s.job(key)) {
			s.submitted.Add(1)
			continue
		}
		// Queue full: the key is retried on the next pass.
		s.rejected.Add(1)
		s.mu.Lock()
		delete(s.pending, key)
		s.retry = true
		s.mu.Unlock()
	}

	s.log.Debug("Scheduling pass",
		zap.Int("zoom", zoom),
		zap.Int("tiles", rng.Len()),
		zap.Int("queued", len(queue)))

	if changed && notify != nil {
		notify()
	}
	return st
}

// sweepLocked drops resident tiles outside the current state.
func (s *Scheduler) sweepLocked() bool {
	removed := 0
	for key := range s.resident {
		if !s.relevantLocked(key) {
			delete(s.resident, key)
			removed++
		}
	}
	if removed > 0 {
		s.evicted.Add(uint64(removed))
	}
	return removed > 0
}

// relevantLocked reports whether key is at the current zoom and its bounds
// intersect the current viewport, i.e. it lies in the covering range.
func (s *Scheduler) relevantLocked(key tiles.Key) bool {
	return s.hasState && key.Zoom == s.state.Zoom && s.state.Range.Contains(key)
}

// claim reports whether a queued job for key should still fetch. A stale key
// loses its pending mark in the same critical section, so a pass cannot see
// it pending after the job has given up on it.
func (s *Scheduler) claim(key tiles.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relevantLocked(key) {
		return true
	}
	delete(s.pending, key)
	return false
}

func (s *Scheduler) job(key tiles.Key) worker.Task {
	return func(ctx context.Context) {
		if !s.claim(key) {
			s.skipped.Add(1)
			return
		}
		tile, ok := s.store.Get(ctx, key)
		if !ok {
			tile = nil
		}
		s.complete(key, tile)
	}
}

// complete clears the pending mark and adds tile if it is still relevant
// under the current state.
func (s *Scheduler) complete(key tiles.Key, tile *tiles.Tile) {
	s.mu.Lock()
	delete(s.pending, key)
	if tile == nil {
		s.mu.Unlock()
		return
	}
	if !s.relevantLocked(key) {
		s.mu.Unlock()
		s.discarded.Add(1)
		s.log.Debug("Discarding stale tile",
			zap.Int("z", key.Zoom), zap.Int("x", key.X), zap.Int("y", key.Y))
		return
	}
	s.resident[key] = tile
	notify := s.onChange
	s.mu.Unlock()

	s.added.Add(1)
	if notify != nil {
		notify()
	}
}

// State returns the latest pass state; ok is false before the first pass.
func (s *Scheduler) State() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.hasState
}

// Resident returns a snapshot of the resident set ordered by zoom, x, y.
func (s *Scheduler) Resident() []*tiles.Tile {
	s.mu.Lock()
	out := make([]*tiles.Tile, 0, len(s.resident))
	for _, t := range s.resident {
		out = append(out, t)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b *tiles.Tile) int {
		if a.Key.Zoom != b.Key.Zoom {
			return a.Key.Zoom - b.Key.Zoom
		}
		if a.Key.X != b.Key.X {
			return a.Key.X - b.Key.X
		}
		return a.Key.Y - b.Key.Y
	})
	return out
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	resident, pending := len(s.resident), len(s.pending)
	s.mu.Unlock()
	return Stats{
		Submitted:  s.submitted.Load(),
		Rejected:   s.rejected.Load(),
		Skipped:    s.skipped.Load(),
		Discarded:  s.discarded.Load(),
		Added:      s.added.Load(),
		Evicted:    s.evicted.Load(),
		Resident:   resident,
		InProgress: pending,
		Queued:     s.pool.Queued(),
	}
}

// Close stops the workers. Loads in flight are abandoned.
func (s *Scheduler) Close() {
	s.pool.Close()
}
