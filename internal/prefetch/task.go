// Package prefetch warms the tile caches for a geographic area over a range
// of zoom levels.
package prefetch

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/teris-io/shortid"
	"go.uber.org/zap"
	"gopkg.in/cheggaaa/pb.v1"

	"slippymap/internal/tiles"
)

// Getter loads one tile, filling the caches on the way. Tiles it reports as
// Cached are skipped, so warming an area twice does not decode anything.
type Getter interface {
	Get(ctx context.Context, key tiles.Key) (*tiles.Tile, bool)
	Cached(key tiles.Key) bool
}

// Task fetches every tile covering Bound for zoom levels MinZoom..MaxZoom.
type Task struct {
	ID      string
	Bound   orb.Bound
	MinZoom int
	MaxZoom int
	Workers int
	Total   int64

	// Progress receives progress bars; nil disables them.
	Progress io.Writer

	log     *zap.Logger
	layers  []tiles.Range
	done    atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// NewTask validates the area and zoom range and counts the tiles.
func NewTask(bound orb.Bound, minZoom, maxZoom, workers int, log *zap.Logger) (*Task, error) {
	if minZoom < 0 || maxZoom < minZoom || maxZoom > 30 {
		return nil, fmt.Errorf("invalid zoom range %d..%d", minZoom, maxZoom)
	}
	if bound.Min[0] > bound.Max[0] || bound.Min[1] > bound.Max[1] {
		return nil, fmt.Errorf("invalid bounds %v", bound)
	}
	if workers < 1 {
		workers = 1
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate task id: %w", err)
	}

	bound.Min[1] = tiles.ClampLatitude(bound.Min[1])
	bound.Max[1] = tiles.ClampLatitude(bound.Max[1])

	task := &Task{
		ID:      id,
		Bound:   bound,
		MinZoom: minZoom,
		MaxZoom: maxZoom,
		Workers: workers,
		log:     log.With(zap.String("task", id)),
	}
	for z := minZoom; z <= maxZoom; z++ {
		r := tiles.CoveringRange(bound, z, 0)
		task.layers = append(task.layers, r)
		task.Total += int64(r.Len())
	}
	return task, nil
}

// Layers returns the tile range of each zoom level.
func (t *Task) Layers() []tiles.Range {
	return append([]tiles.Range(nil), t.layers...)
}

// Done and Failed count finished tiles.
func (t *Task) Done() int64   { return t.done.Load() }
func (t *Task) Failed() int64 { return t.failed.Load() }

// Skipped counts tiles that were already cached.
func (t *Task) Skipped() int64 { return t.skipped.Load() }

func (t *Task) newBar(total int64, prefix string) *pb.ProgressBar {
	bar := pb.New64(total).Prefix(prefix)
	if t.Progress != nil {
		bar.Output = t.Progress
	} else {
		bar.NotPrint = true
	}
	return bar
}

// Run fetches the tiles level by level through store. It returns ctx's
// error when cancelled; individual tile failures are only counted.
func (t *Task) Run(ctx context.Context, store Getter) error {
	t.log.Info("Starting prefetch",
		zap.Int("min_zoom", t.MinZoom),
		zap.Int("max_zoom", t.MaxZoom),
		zap.Int64("tiles", t.Total))

	total := t.newBar(t.Total, "Task : ")
	total.Start()

	for _, layer := range t.layers {
		if err := t.runLayer(ctx, store, layer, total); err != nil {
			total.Finish()
			t.log.Info("Prefetch cancelled", zap.Int64("done", t.Done()))
			return err
		}
	}

	total.FinishPrint(fmt.Sprintf("task %s finished ~", t.ID))
	t.log.Info("Prefetch completed",
		zap.Int64("done", t.Done()),
		zap.Int64("skipped", t.Skipped()),
		zap.Int64("failed", t.Failed()))
	return nil
}

func (t *Task) runLayer(ctx context.Context, store Getter, layer tiles.Range, total *pb.ProgressBar) error {
	bar := t.newBar(int64(layer.Len()), fmt.Sprintf("Zoom %d : ", layer.Zoom))
	bar.Start()
	defer bar.Finish()

	workerChan := make(chan struct{}, t.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for _, key := range layer.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case workerChan <- struct{}{}: // Acquire worker slot
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func(key tiles.Key) {
			defer wg.Done()
			defer func() { <-workerChan }() // Release worker slot

			if store.Cached(key) {
				t.skipped.Add(1)
			} else if _, ok := store.Get(ctx, key); !ok {
				t.failed.Add(1)
				t.log.Debug("Prefetch tile failed", zap.Int("z", key.Zoom), zap.Int("x", key.X), zap.Int("y", key.Y))
			}
			t.done.Add(1)
			bar.Increment()
			total.Increment()
		}(key)
	}
	return nil
}
