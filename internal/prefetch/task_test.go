package prefetch

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"slippymap/internal/cache"
	"slippymap/internal/fetch"
	"slippymap/internal/serverpool"
	"slippymap/internal/tiles"
	"slippymap/internal/tilestore"
	"slippymap/internal/tiletest"
)

var world = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

// lockedBuffer is written by several progress bars at once.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingGetter struct {
	mu     sync.Mutex
	keys   map[tiles.Key]int
	fail   tiles.Key
	cached tiles.Key
}

func (g *recordingGetter) Cached(key tiles.Key) bool {
	return key == g.cached
}

func (g *recordingGetter) Get(ctx context.Context, key tiles.Key) (*tiles.Tile, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.keys[key]++
	if key == g.fail {
		return nil, false
	}
	return &tiles.Tile{Key: key}, true
}

func TestNewTask(t *testing.T) {
	task, err := NewTask(world, 0, 3, 4, zap.NewNop())
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.EqualValues(t, 1+4+16+64, task.Total)
	assert.Len(t, task.Layers(), 4)
	assert.InDelta(t, tiles.MaxLatitude, task.Bound.Max[1], 1e-9)

	_, err = NewTask(world, 3, 1, 1, zap.NewNop())
	assert.Error(t, err)

	_, err = NewTask(orb.Bound{Min: orb.Point{10, 0}, Max: orb.Point{0, 1}}, 0, 1, 1, zap.NewNop())
	assert.Error(t, err)

	other, err := NewTask(world, 0, 0, 1, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, task.ID, other.ID)
}

func TestRunVisitsEveryTile(t *testing.T) {
	task, err := NewTask(world, 0, 2, 3, zap.NewNop())
	require.NoError(t, err)
	progress := &lockedBuffer{}
	task.Progress = progress

	g := &recordingGetter{
		keys:   map[tiles.Key]int{},
		fail:   tiles.Key{Zoom: 1, X: 1, Y: 1},
		cached: tiles.Key{Zoom: 2, X: 0, Y: 3},
	}
	require.NoError(t, task.Run(context.Background(), g))

	assert.Len(t, g.keys, 20)
	assert.NotContains(t, g.keys, g.cached)
	for k, n := range g.keys {
		assert.Equal(t, 1, n, k.String())
	}
	assert.EqualValues(t, 21, task.Done())
	assert.EqualValues(t, 1, task.Failed())
	assert.EqualValues(t, 1, task.Skipped())
	assert.Contains(t, progress.String(), "finished")
}

func TestRunSmallArea(t *testing.T) {
	// Around London: one tile per level at low zoom.
	london := orb.Bound{Min: orb.Point{-0.2, 51.45}, Max: orb.Point{-0.05, 51.55}}
	task, err := NewTask(london, 0, 5, 2, zap.NewNop())
	require.NoError(t, err)
	for _, l := range task.Layers() {
		assert.Equal(t, 1, l.Len(), "zoom %d", l.Zoom)
	}
	assert.Equal(t, tiles.Key{Zoom: 5, X: 15, Y: 10}, task.Layers()[5].Keys()[0])
}

type blockingGetter struct{}

func (blockingGetter) Cached(tiles.Key) bool { return false }

func (blockingGetter) Get(ctx context.Context, key tiles.Key) (*tiles.Tile, bool) {
	<-ctx.Done()
	return nil, false
}

func TestRunCancelled(t *testing.T) {
	task, err := NewTask(world, 0, 4, 1, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = task.Run(ctx, blockingGetter{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, task.Done(), task.Total)
}

func TestWarmsStore(t *testing.T) {
	srv := tiletest.NewServer(t)
	pool, err := serverpool.New([]string{srv.Prefix()})
	require.NoError(t, err)
	disk, err := cache.NewFileCache(t.TempDir())
	require.NoError(t, err)
	store := tilestore.New(cache.NewMemoryCache(32<<20, time.Minute), disk,
		fetch.NewHTTPFetcher(pool, zap.NewNop()), zap.NewNop())
	defer store.Close()

	task, err := NewTask(world, 0, 1, 2, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, task.Run(context.Background(), store))

	assert.Equal(t, 5, srv.Requests())
	assert.True(t, disk.Has(tiles.Key{Zoom: 1, X: 1, Y: 0}))

	// A second pass finds everything cached and neither fetches nor decodes.
	store.Memory().Clear()
	again, err := NewTask(world, 0, 1, 2, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, again.Run(context.Background(), store))
	assert.Equal(t, 5, srv.Requests())
	assert.EqualValues(t, 5, again.Skipped())
	assert.Zero(t, store.Memory().Len())
}
