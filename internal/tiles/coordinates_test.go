package tiles

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
)

func TestProjectRoundTrip(t *testing.T) {
	for zoom := 0; zoom <= 18; zoom++ {
		for lat := -85.0; lat <= 85.0; lat += 8.5 {
			for lon := -180.0; lon <= 180.0; lon += 22.5 {
				x, y := Project(lat, lon, zoom)
				gotLat, gotLon := Unproject(x, y, zoom)
				assert.InDelta(t, lat, gotLat, 1e-6, "lat at z=%d (%f,%f)", zoom, lat, lon)
				assert.InDelta(t, lon, gotLon, 1e-6, "lon at z=%d (%f,%f)", zoom, lat, lon)
			}
		}
	}
}

func TestProjectKnownPoints(t *testing.T) {
	x, y := Project(0, 0, 0)
	assert.InDelta(t, 0.5, x, 1e-12)
	assert.InDelta(t, 0.5, y, 1e-12)

	x, y = Project(MaxLatitude, -180, 3)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	// London at zoom 12 lies in tile 2046/1362.
	x, y = Project(51.507222, -0.1275, 12)
	assert.Equal(t, 2046, int(x))
	assert.Equal(t, 1362, int(y))
}

func TestProjectClampsLatitude(t *testing.T) {
	_, y := Project(90, 0, 4)
	assert.False(t, math.IsInf(y, 0) || math.IsNaN(y))
	assert.InDelta(t, 0, y, 1e-9)

	_, y = Project(-90, 0, 4)
	assert.InDelta(t, 16, y, 1e-9)
}

func TestBestZoomForSpan(t *testing.T) {
	tests := []struct {
		name        string
		lonSpan     float64
		tilesAcross float64
		maxZoom     int
		want        int
	}{
		{"whole world one tile", 360, 1, 19, 0},
		{"zoom 5 single tile", 360.0 / 32, 1, 19, 5},
		{"zoom 5 four tiles", 4 * 360.0 / 32, 4, 19, 5},
		{"rounds down", 360.0 / 32 * 1.3, 1, 19, 5},
		{"rounds up", 360.0 / 32 * 0.7, 1, 19, 6},
		{"clamped to max", 1e-6, 1, 12, 12},
		{"clamped to zero", 720, 1, 19, 0},
		{"empty span", 0, 3, 17, 17},
		{"no width", 10, 0, 17, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BestZoomForSpan(tt.lonSpan, tt.tilesAcross, tt.maxZoom))
		})
	}
}

func TestSpanForZoomInvertsBestZoom(t *testing.T) {
	for z := 0; z <= 19; z++ {
		span := SpanForZoom(z, 3.5)
		assert.Equal(t, z, BestZoomForSpan(span, 3.5, 19))
	}
}

func TestCoveringRange(t *testing.T) {
	// Tile 5/16/16 spans lon [0, 11.25].
	b := Key{Zoom: 5, X: 16, Y: 16}.Bound()

	r := CoveringRange(b, 5, 0)
	assert.Equal(t, Range{Zoom: 5, MinX: 16, MaxX: 16, MinY: 16, MaxY: 16}, r)
	assert.Equal(t, 1, r.Len())

	r = CoveringRange(b, 5, 1)
	assert.Equal(t, Range{Zoom: 5, MinX: 15, MaxX: 17, MinY: 15, MaxY: 17}, r)
	assert.Equal(t, 9, r.Len())

	// A rectangle straddling a tile edge needs both neighbours.
	b = orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	r = CoveringRange(b, 5, 0)
	assert.Equal(t, Range{Zoom: 5, MinX: 15, MaxX: 16, MinY: 15, MaxY: 16}, r)
}

func TestCoveringRangeClampsToWorld(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -MaxLatitude}, Max: orb.Point{180, MaxLatitude}}
	r := CoveringRange(world, 2, 1)
	assert.Equal(t, Range{Zoom: 2, MinX: 0, MaxX: 3, MinY: 0, MaxY: 3}, r)
	assert.Len(t, r.Keys(), 16)
}

func TestKey(t *testing.T) {
	k := Key{Zoom: 3, X: 5, Y: 7}
	assert.Equal(t, "3/5/7.png", k.Path())
	assert.Equal(t, "3/5/7", k.String())
	assert.True(t, k.Valid(18))
	assert.False(t, k.Valid(2))
	assert.False(t, Key{Zoom: 3, X: 8, Y: 0}.Valid(18))
	assert.False(t, Key{Zoom: 3, X: 0, Y: -1}.Valid(18))
	assert.Equal(t, maptile.New(5, 7, 3), k.Maptile())
}

func TestKeyBound(t *testing.T) {
	b := Key{Zoom: 1, X: 0, Y: 0}.Bound()
	assert.InDelta(t, -180, b.Min[0], 1e-9)
	assert.InDelta(t, 0, b.Max[0], 1e-9)
	assert.InDelta(t, 0, b.Min[1], 1e-9)
	assert.InDelta(t, MaxLatitude, b.Max[1], 1e-6)
}

func TestRangeContains(t *testing.T) {
	r := Range{Zoom: 4, MinX: 2, MaxX: 3, MinY: 5, MaxY: 6}
	assert.True(t, r.Contains(Key{Zoom: 4, X: 3, Y: 5}))
	assert.False(t, r.Contains(Key{Zoom: 5, X: 3, Y: 5}))
	assert.False(t, r.Contains(Key{Zoom: 4, X: 4, Y: 5}))
}
