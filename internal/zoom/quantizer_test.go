package zoom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/geo"
	"slippymap/internal/tiles"
)

func londonViewport(t *testing.T, widthKm float64) tiles.Viewport {
	t.Helper()
	x, y := geo.Mercator{}.Project(51.507222, -0.1275)
	half := widthKm * 1000 / 2
	return tiles.Viewport{
		MinX: x - half, MaxX: x + half,
		MinY: y - half*0.75, MaxY: y + half*0.75,
		WidthPx: 800, HeightPx: 600,
	}
}

func TestZoomInThenOutRestoresLevel(t *testing.T) {
	q := New(geo.Mercator{}, 19)

	for _, km := range []float64{3, 7.7, 13, 50, 420} {
		vp := londonViewport(t, km)
		start := q.CurrentZoom(vp)

		in, ok := q.ZoomAt(vp, +1, 130, 470, false)
		require.True(t, ok)
		assert.Equal(t, start+1, q.CurrentZoom(in), "width %v km", km)

		out, ok := q.ZoomAt(in, -1, 130, 470, false)
		require.True(t, ok)
		assert.Equal(t, start, q.CurrentZoom(out), "width %v km", km)
	}
}

// tangentViewport is a view centred on the tangent point of proj.
func tangentViewport(widthKm float64) tiles.Viewport {
	half := widthKm * 1000 / 2
	return tiles.Viewport{
		MinX: -half, MaxX: half,
		MinY: -half * 0.75, MaxY: half * 0.75,
		WidthPx: 800, HeightPx: 600,
	}
}

func TestTangentPlaneZoomInThenOutRestoresLevel(t *testing.T) {
	cases := []struct {
		lat, lon float64
		widthKm  float64
	}{
		{38.958374, -77.358548, 300},
		{38.958374, -77.358548, 2000},
		{38.958374, -77.358548, 4000},
		{60, 10, 3000},
		{0, 179, 1000},
	}

	for _, c := range cases {
		q := New(geo.NewTangentPlane(c.lat, c.lon), 19)
		vp := tangentViewport(c.widthKm)
		start := q.CurrentZoom(vp)

		in, ok := q.ZoomAt(vp, +1, 130, 470, false)
		require.True(t, ok, "%+v", c)
		assert.Equal(t, start+1, q.CurrentZoom(in), "%+v", c)

		out, ok := q.ZoomAt(in, -1, 130, 470, false)
		require.True(t, ok, "%+v", c)
		assert.Equal(t, start, q.CurrentZoom(out), "%+v", c)
	}
}

func TestTangentPlaneSnapsSpan(t *testing.T) {
	proj := geo.NewTangentPlane(38.958374, -77.358548)
	q := New(proj, 19)
	vp := tangentViewport(2500)
	z := q.CurrentZoom(vp)

	snapped, ok := q.ZoomAt(vp, 0, 200, 100, true)
	require.True(t, ok)
	assert.Equal(t, z, q.CurrentZoom(snapped))

	b := geo.ViewportBound(proj, snapped)
	want := tiles.SpanForZoom(z, tiles.TilesAcross(snapped.WidthPx))
	assert.InDelta(t, want, b.Max[0]-b.Min[0], want*1e-9)

	// The pointer keeps its projected position.
	assert.InDelta(t, vp.MinX+0.25*vp.SpanX(), snapped.MinX+0.25*snapped.SpanX(), 1e-6)
	assert.InDelta(t, vp.MaxY-vp.SpanY()/6, snapped.MaxY-snapped.SpanY()/6, 1e-6)
}

func TestZoomKeepsPointerAnchored(t *testing.T) {
	q := New(geo.Mercator{}, 19)
	vp := londonViewport(t, 10)

	px, py := 200.0, 150.0
	beforeX := vp.MinX + px/float64(vp.WidthPx)*vp.SpanX()
	beforeY := vp.MaxY - py/float64(vp.HeightPx)*vp.SpanY()

	next, ok := q.ZoomAt(vp, +1, px, py, false)
	require.True(t, ok)

	afterX := next.MinX + px/float64(next.WidthPx)*next.SpanX()
	afterY := next.MaxY - py/float64(next.HeightPx)*next.SpanY()
	assert.InDelta(t, beforeX, afterX, 1e-6)
	assert.InDelta(t, beforeY, afterY, 1e-6)
	assert.InDelta(t, vp.SpanX()/vp.SpanY(), next.SpanX()/next.SpanY(), 1e-9)
}

func TestZoomCentered(t *testing.T) {
	q := New(geo.Mercator{}, 19)
	vp := londonViewport(t, 10)
	cx, cy := vp.Center()

	next, ok := q.Zoom(vp, -1, false)
	require.True(t, ok)
	nx, ny := next.Center()
	assert.InDelta(t, cx, nx, 1e-6)
	assert.InDelta(t, cy, ny, 1e-6)
	assert.Greater(t, next.SpanX(), vp.SpanX())
}

func TestZoomClampedIsNoop(t *testing.T) {
	q := New(geo.Mercator{}, 12)
	vp := londonViewport(t, 1)
	require.Equal(t, 12, q.CurrentZoom(vp))

	next, ok := q.Zoom(vp, +1, false)
	assert.False(t, ok)
	assert.Equal(t, vp, next)
}

func TestForcedZeroIncrementSnapsSpan(t *testing.T) {
	q := New(geo.Mercator{}, 19)
	vp := londonViewport(t, 13)
	z := q.CurrentZoom(vp)

	_, ok := q.Zoom(vp, 0, false)
	assert.False(t, ok)

	snapped, ok := q.Zoom(vp, 0, true)
	require.True(t, ok)
	assert.Equal(t, z, q.CurrentZoom(snapped))

	b := geo.ViewportBound(geo.Mercator{}, snapped)
	want := tiles.SpanForZoom(z, tiles.TilesAcross(snapped.WidthPx))
	assert.InDelta(t, want, b.Max[0]-b.Min[0], 1e-9)
}

func TestDegenerateViewport(t *testing.T) {
	q := New(geo.Mercator{}, 19)
	vp := tiles.Viewport{MinX: 1, MaxX: 1, MinY: 0, MaxY: 1, WidthPx: 100, HeightPx: 100}
	_, ok := q.Zoom(vp, 1, true)
	assert.False(t, ok)
}

func TestWheelAccumulates(t *testing.T) {
	q := New(geo.Mercator{}, 19)
	vp := londonViewport(t, 10)
	start := q.CurrentZoom(vp)

	next, ok := q.Wheel(vp, 0.4, 400, 300)
	assert.False(t, ok)
	assert.Equal(t, vp, next)
	assert.Equal(t, Zooming, q.State())

	next, ok = q.Wheel(vp, 0.4, 400, 300)
	assert.False(t, ok)
	assert.Equal(t, Zooming, q.State())

	next, ok = q.Wheel(vp, 0.4, 400, 300)
	require.True(t, ok)
	assert.Equal(t, Idle, q.State())
	assert.Equal(t, start+1, q.CurrentZoom(next))

	// A large burst still moves exactly one level.
	next2, ok := q.Wheel(next, -5, 400, 300)
	require.True(t, ok)
	assert.Equal(t, start, q.CurrentZoom(next2))
	assert.Equal(t, "idle", q.State().String())
}
