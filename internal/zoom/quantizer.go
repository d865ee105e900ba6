// Package zoom turns continuous zoom gestures into whole tile-level steps so
// a single gesture never moves the tile pyramid by more than one level.
package zoom

import (
	"math"
	"sync"

	"slippymap/internal/geo"
	"slippymap/internal/tiles"
)

type State int

const (
	Idle State = iota
	Zooming
)

func (s State) String() string {
	if s == Zooming {
		return "zooming"
	}
	return "idle"
}

// Quantizer snaps viewport spans to discrete zoom levels, keeping the point
// under the pointer fixed on screen.
type Quantizer struct {
	proj    geo.Projection
	maxZoom int

	mu    sync.Mutex
	state State
	acc   float64
}

func New(proj geo.Projection, maxZoom int) *Quantizer {
	return &Quantizer{
		proj:    proj,
		maxZoom: maxZoom,
	}
}

// State reports whether a wheel gesture is partially accumulated.
func (q *Quantizer) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// CurrentZoom is the tile zoom level that best matches vp.
func (q *Quantizer) CurrentZoom(vp tiles.Viewport) int {
	return tiles.BestZoomForSpan(q.lonSpan(vp), tiles.TilesAcross(vp.WidthPx), q.maxZoom)
}

func (q *Quantizer) lonSpan(vp tiles.Viewport) float64 {
	b := geo.ViewportBound(q.proj, vp)
	return b.Max[0] - b.Min[0]
}

// Zoom applies a gesture anchored at the centre of the viewport.
func (q *Quantizer) Zoom(vp tiles.Viewport, increment int, force bool) (tiles.Viewport, bool) {
	return q.ZoomAt(vp, increment, float64(vp.WidthPx)/2, float64(vp.HeightPx)/2, force)
}

// ZoomAt applies one gesture. increment is +1 to zoom in one level, -1 to
// zoom out and 0 to re-snap the span to the current level. px/py is the
// pointer position in pixels from the top-left corner of the viewport.
//
// The returned viewport spans exactly the longitude range of the target
// level. The scale that achieves it is solved numerically, since projected
// units are not linear in longitude for every projection.
//
// The returned bool is false when the gesture was a no-op: the target level
// equals the current level and force is not set, vp is degenerate, or no
// scale of vp reaches the target level.
func (q *Quantizer) ZoomAt(vp tiles.Viewport, increment int, px, py float64, force bool) (tiles.Viewport, bool) {
	if !vp.Valid() {
		return vp, false
	}

	span := q.lonSpan(vp)
	if !(span > 0) {
		return vp, false
	}

	across := tiles.TilesAcross(vp.WidthPx)
	current := tiles.BestZoomForSpan(span, across, q.maxZoom)
	target := max(0, min(current+sign(increment), q.maxZoom))
	if target == current && !force {
		return vp, false
	}

	a := anchor{
		vp: vp,
		fx: px / float64(vp.WidthPx),
		fy: py / float64(vp.HeightPx),
	}
	a.x = vp.MinX + a.fx*vp.SpanX()
	a.y = vp.MaxY - a.fy*vp.SpanY()

	want := tiles.SpanForZoom(target, across)
	out, ok := q.solve(a, want, want/span)
	if !ok || tiles.BestZoomForSpan(q.lonSpan(out), across, q.maxZoom) != target {
		return vp, false
	}
	return out, true
}

// anchor scales a viewport about a fixed point: the projected point (x, y)
// stays at fraction (fx, fy) of the viewport measured from the top-left.
type anchor struct {
	vp     tiles.Viewport
	fx, fy float64
	x, y   float64
}

func (a anchor) scale(factor float64) tiles.Viewport {
	spanX := a.vp.SpanX() * factor
	spanY := a.vp.SpanY() * factor

	out := a.vp
	out.MinX = a.x - a.fx*spanX
	out.MaxX = out.MinX + spanX
	out.MaxY = a.y + a.fy*spanY
	out.MinY = out.MaxY - spanY
	return out
}

const (
	// spanTolerance is the relative error accepted on the longitude span.
	spanTolerance = 1e-12
	maxBracket    = 64
	maxBisect     = 200
)

// solve finds the scale factor whose viewport spans want degrees of
// longitude, starting from guess. The span grows with the factor, so the
// root is bracketed by doubling and then bisected in log space.
func (q *Quantizer) solve(a anchor, want, guess float64) (tiles.Viewport, bool) {
	if !(guess > 0) || math.IsInf(guess, 0) {
		return a.vp, false
	}
	near := func(s float64) bool { return math.Abs(s-want) <= spanTolerance*want }

	out := a.scale(guess)
	s := q.lonSpan(out)
	if near(s) {
		return out, true
	}

	lo, hi := guess, guess
	for i := 0; s < want; i++ {
		if i == maxBracket {
			return a.vp, false
		}
		lo, hi = hi, hi*2
		s = q.lonSpan(a.scale(hi))
	}
	for i := 0; q.lonSpan(a.scale(lo)) > want; i++ {
		if i == maxBracket {
			return a.vp, false
		}
		hi, lo = lo, lo/2
	}

	for i := 0; i < maxBisect; i++ {
		mid := math.Sqrt(lo * hi)
		out = a.scale(mid)
		s = q.lonSpan(out)
		if near(s) {
			return out, true
		}
		if s < want {
			lo = mid
		} else {
			hi = mid
		}
	}
	return out, true
}

// Wheel feeds a continuous wheel delta, positive towards zooming in. Deltas
// accumulate until they reach one whole unit, which emits exactly one step
// regardless of how far past the threshold the accumulator went.
func (q *Quantizer) Wheel(vp tiles.Viewport, delta, px, py float64) (tiles.Viewport, bool) {
	q.mu.Lock()
	q.acc += delta
	if math.Abs(q.acc) < 1 {
		if q.acc != 0 {
			q.state = Zooming
		} else {
			q.state = Idle
		}
		q.mu.Unlock()
		return vp, false
	}
	step := 1
	if q.acc < 0 {
		step = -1
	}
	q.acc = 0
	q.state = Idle
	q.mu.Unlock()

	return q.ZoomAt(vp, step, px, py, false)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
