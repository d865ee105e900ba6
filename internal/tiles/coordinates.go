package tiles

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// TileSize is the edge length of one tile image in pixels.
	TileSize = 256

	// MaxLatitude is the northern limit of the Web Mercator tiling. Latitudes
	// outside ±MaxLatitude have no finite tile Y coordinate.
	MaxLatitude = 85.05112877980659

	// DefaultMaxZoom is used when a provider does not state its own limit.
	DefaultMaxZoom = 19
)

// ClampLatitude limits lat to the Mercator-valid range.
func ClampLatitude(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// Project converts a geographic coordinate to fractional tile coordinates at
// the given zoom. The latitude is clamped to ±MaxLatitude first.
func Project(lat, lon float64, zoom int) (x, y float64) {
	n := math.Exp2(float64(zoom))
	latRad := ClampLatitude(lat) * math.Pi / 180
	x = (lon + 180.0) / 360.0 * n
	y = (1.0 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2.0 * n
	return x, y
}

// Unproject converts fractional tile coordinates back to latitude/longitude.
func Unproject(x, y float64, zoom int) (lat, lon float64) {
	n := math.Exp2(float64(zoom))
	lon = x/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*y/n)))
	lat = latRad * 180.0 / math.Pi
	return lat, lon
}

// BestZoomForSpan returns the zoom level at which one tile width covers
// lonSpan/tilesAcross degrees of longitude, rounded to the nearest level and
// clamped to [0, maxZoom].
//
// A non-positive span means the view is infinitely zoomed in and yields
// maxZoom; a non-positive tile count yields 0.
func BestZoomForSpan(lonSpan, tilesAcross float64, maxZoom int) int {
	if maxZoom < 0 {
		maxZoom = 0
	}
	if !(tilesAcross > 0) {
		return 0
	}
	if !(lonSpan > 0) {
		return maxZoom
	}
	degPerTile := lonSpan / tilesAcross
	z := int(math.Round(math.Log2(360.0 / degPerTile)))
	return max(0, min(z, maxZoom))
}

// SpanForZoom is the inverse of BestZoomForSpan: the longitude span a viewport
// tilesAcross tiles wide covers at exactly zoom.
func SpanForZoom(zoom int, tilesAcross float64) float64 {
	return 360.0 / math.Exp2(float64(zoom)) * tilesAcross
}

// TilesAcross converts a viewport width in pixels to a tile count.
func TilesAcross(widthPx int) float64 {
	return float64(widthPx) / TileSize
}

// snapEpsilon absorbs round-off when a viewport edge falls exactly on a tile
// edge, so the edge does not pull in a neighbouring tile.
const snapEpsilon = 1e-9

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

// CoveringRange returns the inclusive tile-index range at zoom that covers
// the geographic rectangle b, expanded by margin tiles on every side and
// clamped to the world. b is (lon, lat) ordered as in orb.
func CoveringRange(b orb.Bound, zoom, margin int) Range {
	fxMin, fyMin := Project(b.Max[1], b.Min[0], zoom)
	fxMax, fyMax := Project(b.Min[1], b.Max[0], zoom)

	x0 := int(math.Floor(snap(fxMin)))
	y0 := int(math.Floor(snap(fyMin)))
	x1 := int(math.Ceil(snap(fxMax))) - 1
	y1 := int(math.Ceil(snap(fyMax))) - 1
	if x1 < x0 {
		x1 = x0
	}
	if y1 < y0 {
		y1 = y0
	}

	last := (1 << uint(zoom)) - 1
	clamp := func(v int) int { return max(0, min(v, last)) }
	return Range{
		Zoom: zoom,
		MinX: clamp(x0 - margin),
		MaxX: clamp(x1 + margin),
		MinY: clamp(y0 - margin),
		MaxY: clamp(y1 + margin),
	}
}
