// Package geo holds the application-side coordinate systems a viewport can be
// expressed in. Tile math always goes through latitude/longitude, so any
// Projection can drive the scheduler.
package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"slippymap/internal/tiles"
)

// Projection converts between the application's working coordinates and
// geographic coordinates in degrees.
type Projection interface {
	Project(lat, lon float64) (x, y float64)
	Unproject(x, y float64) (lat, lon float64)
}

// LatLon is the identity projection: x is longitude, y is latitude.
type LatLon struct{}

func (LatLon) Project(lat, lon float64) (float64, float64) { return lon, lat }
func (LatLon) Unproject(x, y float64) (float64, float64)   { return y, x }

// Mercator is spherical Web Mercator (EPSG:3857) in metres.
type Mercator struct{}

func (Mercator) Project(lat, lon float64) (float64, float64) {
	p := project.WGS84.ToMercator(orb.Point{lon, tiles.ClampLatitude(lat)})
	return p[0], p[1]
}

func (Mercator) Unproject(x, y float64) (float64, float64) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[1], p[0]
}

// ViewportBound returns the geographic rectangle spanned by the four corners
// of vp. Latitudes are clamped to the Mercator-valid range. Longitudes are
// measured continuously from the centre of vp, so a viewport straddling the
// antimeridian yields a narrow bound with Max[0] beyond 180 rather than one
// spanning the whole world.
func ViewportBound(proj Projection, vp tiles.Viewport) orb.Bound {
	corners := [4][2]float64{
		{vp.MinX, vp.MinY},
		{vp.MinX, vp.MaxY},
		{vp.MaxX, vp.MinY},
		{vp.MaxX, vp.MaxY},
	}
	cx, cy := vp.Center()
	_, centerLon := proj.Unproject(cx, cy)

	b := orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
	for _, c := range corners {
		lat, lon := proj.Unproject(c[0], c[1])
		lat = tiles.ClampLatitude(lat)
		lon = unwrapLon(proj, cx, cy, centerLon, c[0], c[1], lon)
		b.Min[0] = math.Min(b.Min[0], lon)
		b.Min[1] = math.Min(b.Min[1], lat)
		b.Max[0] = math.Max(b.Max[0], lon)
		b.Max[1] = math.Max(b.Max[1], lat)
	}
	return b
}

// unwrapSteps is the number of segments the centre-to-corner path is walked in.
const unwrapSteps = 8

// unwrapLon shifts lon, the longitude of (x, y), by whole turns so that it
// continues the longitude of the path starting at (cx, cy).
func unwrapLon(proj Projection, cx, cy, centerLon, x, y, lon float64) float64 {
	acc, prev := centerLon, centerLon
	for i := 1; i <= unwrapSteps; i++ {
		f := float64(i) / unwrapSteps
		_, l := proj.Unproject(cx+(x-cx)*f, cy+(y-cy)*f)
		acc += math.Remainder(l-prev, 360)
		prev = l
	}
	return lon + 360*math.Round((acc-lon)/360)
}

// Named returns the projection called name. The tangent plane is centred on
// originLat/originLon; the other projections ignore the origin.
func Named(name string, originLat, originLon float64) (Projection, error) {
	switch name {
	case "mercator", "":
		return Mercator{}, nil
	case "latlon":
		return LatLon{}, nil
	case "tangent":
		return NewTangentPlane(originLat, originLon), nil
	}
	return nil, fmt.Errorf("unknown projection %q", name)
}
