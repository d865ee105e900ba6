package geo

import (
	"math"
)

// EarthRadius is the mean radius of the WGS84 ellipsoid in metres.
const EarthRadius = 6371008.7714

type vec3 struct{ x, y, z float64 }

func (a vec3) dot(b vec3) float64 { return a.x*b.x + a.y*b.y + a.z*b.z }

func (a vec3) scale(s float64) vec3 { return vec3{a.x * s, a.y * s, a.z * s} }

func (a vec3) add(b vec3) vec3 { return vec3{a.x + b.x, a.y + b.y, a.z + b.z} }

func (a vec3) normalized(fallback vec3) vec3 {
	n := math.Sqrt(a.dot(a))
	if n == 0 {
		return fallback
	}
	return a.scale(1 / n)
}

func unitSphere(lat, lon float64) vec3 {
	latRad := lat * math.Pi / 180
	lonRad := lon * math.Pi / 180
	return vec3{
		math.Cos(latRad) * math.Cos(lonRad),
		math.Cos(latRad) * math.Sin(lonRad),
		math.Sin(latRad),
	}
}

// TangentPlane is a stereographic projection onto the plane tangent to the
// earth at a reference point. Coordinates are metres east (x) and north (y)
// of that point.
type TangentPlane struct {
	ref   vec3
	east  vec3
	north vec3
}

// NewTangentPlane builds a projection tangent at (lat, lon).
func NewTangentPlane(lat, lon float64) *TangentPlane {
	ref := unitSphere(lat, lon)
	return &TangentPlane{
		ref:   ref,
		east:  vec3{-ref.y, ref.x, 0}.normalized(vec3{0, 1, 0}),
		north: vec3{-ref.x * ref.z, -ref.y * ref.z, ref.x*ref.x + ref.y*ref.y}.normalized(vec3{-1, 0, 0}),
	}
}

func (p *TangentPlane) Project(lat, lon float64) (float64, float64) {
	pt := unitSphere(lat, lon)
	div := 1 + pt.dot(p.ref)
	x := 2 * pt.dot(p.east) / div
	y := 2 * pt.dot(p.north) / div
	return x * EarthRadius, y * EarthRadius
}

func (p *TangentPlane) Unproject(x, y float64) (float64, float64) {
	a := x / EarthRadius
	b := y / EarthRadius
	onPlane := p.ref.add(p.east.scale(a)).add(p.north.scale(b))
	beta := 4.0 / (4.0 + a*a + b*b)
	pt := onPlane.scale(beta).add(p.ref.scale(beta - 1))

	z := math.Max(-1, math.Min(1, pt.z))
	lat := math.Asin(z) * 180 / math.Pi
	lon := math.Atan2(pt.y, pt.x) * 180 / math.Pi
	return lat, lon
}
