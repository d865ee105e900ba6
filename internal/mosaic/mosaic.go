// Package mosaic composites resident tiles into a single raster of the
// viewport.
package mosaic

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"

	"slippymap/internal/geo"
	"slippymap/internal/tiles"
)

// Render draws each tile at the pixel rectangle its geographic corners
// project to, scaling it to fit. Areas without a tile keep bg.
func Render(proj geo.Projection, vp tiles.Viewport, resident []*tiles.Tile, bg color.Color) *image.RGBA {
	if !vp.Valid() {
		return image.NewRGBA(image.Rect(0, 0, 0, 0))
	}

	dst := image.NewRGBA(image.Rect(0, 0, vp.WidthPx, vp.HeightPx))
	if bg != nil {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}

	for _, t := range resident {
		if t == nil || t.Image == nil {
			continue
		}
		r := pixelRect(proj, vp, t)
		if r.Empty() || !r.Overlaps(dst.Bounds()) {
			continue
		}
		draw.ApproxBiLinear.Scale(dst, r, t.Image, t.Image.Bounds(), draw.Over, nil)
	}
	return dst
}

func pixelRect(proj geo.Projection, vp tiles.Viewport, t *tiles.Tile) image.Rectangle {
	toPixel := func(lat, lon float64) (float64, float64) {
		x, y := proj.Project(lat, lon)
		px := (x - vp.MinX) / vp.SpanX() * float64(vp.WidthPx)
		py := (vp.MaxY - y) / vp.SpanY() * float64(vp.HeightPx)
		return px, py
	}

	// Bounding box of the four corners, for projections that bend tile edges.
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, lat := range [2]float64{t.Bounds.Min[1], t.Bounds.Max[1]} {
		for _, lon := range [2]float64{t.Bounds.Min[0], t.Bounds.Max[0]} {
			px, py := toPixel(lat, lon)
			minX, maxX = math.Min(minX, px), math.Max(maxX, px)
			minY, maxY = math.Min(minY, py), math.Max(maxY, py)
		}
	}
	if math.IsNaN(minX+minY+maxX+maxY) || math.IsInf(minX+minY+maxX+maxY, 0) {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(minX+0.5)), int(math.Floor(minY+0.5)),
		int(math.Floor(maxX+0.5)), int(math.Floor(maxY+0.5)),
	)
}
