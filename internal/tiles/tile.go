package tiles

import (
	"fmt"
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Key identifies one tile image at one zoom level in the XYZ scheme.
type Key struct {
	Zoom int
	X    int
	Y    int
}

// Valid reports whether the key addresses an existing tile at a zoom no
// deeper than maxZoom.
func (k Key) Valid(maxZoom int) bool {
	if k.Zoom < 0 || k.Zoom > maxZoom || k.Zoom > 30 {
		return false
	}
	n := 1 << uint(k.Zoom)
	return k.X >= 0 && k.X < n && k.Y >= 0 && k.Y < n
}

// Path is the slippy path of the tile, relative to a server prefix or a
// cache root.
func (k Key) Path() string {
	return fmt.Sprintf("%d/%d/%d.png", k.Zoom, k.X, k.Y)
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.Zoom, k.X, k.Y)
}

// Maptile converts the key to an orb maptile.
func (k Key) Maptile() maptile.Tile {
	return maptile.New(uint32(k.X), uint32(k.Y), maptile.Zoom(k.Zoom))
}

// Bound is the geographic rectangle the tile covers: Min is the south-west
// corner, Max the north-east corner, in (lon, lat) order.
func (k Key) Bound() orb.Bound {
	return k.Maptile().Bound()
}

// Tile is a decoded tile image with its geographic bounds. A Tile is never
// mutated after creation and may be shared between the cache and renderers.
type Tile struct {
	Key    Key
	Image  image.Image
	Bounds orb.Bound
}

// NewTile wraps a decoded image.
func NewTile(key Key, img image.Image) *Tile {
	return &Tile{
		Key:    key,
		Image:  img,
		Bounds: key.Bound(),
	}
}

// Size approximates the memory held by the decoded image, in bytes.
func (t *Tile) Size() int64 {
	if t == nil || t.Image == nil {
		return 1
	}
	b := t.Image.Bounds()
	return int64(b.Dx())*int64(b.Dy())*4 + 64
}

// Range is an inclusive rectangle of tile indices at one zoom level.
type Range struct {
	Zoom int `json:"zoom"`
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinY int `json:"minY"`
	MaxY int `json:"maxY"`
}

// Contains reports whether key lies inside the range at the same zoom.
func (r Range) Contains(k Key) bool {
	return k.Zoom == r.Zoom &&
		k.X >= r.MinX && k.X <= r.MaxX &&
		k.Y >= r.MinY && k.Y <= r.MaxY
}

// Len is the number of tiles in the range.
func (r Range) Len() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// Keys enumerates the range row by row.
func (r Range) Keys() []Key {
	keys := make([]Key, 0, r.Len())
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			keys = append(keys, Key{Zoom: r.Zoom, X: x, Y: y})
		}
	}
	return keys
}

// Viewport is the visible rectangle in the application's projected
// coordinates plus its size on screen.
type Viewport struct {
	MinX     float64 `json:"minX"`
	MaxX     float64 `json:"maxX"`
	MinY     float64 `json:"minY"`
	MaxY     float64 `json:"maxY"`
	WidthPx  int     `json:"widthPx"`
	HeightPx int     `json:"heightPx"`
}

// Valid reports whether the viewport has a positive extent and size.
func (v Viewport) Valid() bool {
	return v.MinX < v.MaxX && v.MinY < v.MaxY && v.WidthPx > 0 && v.HeightPx > 0
}

func (v Viewport) SpanX() float64 { return v.MaxX - v.MinX }
func (v Viewport) SpanY() float64 { return v.MaxY - v.MinY }

// Center returns the midpoint of the viewport in projected coordinates.
func (v Viewport) Center() (x, y float64) {
	return (v.MinX + v.MaxX) / 2, (v.MinY + v.MaxY) / 2
}
