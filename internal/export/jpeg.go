// Package export encodes rendered mosaics for download.
package export

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/cshum/vipsgen/vips"
	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 82

// PNG encodes img losslessly.
func PNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Background fills transparent areas of a JPEG export.
var Background = color.RGBA{R: 221, G: 221, B: 221, A: 255}

// flatten composites img over Background. An opaque RGBA encodes as a PNG
// without an alpha channel, which JPEG cannot carry.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(Background), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// JPEG encodes img with libvips. vips.Startup must have been called.
func JPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	data, err := PNG(flatten(img))
	if err != nil {
		return nil, err
	}

	// Stage the mosaic as a PNG file and hand it to the libvips loader.
	tmp, err := os.CreateTemp("", "mosaic_*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	vimg, err := vips.NewPngload(tmpPath, vips.DefaultPngloadOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load mosaic: %w", err)
	}
	defer vimg.Close()

	opts := vips.DefaultJpegsaveBufferOptions()
	opts.Q = quality
	opts.Interlace = false
	out, err := vimg.JpegsaveBuffer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	return out, nil
}
