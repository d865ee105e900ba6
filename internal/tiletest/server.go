// Package tiletest provides a fake slippy tile server for tests.
package tiletest

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"slippymap/internal/tiles"
)

// Server serves a distinct solid-colour PNG for every {z}/{x}/{y}.png path
// and counts requests per key.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	counts map[tiles.Key]int
	total  int
	delay  time.Duration
	status int
	body   []byte
}

func NewServer(t testing.TB) *Server {
	t.Helper()
	s := &Server{counts: make(map[tiles.Key]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	var key tiles.Key
	if _, err := fmt.Sscanf(r.URL.Path, "/%d/%d/%d.png", &key.Zoom, &key.X, &key.Y); err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.counts[key]++
	s.total++
	delay, status, body := s.delay, s.status, s.body
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	if body != nil {
		w.Write(body)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(PNG(key))
}

// Prefix is the server URL usable as a tile server prefix.
func (s *Server) Prefix() string {
	return s.URL + "/"
}

// SetDelay delays every response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetStatus makes the server answer with code. Zero restores 200.
func (s *Server) SetStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

// SetBody replaces every response body. Nil restores the generated PNGs.
func (s *Server) SetBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

// Requests is the total number of tile requests served.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Server) RequestsFor(key tiles.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

// Color is the fill colour of the generated tile for key.
func Color(key tiles.Key) color.RGBA {
	return color.RGBA{
		R: uint8(key.X*37 + key.Zoom),
		G: uint8(key.Y*53 + key.Zoom),
		B: uint8(key.Zoom * 11),
		A: 0xff,
	}
}

// PNG encodes a solid tile for key.
func PNG(key tiles.Key) []byte {
	img := image.NewRGBA(image.Rect(0, 0, tiles.TileSize, tiles.TileSize))
	c := Color(key)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
