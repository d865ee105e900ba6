package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"slippymap/internal/config"
	"slippymap/internal/geo"
	"slippymap/internal/mosaic"
	"slippymap/internal/scheduler"
	"slippymap/internal/tiles"
	"slippymap/internal/tilestore"
	"slippymap/internal/zoom"
)

// JPEGEncoder encodes a snapshot as JPEG at the given quality.
type JPEGEncoder func(img image.Image, quality int) ([]byte, error)

// background fills cells of a snapshot whose tile is not loaded yet.
var background = color.RGBA{R: 221, G: 221, B: 221, A: 255}

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	proj      geo.Projection
	store     *tilestore.Store
	scheduler *scheduler.Scheduler
	quantizer *zoom.Quantizer
	jpeg      JPEGEncoder

	mu       sync.Mutex
	viewport tiles.Viewport
}

func New(config *config.Config, logger *zap.Logger, proj geo.Projection, store *tilestore.Store,
	sched *scheduler.Scheduler, quantizer *zoom.Quantizer, jpeg JPEGEncoder) *Handlers {
	return &Handlers{
		config:    config,
		logger:    logger,
		proj:      proj,
		store:     store,
		scheduler: sched,
		quantizer: quantizer,
		jpeg:      jpeg,
	}
}

// Register mounts every route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/viewport", h.HandleViewport)
	mux.HandleFunc("/api/zoom", h.HandleZoom)
	mux.HandleFunc("/api/tiles", h.HandleResident)
	mux.HandleFunc("/api/tiles/", h.HandleTile)
	mux.HandleFunc("/api/snapshot.png", h.HandleSnapshot)
	mux.HandleFunc("/api/snapshot.jpg", h.HandleSnapshot)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/api/cache", h.HandleCache)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		bytes := wrapped.bytesWritten

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", bytes),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.config.Server.AllowedOrigin != "" {
			allowedOrigin = h.config.Server.AllowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type viewportResponse struct {
	Viewport tiles.Viewport `json:"viewport"`
	Zoom     int            `json:"zoom"`
	Range    tiles.Range    `json:"range"`
	Changed  bool           `json:"changed"`
	Gesture  string         `json:"gesture,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) currentViewport() (tiles.Viewport, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.viewport, h.viewport.Valid()
}

// apply stores vp as the current viewport and runs a scheduling pass.
func (h *Handlers) apply(vp tiles.Viewport) scheduler.State {
	h.mu.Lock()
	h.viewport = vp
	h.mu.Unlock()
	return h.scheduler.Update(vp)
}

func (h *Handlers) HandleViewport(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		vp, ok := h.currentViewport()
		if !ok {
			http.Error(w, "No viewport set", http.StatusNotFound)
			return
		}
		st, _ := h.scheduler.State()
		writeJSON(w, viewportResponse{Viewport: vp, Zoom: st.Zoom, Range: st.Range})
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var vp tiles.Viewport
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
		http.Error(w, "Invalid viewport", http.StatusBadRequest)
		return
	}
	if !vp.Valid() {
		http.Error(w, "Viewport must have positive extent and size", http.StatusBadRequest)
		return
	}

	st := h.apply(vp)
	writeJSON(w, viewportResponse{Viewport: vp, Zoom: st.Zoom, Range: st.Range, Changed: true})
}

type zoomRequest struct {
	// Step is +1 to zoom in, -1 to zoom out, 0 to re-snap.
	Step int `json:"step"`
	// Wheel is a continuous delta; when non-zero it replaces Step.
	Wheel float64 `json:"wheel"`
	// X and Y are the pointer position in pixels; nil means the centre.
	X        *float64        `json:"x"`
	Y        *float64        `json:"y"`
	Force    bool            `json:"force"`
	Viewport *tiles.Viewport `json:"viewport"`
}

func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid zoom request", http.StatusBadRequest)
		return
	}

	vp, ok := h.currentViewport()
	if req.Viewport != nil {
		vp, ok = *req.Viewport, req.Viewport.Valid()
	}
	if !ok {
		http.Error(w, "No valid viewport", http.StatusBadRequest)
		return
	}

	px, py := float64(vp.WidthPx)/2, float64(vp.HeightPx)/2
	if req.X != nil {
		px = *req.X
	}
	if req.Y != nil {
		py = *req.Y
	}

	var next tiles.Viewport
	var changed bool
	if req.Wheel != 0 {
		next, changed = h.quantizer.Wheel(vp, req.Wheel, px, py)
	} else {
		next, changed = h.quantizer.ZoomAt(vp, req.Step, px, py, req.Force)
	}

	st := h.apply(next)
	writeJSON(w, viewportResponse{
		Viewport: next,
		Zoom:     st.Zoom,
		Range:    st.Range,
		Changed:  changed,
		Gesture:  h.quantizer.State().String(),
	})
}

type residentTile struct {
	Zoom int `json:"z"`
	X    int `json:"x"`
	Y    int `json:"y"`
	// Bounds is west, south, east, north in degrees.
	Bounds [4]float64 `json:"bounds"`
}

func (h *Handlers) HandleResident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resident := h.scheduler.Resident()
	out := make([]residentTile, 0, len(resident))
	for _, t := range resident {
		out = append(out, residentTile{
			Zoom:   t.Key.Zoom,
			X:      t.Key.X,
			Y:      t.Key.Y,
			Bounds: [4]float64{t.Bounds.Min[0], t.Bounds.Min[1], t.Bounds.Max[0], t.Bounds.Max[1]},
		})
	}
	writeJSON(w, out)
}

// HandleTile serves one tile through the store: /api/tiles/{z}/{x}/{y}.png.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tiles/")
	tileParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(tileParts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	var key tiles.Key
	if _, err := fmt.Sscanf(tileParts[0], "%d", &key.Zoom); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if _, err := fmt.Sscanf(tileParts[1], "%d", &key.X); err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}
	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	if _, err := fmt.Sscanf(strings.TrimSuffix(tileFile, ext), "%d", &key.Y); err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}
	if ext != ".png" {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}
	if !key.Valid(h.config.Tiles.MaxZoom) {
		http.Error(w, "Tile out of range", http.StatusBadRequest)
		return
	}

	tile, ok := h.store.Get(r.Context(), key)
	if !ok {
		http.Error(w, "Tile unavailable", http.StatusBadGateway)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, tile.Image); err != nil {
		h.logger.Error("Failed to encode tile", zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.Header().Set("Cache-Control", "public, max-age=86400")

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(buf.Bytes())
}

// HandleSnapshot renders the resident set over the current viewport.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	vp, ok := h.currentViewport()
	if !ok {
		http.Error(w, "No viewport set", http.StatusNotFound)
		return
	}

	img := mosaic.Render(h.proj, vp, h.scheduler.Resident(), background)

	var data []byte
	var err error
	contentType := "image/png"
	if strings.HasSuffix(r.URL.Path, ".jpg") {
		if h.jpeg == nil {
			http.Error(w, "JPEG export not available", http.StatusNotImplemented)
			return
		}
		contentType = "image/jpeg"
		data, err = h.jpeg(img, h.config.Export.Quality)
	} else {
		var buf bytes.Buffer
		err = png.Encode(&buf, img)
		data = buf.Bytes()
	}
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.Error(err))
		http.Error(w, "Failed to encode snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, _ := h.scheduler.State()
	writeJSON(w, map[string]interface{}{
		"store":     h.store.Stats(),
		"scheduler": h.scheduler.Stats(),
		"zoom":      st.Zoom,
		"range":     st.Range,
	})
}

// HandleCache empties both cache tiers. Resident tiles stay on screen until
// the next pass evicts them.
func (h *Handlers) HandleCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.store.Clear(); err != nil {
		h.logger.Error("Failed to clear cache", zap.Error(err))
		http.Error(w, "Failed to clear cache", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Not for real production use due to potential spoofing
// but it's fine for a demo
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
