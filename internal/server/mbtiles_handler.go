// Package server serves composited tiles from an MBTiles database over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/tilecompose/internal/mbtiles"
	"github.com/MeKo-Tech/tilecompose/internal/tile"
)

// MBTilesHandler serves tiles from an MBTiles database.
type MBTilesHandler struct {
	reader       *mbtiles.Reader
	logger       *slog.Logger
	cacheControl string
}

// MBTilesConfig configures the MBTiles handler.
type MBTilesConfig struct {
	MBTilesPath  string
	CacheControl string
}

// NewMBTilesHandler opens the database and creates a handler.
func NewMBTilesHandler(cfg MBTilesConfig, logger *slog.Logger) (*MBTilesHandler, error) {
	reader, err := mbtiles.OpenReader(cfg.MBTilesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open MBTiles: %w", err)
	}

	return &MBTilesHandler{
		reader:       reader,
		logger:       logger,
		cacheControl: cfg.CacheControl,
	}, nil
}

// Handler returns a mux serving
//
//	GET /tiles/z{z}_x{x}_y{y}.png
//	GET /tiles/{z}/{x}/{y}.png
//	GET /metadata.json
//	GET /healthz
//
// with permissive CORS headers.
func (h *MBTilesHandler) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/tiles/", h.serveTile)
	mux.HandleFunc("/metadata.json", h.serveMetadata)
	mux.HandleFunc("/healthz", h.serveHealth)
	return withCORS(mux)
}

func (h *MBTilesHandler) serveTile(w http.ResponseWriter, r *http.Request) {
	coords, ok := parseTilePath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := h.reader.ReadTile(r.Context(), coords)
	if errors.Is(err, mbtiles.ErrTileNotFound) {
		http.Error(w, "Tile not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log().Error("Failed to read tile", "coords", coords.String(), "error", err)
		http.Error(w, "Failed to read tile", http.StatusInternalServerError)
		return
	}

	if h.cacheControl != "" {
		w.Header().Set("Cache-Control", h.cacheControl)
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))

	if _, err := w.Write(data); err != nil {
		h.log().Error("Failed to write response", "error", err)
	}
}

func (h *MBTilesHandler) serveMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.reader.Metadata()
	if err != nil {
		h.log().Error("Failed to read metadata", "error", err)
		http.Error(w, "Failed to read metadata", http.StatusInternalServerError)
		return
	}

	doc := map[string]any{
		"name":        meta.Name,
		"format":      meta.Format,
		"type":        meta.Type,
		"description": meta.Description,
		"minzoom":     meta.MinZoom,
		"maxzoom":     meta.MaxZoom,
		"bounds":      []float64{meta.Bounds.Min.Lon(), meta.Bounds.Min.Lat(), meta.Bounds.Max.Lon(), meta.Bounds.Max.Lat()},
		"center":      []float64{meta.Center.Lon(), meta.Center.Lat(), float64(meta.CenterZoom)},
		"tiles":       []string{"/tiles/{z}/{x}/{y}.png"},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		h.log().Error("Failed to write response", "error", err)
	}
}

func (h *MBTilesHandler) serveHealth(w http.ResponseWriter, r *http.Request) {
	n, err := h.reader.Count(r.Context())
	if err != nil {
		h.log().Error("Health check failed", "error", err)
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "ok %d tiles\n", n)
}

// Close closes the MBTiles reader.
func (h *MBTilesHandler) Close() error {
	return h.reader.Close()
}

func (h *MBTilesHandler) log() *slog.Logger {
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}

// parseTilePath parses /tiles/z13_x4317_y2692.png or /tiles/13/4317/2692.png.
func parseTilePath(requestPath string) (tile.Coords, bool) {
	rest, ok := strings.CutPrefix(requestPath, "/tiles/")
	if !ok {
		return tile.Coords{}, false
	}
	rest, ok = strings.CutSuffix(rest, ".png")
	if !ok {
		return tile.Coords{}, false
	}

	if !strings.Contains(rest, "/") {
		coords, err := tile.ParseCoords(rest)
		return coords, err == nil
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return tile.Coords{}, false
	}

	var zxy [3]uint32
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return tile.Coords{}, false
		}
		zxy[i] = uint32(v)
	}

	coords := tile.NewCoords(zxy[0], zxy[1], zxy[2])
	return coords, coords.Valid()
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
