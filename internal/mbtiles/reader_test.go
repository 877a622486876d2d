package mbtiles

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"

	"github.com/MeKo-Tech/tilecompose/internal/tile"
)

func TestReader_RoundTrip(t *testing.T) {
	for _, gz := range []bool{false, true} {
		dbPath := filepath.Join(t.TempDir(), "test.mbtiles")

		w, err := New(dbPath, Metadata{Name: "Test", Format: FormatPNG}, Options{Gzip: gz})
		if err != nil {
			t.Fatalf("Failed to create writer: %v", err)
		}

		data := []byte("fake png data for testing")
		coords := []tile.Coords{
			tile.NewCoords(13, 4317, 2692),
			tile.NewCoords(13, 4318, 2692),
			tile.NewCoords(14, 8634, 5384),
		}
		for _, c := range coords {
			if err := w.WriteTile(c, data); err != nil {
				t.Fatalf("Failed to write tile %s: %v", c, err)
			}
		}
		if err := w.Close(); err != nil {
			t.Fatalf("Failed to close writer: %v", err)
		}

		r, err := OpenReader(dbPath)
		if err != nil {
			t.Fatalf("Failed to open reader: %v", err)
		}

		for _, c := range coords {
			got, err := r.ReadTile(context.Background(), c)
			if err != nil {
				t.Fatalf("gzip=%v: failed to read tile %s: %v", gz, c, err)
			}
			if string(got) != string(data) {
				t.Errorf("gzip=%v: tile %s data mismatch: got %q", gz, c, got)
			}
		}

		n, err := r.Count(context.Background())
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != len(coords) {
			t.Errorf("Count() = %d, want %d", n, len(coords))
		}
		r.Close()
	}
}

func TestReader_Metadata(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.mbtiles")

	expected := Metadata{
		Name:        "Test Tileset",
		Format:      FormatPNG,
		MinZoom:     0,
		MaxZoom:     14,
		Bounds:      orb.Bound{Min: orb.Point{9.5, 51.8}, Max: orb.Point{9.9, 52.1}},
		Center:      orb.Point{9.7, 51.95},
		CenterZoom:  12,
		Attribution: "© Test",
		Description: "Test description",
		Type:        TypeOverlay,
		Version:     "1.0",
		Extra:       map[string]string{"tilecompose:grid": "3x3"},
	}

	w, err := New(dbPath, expected, Options{})
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	r, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer r.Close()

	meta, err := r.Metadata()
	if err != nil {
		t.Fatalf("Failed to read metadata: %v", err)
	}

	if meta.Name != expected.Name || meta.Format != expected.Format || meta.Type != expected.Type {
		t.Errorf("name/format/type mismatch: got %q/%q/%q", meta.Name, meta.Format, meta.Type)
	}
	if meta.MinZoom != expected.MinZoom || meta.MaxZoom != expected.MaxZoom {
		t.Errorf("zoom mismatch: got %d-%d, want %d-%d", meta.MinZoom, meta.MaxZoom, expected.MinZoom, expected.MaxZoom)
	}
	if meta.Bounds != expected.Bounds {
		t.Errorf("Bounds mismatch: got %v, want %v", meta.Bounds, expected.Bounds)
	}
	if meta.Center != expected.Center || meta.CenterZoom != expected.CenterZoom {
		t.Errorf("Center mismatch: got %v z%d, want %v z%d", meta.Center, meta.CenterZoom, expected.Center, expected.CenterZoom)
	}
	if meta.Attribution != expected.Attribution {
		t.Errorf("Attribution mismatch: got %q, want %q", meta.Attribution, expected.Attribution)
	}
	if meta.Extra["tilecompose:grid"] != "3x3" {
		t.Errorf("Extra mismatch: got %v", meta.Extra)
	}
}

func TestReader_TileNotFound(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.mbtiles")

	w, err := New(dbPath, Metadata{Name: "Test", Format: FormatPNG}, Options{})
	if err != nil {
		t.Fatalf("Failed to create writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	r, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("Failed to open reader: %v", err)
	}
	defer r.Close()

	_, err = r.ReadTile(context.Background(), tile.NewCoords(13, 4317, 2692))
	if !errors.Is(err, ErrTileNotFound) {
		t.Errorf("Expected ErrTileNotFound, got %v", err)
	}
}

func TestReader_InvalidDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "invalid.mbtiles")

	if err := os.WriteFile(dbPath, []byte("not a database"), 0o644); err != nil {
		t.Fatalf("Failed to create invalid file: %v", err)
	}

	if _, err := OpenReader(dbPath); err == nil {
		t.Error("Expected error for invalid database, got nil")
	}
}

func TestParseMetadata_Malformed(t *testing.T) {
	meta := parseMetadata(map[string]string{
		"minzoom": "abc",
		"bounds":  "1,2,3",
		"center":  "1,x,3",
	})
	if meta.MinZoom != 0 || meta.Bounds != (orb.Bound{}) || meta.Center != (orb.Point{}) {
		t.Errorf("malformed values should be ignored, got %+v", meta)
	}
	if meta.Extra != nil {
		t.Errorf("standard keys leaked into Extra: %v", meta.Extra)
	}
}
