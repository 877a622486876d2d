package cmd

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tilecompose/internal/mbtiles"
	"github.com/MeKo-Tech/tilecompose/internal/route"
	"github.com/MeKo-Tech/tilecompose/internal/tile"
)

func TestParseLonLat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    orb.Point
		wantErr bool
	}{
		{name: "valid", input: "9.7,52.3", want: orb.Point{9.7, 52.3}},
		{name: "valid with spaces", input: "9.7, 52.3", want: orb.Point{9.7, 52.3}},
		{name: "negative coordinates", input: "-122.5,37.7", want: orb.Point{-122.5, 37.7}},
		{name: "too few values", input: "9.7", wantErr: true},
		{name: "too many values", input: "9.7,52.3,1", wantErr: true},
		{name: "invalid number", input: "abc,52.3", wantErr: true},
		{name: "longitude out of range", input: "190,52.3", wantErr: true},
		{name: "latitude beyond mercator", input: "9.7,89", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLonLat(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseLonLat(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("parseLonLat(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.want {
				t.Errorf("parseLonLat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolveOrigin(t *testing.T) {
	got, err := resolveOrigin(composeOptions{Zoom: 4, OriginX: 3, OriginY: 5})
	require.NoError(t, err)
	require.Equal(t, tile.NewCoords(4, 3, 5), got)

	got, err = resolveOrigin(composeOptions{Zoom: 13, Anchor: "9.73,52.37"})
	require.NoError(t, err)
	require.Equal(t, tile.At(orb.Point{9.73, 52.37}, 13), got)

	_, err = resolveOrigin(composeOptions{Zoom: 2, OriginX: 4})
	require.ErrorIs(t, err, tile.ErrOutOfRange)

	_, err = resolveOrigin(composeOptions{Zoom: -1})
	require.Error(t, err)
}

// writeJob creates a 64x64 job with one red 16x16 image placed at (8,8).
func writeJob(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()

	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 255, 255
	}
	f, err := os.Create(filepath.Join(dir, "red.png"))
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	job := filepath.Join(dir, "job.yaml")
	content := `
width: 64
height: 64
tile_width: 32
tile_height: 32
workers: 2
images:
  - {id: 0, path: red.png}
ops:
  - {image: 0, x: 8, y: 8}
` + extra
	require.NoError(t, os.WriteFile(job, []byte(content), 0o644))
	return job
}

func withTestLogger(t *testing.T) {
	t.Helper()
	prev := logger
	logger = newLogger(io.Discard, true, "text")
	t.Cleanup(func() { logger = prev })
}

func TestComposeWith_Folder(t *testing.T) {
	withTestLogger(t)
	out := filepath.Join(t.TempDir(), "tiles")

	err := composeWith(context.Background(), composeOptions{
		Job:       writeJob(t, ""),
		Format:    "folder",
		OutputDir: out,
		Workers:   -1,
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	require.Len(t, entries, 9)

	f, err := os.Open(filepath.Join(out, "tile_0_x0_y0.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	require.Equal(t, color.NRGBA{R: 255, A: 255}, color.NRGBAModel.Convert(img.At(8, 8)))
	require.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(img.At(7, 7)))
}

func TestComposeWith_MBTiles(t *testing.T) {
	withTestLogger(t)
	out := filepath.Join(t.TempDir(), "out.mbtiles")

	err := composeWith(context.Background(), composeOptions{
		Job:        writeJob(t, ""),
		Format:     "mbtiles",
		OutputFile: out,
		Workers:    0,
		Zoom:       5,
		OriginX:    10,
		OriginY:    12,
		SkipEmpty:  true,
	})
	require.NoError(t, err)

	r, err := mbtiles.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = r.ReadTile(context.Background(), tile.NewCoords(5, 10, 12))
	require.NoError(t, err)
}

func TestComposeWith_StrictRoutingFails(t *testing.T) {
	withTestLogger(t)

	err := composeWith(context.Background(), composeOptions{
		Job:       writeJob(t, "  - {image: 0, x: 900, y: 900}\n"),
		Format:    "folder",
		OutputDir: t.TempDir(),
		Workers:   -1,
		Routing:   "strict",
	})
	require.ErrorIs(t, err, route.ErrMissedOps)
}

func TestComposeWith_Cancelled(t *testing.T) {
	withTestLogger(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := composeWith(ctx, composeOptions{
		Job:       writeJob(t, ""),
		Format:    "folder",
		OutputDir: t.TempDir(),
		Workers:   -1,
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestComposeWith_InvalidOptions(t *testing.T) {
	withTestLogger(t)
	job := writeJob(t, "")

	tests := []struct {
		name string
		opts composeOptions
	}{
		{"missing job", composeOptions{Format: "folder"}},
		{"bad format", composeOptions{Job: job, Format: "zip"}},
		{"mosaic without file", composeOptions{Job: job, Format: "mosaic"}},
		{"bad compression", composeOptions{Job: job, Format: "folder", PNGCompression: "ultra"}},
		{"bad routing", composeOptions{Job: job, Format: "folder", Workers: -1, Routing: "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, composeWith(context.Background(), tt.opts))
		})
	}
}
