package output

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/tilecompose/internal/composite"
	"github.com/MeKo-Tech/tilecompose/internal/grid"
	"github.com/MeKo-Tech/tilecompose/internal/mbtiles"
	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/tile"
	"github.com/MeKo-Tech/tilecompose/internal/types"
)

var red = color.NRGBA{R: 255, A: 255}

// composeRed runs a 100x60 job (tiles 32x32) with a red 20x20 square at (30,30).
func composeRed(t *testing.T, onTile composite.TileFunc) *composite.Result {
	t.Helper()

	store := rawimage.NewStore()
	require.NoError(t, store.Put(0, rawimage.NewFilled(20, 20, red)))

	cfg := composite.DefaultConfig(100, 60)
	cfg.TileWidth, cfg.TileHeight = 32, 32
	job, err := composite.New(cfg, store, []types.ComposeOp{{Image: 0, X: 30, Y: 30}})
	require.NoError(t, err)

	res, err := job.Run(context.Background(), onTile)
	require.NoError(t, err)
	return res
}

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    png.CompressionLevel
		wantErr bool
	}{
		{"", png.DefaultCompression, false},
		{"default", png.DefaultCompression, false},
		{"SPEED", png.BestSpeed, false},
		{"best", png.BestCompression, false},
		{"none", png.NoCompression, false},
		{"max", png.DefaultCompression, true},
	}

	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestFolderSink_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tiles")
	sink, err := NewFolderSink(dir, NewEncoder(png.BestSpeed), false)
	require.NoError(t, err)

	rec := NewRecorder(sink, 15, nil, nil)
	res := composeRed(t, rec.OnTile)
	require.NoError(t, rec.Err())
	require.Equal(t, len(res.Tiles), rec.Written())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, len(res.Tiles))

	// Pixel (30,30) lies in tile 0 at local (30,30); (40,40) in tile 6 (col 1, row 1).
	first := decodePNG(t, filepath.Join(dir, "tile_0_x0_y0.png"))
	require.Equal(t, image.Rect(0, 0, 32, 32), first.Bounds())
	require.Equal(t, red, color.NRGBAModel.Convert(first.At(30, 30)))
	require.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(first.At(29, 29)))

	inner := decodePNG(t, filepath.Join(dir, "tile_6_x32_y32.png"))
	require.Equal(t, red, color.NRGBAModel.Convert(inner.At(8, 8)))
	require.Equal(t, red, color.NRGBAModel.Convert(inner.At(17, 17)))
	require.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(inner.At(18, 18)))
}

func TestFolderSink_SkipEmpty(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFolderSink(dir, NewEncoder(png.BestSpeed), true)
	require.NoError(t, err)

	rec := NewRecorder(sink, 15, nil, nil)
	composeRed(t, rec.OnTile)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.ElementsMatch(t, []string{"tile_0_x0_y0.png", "tile_1_x32_y0.png", "tile_5_x0_y32.png", "tile_6_x32_y32.png"}, names)
}

func TestMosaicSink_Crop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "mosaic.png")
	sink, err := NewMosaicSink(path, 100, 60, NewEncoder(png.DefaultCompression))
	require.NoError(t, err)

	rec := NewRecorder(sink, 15, nil, nil)
	composeRed(t, rec.OnTile)
	require.NoError(t, rec.Err())

	img := decodePNG(t, path)
	require.Equal(t, image.Rect(0, 0, 100, 60), img.Bounds())
	require.Equal(t, red, color.NRGBAModel.Convert(img.At(30, 30)))
	require.Equal(t, red, color.NRGBAModel.Convert(img.At(49, 49)))
	require.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(img.At(50, 50)))
	require.Equal(t, color.NRGBA{}, color.NRGBAModel.Convert(img.At(99, 59)))

	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestNewMosaicSink_InvalidSize(t *testing.T) {
	_, err := NewMosaicSink("x.png", 0, 10, NewEncoder(png.DefaultCompression))
	require.Error(t, err)
}

func TestMBTilesSink_XYZMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mbtiles")
	origin := tile.NewCoords(10, 500, 300)

	// 100x60 at 32x32 -> 5 cols, 3 rows
	sink, err := NewMBTilesSink(MBTilesConfig{
		Path:       path,
		Origin:     origin,
		Cols:       5,
		Rows:       3,
		TileWidth:  32,
		TileHeight: 32,
	}, NewEncoder(png.BestSpeed))
	require.NoError(t, err)

	rec := NewRecorder(sink, 15, nil, nil)
	res := composeRed(t, rec.OnTile)
	require.NoError(t, rec.Err())
	require.NoError(t, sink.Close())
	require.Equal(t, 15, rec.Written())

	r, err := mbtiles.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(res.Tiles), n)

	// Grid tile (col 1, row 1) -> XYZ (501, 301).
	data, err := r.ReadTile(context.Background(), tile.NewCoords(10, 501, 301))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, red, color.NRGBAModel.Convert(img.At(8, 8)))

	meta, err := r.Metadata()
	require.NoError(t, err)
	require.Equal(t, mbtiles.TypeOverlay, meta.Type)
	require.Equal(t, mbtiles.FormatPNG, meta.Format)
	require.Equal(t, 10, meta.MinZoom)
	require.Equal(t, 10, meta.MaxZoom)
	require.Equal(t, "5x3", meta.Extra["tilecompose:grid"])

	want, err := tile.GridRange(origin, 5, 3)
	require.NoError(t, err)
	b := want.Bound()
	require.InDelta(t, b.Min.Lon(), meta.Bounds.Min.Lon(), 1e-6)
	require.InDelta(t, b.Max.Lat(), meta.Bounds.Max.Lat(), 1e-6)
}

func TestMBTilesSink_GridOutsideMatrix(t *testing.T) {
	_, err := NewMBTilesSink(MBTilesConfig{
		Path:   filepath.Join(t.TempDir(), "out.mbtiles"),
		Origin: tile.NewCoords(2, 3, 0),
		Cols:   2,
		Rows:   1,
	}, NewEncoder(png.BestSpeed))
	require.ErrorIs(t, err, tile.ErrOutOfRange)
}

type failingSink struct {
	failIndex int
	finished  bool
}

func (s *failingSink) WriteTile(t *grid.Tile) error {
	if t.Index == s.failIndex {
		return errors.New("disk full")
	}
	return nil
}

func (s *failingSink) Finish() error {
	s.finished = true
	return nil
}

func (s *failingSink) Close() error { return nil }

func TestRecorder_CountsFailuresAndProgress(t *testing.T) {
	sink := &failingSink{failIndex: 2}

	var lastDone, lastTotal, lastFailed int
	rec := NewRecorder(sink, 4, nil, func(done, total, failed int) {
		lastDone, lastTotal, lastFailed = done, total, failed
	})

	tiles := grid.Build(10, 10, 8, 8)
	require.Len(t, tiles, 9)
	for _, tl := range tiles[:4] {
		rec.OnTile(tl, false)
	}
	require.Error(t, rec.Err())

	rec.OnTile(tiles[3], true)

	require.True(t, sink.finished)
	require.NoError(t, rec.Err())
	require.Equal(t, 3, rec.Written())
	require.Equal(t, 1, rec.Failed())
	require.Equal(t, 4, lastDone)
	require.Equal(t, 4, lastTotal)
	require.Equal(t, 1, lastFailed)
}
