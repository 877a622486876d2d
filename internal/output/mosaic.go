package output

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
)

// MosaicSink stitches all tiles into one width x height PNG. Tile area beyond
// the target size is cropped. The file is written by Finish.
type MosaicSink struct {
	canvas *image.NRGBA
	enc    *Encoder
	path   string
}

// NewMosaicSink allocates the canvas for a width x height target.
func NewMosaicSink(path string, width, height int, enc *Encoder) (*MosaicSink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid mosaic size %dx%d", width, height)
	}
	return &MosaicSink{
		canvas: image.NewNRGBA(image.Rect(0, 0, width, height)),
		enc:    enc,
		path:   path,
	}, nil
}

// WriteTile copies the tile into the canvas. Tiles cover disjoint regions.
func (s *MosaicSink) WriteTile(tile *grid.Tile) error {
	xdraw.Draw(s.canvas, tile.Bounds.Rect(), tile.Image(), image.Point{}, xdraw.Src)
	return nil
}

// Finish encodes the canvas to a temporary file and renames it into place.
func (s *MosaicSink) Finish() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create mosaic file: %w", err)
	}

	if err := s.enc.Encode(f, s.canvas); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode mosaic: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close mosaic file: %w", err)
	}

	return os.Rename(tmp, s.path)
}

func (s *MosaicSink) Close() error { return nil }
