package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
)

// FolderSink writes each tile as tile_{index}_x{left}_y{top}.png into a directory.
type FolderSink struct {
	enc       *Encoder
	dir       string
	skipEmpty bool
}

// NewFolderSink creates dir if needed. With skipEmpty, fully transparent tiles are not written.
func NewFolderSink(dir string, enc *Encoder, skipEmpty bool) (*FolderSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FolderSink{dir: dir, enc: enc, skipEmpty: skipEmpty}, nil
}

// TileName returns the file name used for a tile.
func TileName(tile *grid.Tile) string {
	return fmt.Sprintf("tile_%d_x%d_y%d.png", tile.Index, tile.Left(), tile.Top())
}

func (s *FolderSink) WriteTile(tile *grid.Tile) error {
	if s.skipEmpty && isEmpty(tile.Pix) {
		return nil
	}

	path := filepath.Join(s.dir, TileName(tile))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tile file: %w", err)
	}

	if err := s.enc.Encode(f, tile.Image()); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

func (s *FolderSink) Finish() error { return nil }

func (s *FolderSink) Close() error { return nil }
