package output

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/MeKo-Tech/tilecompose/internal/grid"
	"github.com/MeKo-Tech/tilecompose/internal/mbtiles"
	"github.com/MeKo-Tech/tilecompose/internal/tile"
)

// MBTilesConfig configures an MBTilesSink.
type MBTilesConfig struct {
	Logger      *slog.Logger
	Path        string
	Name        string
	Description string
	Origin      tile.Coords // XYZ tile receiving grid tile (0,0)
	Cols        int
	Rows        int
	TileWidth   int
	TileHeight  int
	Gzip        bool
	SkipEmpty   bool
}

// MBTilesSink stores grid tile (col,row) as XYZ tile (origin.X+col, origin.Y+row)
// at the origin's zoom level.
type MBTilesSink struct {
	writer    *mbtiles.Writer
	enc       *Encoder
	origin    tile.Coords
	skipEmpty bool
}

// NewMBTilesSink checks that the whole grid fits the tile matrix and creates the database.
func NewMBTilesSink(cfg MBTilesConfig, enc *Encoder) (*MBTilesSink, error) {
	r, err := tile.GridRange(cfg.Origin, cfg.Cols, cfg.Rows)
	if err != nil {
		return nil, fmt.Errorf("grid does not fit zoom %d: %w", cfg.Origin.Z, err)
	}

	name := cfg.Name
	if name == "" {
		name = "tilecompose"
	}

	bound := r.Bound()
	meta := mbtiles.Metadata{
		Name:        name,
		Description: cfg.Description,
		Format:      mbtiles.FormatPNG,
		Type:        mbtiles.TypeOverlay,
		Version:     "1.0",
		MinZoom:     int(cfg.Origin.Z),
		MaxZoom:     int(cfg.Origin.Z),
		Bounds:      bound,
		Center:      bound.Center(),
		CenterZoom:  int(cfg.Origin.Z),
		Extra: map[string]string{
			"tilecompose:grid":      fmt.Sprintf("%dx%d", cfg.Cols, cfg.Rows),
			"tilecompose:tile_size": fmt.Sprintf("%dx%d", cfg.TileWidth, cfg.TileHeight),
			"tilecompose:tiles":     strconv.Itoa(r.Count()),
		},
	}

	w, err := mbtiles.New(cfg.Path, meta, mbtiles.Options{Logger: cfg.Logger, Gzip: cfg.Gzip})
	if err != nil {
		return nil, err
	}

	return &MBTilesSink{
		writer:    w,
		enc:       enc,
		origin:    cfg.Origin,
		skipEmpty: cfg.SkipEmpty,
	}, nil
}

// Coords returns the XYZ coordinate a grid tile is stored under.
func (s *MBTilesSink) Coords(t *grid.Tile) (tile.Coords, error) {
	return s.origin.Offset(t.Col, t.Row)
}

func (s *MBTilesSink) WriteTile(t *grid.Tile) error {
	if s.skipEmpty && isEmpty(t.Pix) {
		return nil
	}

	c, err := s.Coords(t)
	if err != nil {
		return err
	}

	data, err := s.enc.Bytes(t.Image())
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t, err)
	}
	return s.writer.WriteTile(c, data)
}

// Finish flushes buffered tiles.
func (s *MBTilesSink) Finish() error {
	return s.writer.Flush()
}

// Close flushes and closes the database.
func (s *MBTilesSink) Close() error {
	return s.writer.Close()
}
