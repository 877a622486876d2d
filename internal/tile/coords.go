// Package tile georeferences compositor grid tiles as Web Mercator XYZ tiles.
package tile

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the highest zoom level accepted for georeferencing.
const MaxZoom = 30

// ErrOutOfRange is returned when a coordinate falls outside the tile matrix of its zoom level.
var ErrOutOfRange = errors.New("tile coordinate out of range")

// Coords represents a tile coordinate in the Web Mercator tile system (z/x/y)
type Coords struct {
	Z uint32 // Zoom level
	X uint32 // X coordinate (column)
	Y uint32 // Y coordinate (row, top origin)
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// At returns the tile containing the WGS84 point p at zoom z.
func At(p orb.Point, z uint32) Coords {
	t := maptile.At(p, maptile.Zoom(z))
	return Coords{Z: uint32(t.Z), X: t.X, Y: t.Y}
}

// String returns the tile coordinate as a string in format "z{zoom}_x{x}_y{y}"
func (c Coords) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

// Path returns the file name for this tile
func (c Coords) Path(extension string) string {
	return fmt.Sprintf("%s.%s", c.String(), extension)
}

// Valid reports whether the coordinate exists at its zoom level.
func (c Coords) Valid() bool {
	if c.Z > MaxZoom {
		return false
	}
	n := uint32(1) << c.Z
	return c.X < n && c.Y < n
}

// TMSY returns the row in TMS numbering (bottom origin), as stored in MBTiles.
func (c Coords) TMSY() uint32 {
	return (uint32(1) << c.Z) - 1 - c.Y
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bound returns the WGS84 extent of the tile.
func (c Coords) Bound() orb.Bound {
	return c.Tile().Bound()
}

// Center returns the center point of the tile in WGS84 (lon, lat)
func (c Coords) Center() orb.Point {
	return c.Bound().Center()
}

// Offset returns the tile col columns right and row rows below c.
func (c Coords) Offset(col, row int) (Coords, error) {
	x := int64(c.X) + int64(col)
	y := int64(c.Y) + int64(row)
	out := Coords{Z: c.Z, X: uint32(x), Y: uint32(y)}
	if x < 0 || y < 0 || x > int64(^uint32(0)) || y > int64(^uint32(0)) || !out.Valid() {
		return Coords{}, fmt.Errorf("%w: %s offset by (%d,%d)", ErrOutOfRange, c, col, row)
	}
	return out, nil
}

// ParseCoords parses a tile string like "z13_x4297_y2754" into Coords
func ParseCoords(s string) (Coords, error) {
	var c Coords
	_, err := fmt.Sscanf(s, "z%d_x%d_y%d", &c.Z, &c.X, &c.Y)
	if err != nil || c.String() != s {
		return Coords{}, fmt.Errorf("invalid tile coordinate format: %s", s)
	}
	if !c.Valid() {
		return Coords{}, fmt.Errorf("%w: %s", ErrOutOfRange, s)
	}
	return c, nil
}

// Range is a rectangular block of tiles at one zoom level, inclusive on both ends.
type Range struct {
	Z          uint32
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// GridRange returns the tiles covered by a cols x rows grid anchored at origin.
func GridRange(origin Coords, cols, rows int) (Range, error) {
	if cols <= 0 || rows <= 0 {
		return Range{}, fmt.Errorf("grid must have at least one tile, got %dx%d", cols, rows)
	}
	if !origin.Valid() {
		return Range{}, fmt.Errorf("%w: origin %s", ErrOutOfRange, origin)
	}
	last, err := origin.Offset(cols-1, rows-1)
	if err != nil {
		return Range{}, err
	}
	return Range{
		Z:    origin.Z,
		MinX: origin.X,
		MaxX: last.X,
		MinY: origin.Y,
		MaxY: last.Y,
	}, nil
}

// ForEach calls the given function for each tile in the range, row by row.
func (r Range) ForEach(fn func(Coords)) {
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			fn(NewCoords(r.Z, x, y))
		}
	}
}

// Count returns the total number of tiles in this range
func (r Range) Count() int {
	return int(r.MaxX-r.MinX+1) * int(r.MaxY-r.MinY+1)
}

// Bound returns the WGS84 extent of the whole range.
func (r Range) Bound() orb.Bound {
	first := NewCoords(r.Z, r.MinX, r.MinY).Bound()
	last := NewCoords(r.Z, r.MaxX, r.MaxY).Bound()
	return first.Union(last)
}
