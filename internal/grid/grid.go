// Package grid partitions a rectangular target area into fixed-size tiles.
//
// The grid carries one extra column and one extra row beyond
// ceil(W/tw) x ceil(H/th). Tiles past the target edge stay transparent.
package grid

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/tilecompose/internal/types"
)

// Tile is one fixed-size region of the target area. Its buffer is exclusively
// owned by whichever worker is compositing it.
type Tile struct {
	// Pix holds Width()*Height()*4 bytes of non-premultiplied RGBA.
	Pix []byte

	// Ops are the operations routed to this tile, in global submission order.
	Ops []types.ComposeOp

	// Bounds is the tile's pixel-space rectangle in the target area.
	Bounds types.Bounds

	// Index is the row-major construction index.
	Index int
	Col   int
	Row   int
}

// Width returns the tile width in pixels.
func (t *Tile) Width() int {
	return t.Bounds.Width()
}

// Height returns the tile height in pixels.
func (t *Tile) Height() int {
	return t.Bounds.Height()
}

// Left returns the target-space x coordinate of the tile's left edge.
func (t *Tile) Left() int {
	return t.Bounds.Left
}

// Top returns the target-space y coordinate of the tile's top edge.
func (t *Tile) Top() int {
	return t.Bounds.Top
}

// Reset clears the tile buffer to transparent black.
func (t *Tile) Reset() {
	clear(t.Pix)
}

// Image returns an image.NRGBA view of the tile buffer in tile-local coordinates.
func (t *Tile) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    t.Pix,
		Stride: t.Width() * 4,
		Rect:   image.Rect(0, 0, t.Width(), t.Height()),
	}
}

// String returns a human-readable representation of the tile
func (t *Tile) String() string {
	return fmt.Sprintf("tile%d[c%d,r%d]", t.Index, t.Col, t.Row)
}

// Dimensions returns the number of tile columns and rows used for a target of
// width x height. Non-positive tile sizes are a caller bug and panic.
func Dimensions(width, height, tileW, tileH int) (cols, rows int) {
	if tileW <= 0 || tileH <= 0 {
		panic(fmt.Sprintf("grid: tile size must be positive, got %dx%d", tileW, tileH))
	}
	return ceilDiv(width, tileW) + 1, ceilDiv(height, tileH) + 1
}

// Build creates the tiles covering [0,width) x [0,height), row-major, with
// empty buffers and no operations.
func Build(width, height, tileW, tileH int) []*Tile {
	cols, rows := Dimensions(width, height, tileW, tileH)

	tiles := make([]*Tile, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			left := tileW * col
			top := tileH * row
			tiles = append(tiles, &Tile{
				Index: len(tiles),
				Col:   col,
				Row:   row,
				Bounds: types.Bounds{
					Left:   left,
					Right:  left + tileW,
					Top:    top,
					Bottom: top + tileH,
				},
				Pix: make([]byte, tileW*tileH*4),
			})
		}
	}

	return tiles
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
