package types

import (
	"fmt"
	"image"
)

// ComposeOp places the top-left corner of image Image at (X, Y) in target space.
type ComposeOp struct {
	Image int // Raw image store id
	X     int // Target-space column of the image's left edge
	Y     int // Target-space row of the image's top edge
}

// String returns a human-readable representation of the operation
func (op ComposeOp) String() string {
	return fmt.Sprintf("img%d@(%d,%d)", op.Image, op.X, op.Y)
}

// Bounds is a pixel-space rectangle, half-open on Right and Bottom.
type Bounds struct {
	Left   int
	Right  int
	Top    int
	Bottom int
}

// Width returns the width of the bounds in pixels
func (b Bounds) Width() int {
	return b.Right - b.Left
}

// Height returns the height of the bounds in pixels
func (b Bounds) Height() int {
	return b.Bottom - b.Top
}

// Rect converts the bounds to an image.Rectangle in target space.
func (b Bounds) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Contains reports whether the target-space pixel (x, y) lies inside the bounds.
func (b Bounds) Contains(x, y int) bool {
	return x >= b.Left && x < b.Right && y >= b.Top && y < b.Bottom
}

// String returns a human-readable representation of the bounds
func (b Bounds) String() string {
	return fmt.Sprintf("bounds(%d,%d,%d,%d)", b.Left, b.Top, b.Right, b.Bottom)
}
