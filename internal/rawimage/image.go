// Package rawimage holds decoded source images as flat, non-premultiplied RGBA buffers
// indexed by a stable integer id.
package rawimage

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// Image is a decoded RGBA raster. Pix holds Width*Height*4 bytes, row-major,
// non-premultiplied. An Image is never mutated once constructed.
type Image struct {
	Pix    []byte
	Width  int
	Height int
}

// New wraps pix as an Image, checking that the buffer matches the dimensions.
func New(width, height int, pix []byte) (*Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image dimensions must be positive, got %dx%d", width, height)
	}
	if want := width * height * 4; len(pix) != want {
		return nil, fmt.Errorf("pixel buffer length %d does not match %dx%d (want %d)", len(pix), width, height, want)
	}
	return &Image{Width: width, Height: height, Pix: pix}, nil
}

// NewFilled returns a width x height image with every pixel set to c.
func NewFilled(width, height int, c color.NRGBA) *Image {
	pix := make([]byte, width*height*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i] = c.R
		pix[i+1] = c.G
		pix[i+2] = c.B
		pix[i+3] = c.A
	}
	return &Image{Width: width, Height: height, Pix: pix}
}

// FromImage converts any decoded image into a raw Image anchored at (0,0).
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && n.Stride == b.Dx()*4 {
		pix := make([]byte, len(n.Pix[:b.Dx()*b.Dy()*4]))
		copy(pix, n.Pix)
		return &Image{Width: b.Dx(), Height: b.Dy(), Pix: pix}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return &Image{Width: b.Dx(), Height: b.Dy(), Pix: dst.Pix}
}

// At returns the pixel at (x, y).
func (img *Image) At(x, y int) color.NRGBA {
	i := (y*img.Width + x) * 4
	return color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: img.Pix[i+3]}
}

// NRGBA returns an image.NRGBA view sharing the underlying buffer.
func (img *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    img.Pix,
		Stride: img.Width * 4,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}
