package output

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
)

// ParseCompression maps "default", "speed", "best" or "none" to a PNG compression level.
func ParseCompression(s string) (png.CompressionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return png.DefaultCompression, nil
	case "speed":
		return png.BestSpeed, nil
	case "best":
		return png.BestCompression, nil
	case "none":
		return png.NoCompression, nil
	default:
		return png.DefaultCompression, fmt.Errorf("invalid png compression %q: must be default, speed, best or none", s)
	}
}

type bufferPool struct {
	pool sync.Pool
}

func (p *bufferPool) Get() *png.EncoderBuffer {
	return p.pool.Get().(*png.EncoderBuffer)
}

func (p *bufferPool) Put(buf *png.EncoderBuffer) {
	p.pool.Put(buf)
}

// Encoder encodes tile images as PNG. It is safe for concurrent use.
type Encoder struct {
	enc png.Encoder
}

// NewEncoder returns an encoder using the given compression level.
func NewEncoder(level png.CompressionLevel) *Encoder {
	return &Encoder{enc: png.Encoder{
		CompressionLevel: level,
		BufferPool: &bufferPool{pool: sync.Pool{
			New: func() any { return &png.EncoderBuffer{} },
		}},
	}}
}

// Encode writes img to w.
func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	return e.enc.Encode(w, img)
}

// Bytes returns img as PNG data.
func (e *Encoder) Bytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
