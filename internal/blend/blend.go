// Package blend merges raw source images into tile buffers.
//
// The per-pixel rule is not source-over compositing. It has three branches
// keyed on the source alpha a:
//
//   - a == 255: the source colour replaces the destination colour.
//   - 0 < a < 255: c' = c_src*k + c_dst*(1-k) with k = a/255. The destination
//     is weighted as if fully opaque; its own alpha is not consulted.
//   - a == 0: c' = min(c_dst + c_src, 255), so zero-alpha marker pixels that
//     encode presence in their colour channels stay visible.
//
// In every branch the destination alpha accumulates: A' = min(A + a, 255).
// Downstream consumers depend on this exact output.
package blend

import (
	"math"

	"github.com/MeKo-Tech/tilecompose/internal/rawimage"
	"github.com/MeKo-Tech/tilecompose/internal/types"
)

// Blend composites src into dst (a dstW x dstH RGBA buffer) with the source's
// top-left corner at (offX, offY) in dst coordinates. Source pixels landing
// outside dst are skipped. dst is modified in place and returned.
func Blend(dst []byte, dstW, dstH int, src *rawimage.Image, offX, offY int) []byte {
	if src == nil {
		return dst
	}

	// Clip the source rectangle to the destination once instead of per pixel.
	sx0 := max(0, -offX)
	sx1 := min(src.Width, dstW-offX)
	sy0 := max(0, -offY)
	sy1 := min(src.Height, dstH-offY)
	if sx0 >= sx1 || sy0 >= sy1 {
		return dst
	}

	for sy := sy0; sy < sy1; sy++ {
		si := (sy*src.Width + sx0) * 4
		di := ((sy+offY)*dstW + sx0 + offX) * 4

		for sx := sx0; sx < sx1; sx++ {
			Pixel(dst[di:di+4:di+4], src.Pix[si:si+4:si+4])
			si += 4
			di += 4
		}
	}

	return dst
}

// Pixel merges one source RGBA pixel into one destination RGBA pixel.
func Pixel(d, s []byte) {
	a := s[3]

	switch {
	case a == 255:
		d[0] = s[0]
		d[1] = s[1]
		d[2] = s[2]
	case a > 0:
		k := float64(a) / 255
		d[0] = mix(s[0], d[0], k)
		d[1] = mix(s[1], d[1], k)
		d[2] = mix(s[2], d[2], k)
	default:
		d[0] = addSat(d[0], s[0])
		d[1] = addSat(d[1], s[1])
		d[2] = addSat(d[2], s[2])
	}

	d[3] = addSat(d[3], a)
}

// DrawEach applies ops in order to a tile buffer whose top-left corner sits at
// (left, top) in target space. Ops whose image is not in the store are skipped.
func DrawEach(ops []types.ComposeOp, store *rawimage.Store, dst []byte, dstW, dstH, left, top int) []byte {
	for _, op := range ops {
		img, ok := store.Get(op.Image)
		if !ok {
			continue
		}
		dst = Blend(dst, dstW, dstH, img, op.X-left, op.Y-top)
	}
	return dst
}

// mix stores like a clamped byte array: rounded half to even.
func mix(src, dst byte, k float64) byte {
	v := math.RoundToEven(float64(src)*k + float64(dst)*(1-k))
	if v > 255 {
		return 255
	}
	return byte(v)
}

func addSat(a, b byte) byte {
	if s := int(a) + int(b); s < 255 {
		return byte(s)
	}
	return 255
}
