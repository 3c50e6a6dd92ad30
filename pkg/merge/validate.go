package merge

import (
	"bytes"
	"image"
)

// minEncodedBytes is the smallest plausible size for a real encoded
// page. Backends that fail under memory pressure often "succeed" with a
// header-only or near-empty buffer; anything this short is rejected.
const minEncodedBytes = 1000

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
)

// ValidEncoded reports whether an encoded raster buffer looks usable:
// non-empty, carrying a known image header, and above the minimum
// plausible byte length.
func ValidEncoded(buf []byte) bool {
	if len(buf) < minEncodedBytes {
		return false
	}
	return bytes.HasPrefix(buf, jpegMagic) || bytes.HasPrefix(buf, pngMagic)
}

// rasterSamplePoints returns the probe coordinates for content
// validation: the four corners plus the center.
func rasterSamplePoints(b image.Rectangle) [5]image.Point {
	return [5]image.Point{
		{b.Min.X, b.Min.Y},
		{b.Max.X - 1, b.Min.Y},
		{b.Min.X, b.Max.Y - 1},
		{b.Max.X - 1, b.Max.Y - 1},
		{(b.Min.X + b.Max.X) / 2, (b.Min.Y + b.Max.Y) / 2},
	}
}

// ValidRaster reports whether a raster buffer contains real pixel
// content. Some backends return a syntactically valid buffer that was
// never drawn into; such buffers are uniformly zero (transparent black).
// A uniform sample is only rejected when the value is degenerate, so
// legitimately blank white pages still pass.
func ValidRaster(img image.Image) bool {
	if img == nil {
		return false
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return false
	}

	pts := rasterSamplePoints(b)
	r0, g0, b0, a0 := img.At(pts[0].X, pts[0].Y).RGBA()
	for _, p := range pts[1:] {
		r, g, bl, a := img.At(p.X, p.Y).RGBA()
		if r != r0 || g != g0 || bl != b0 || a != a0 {
			return true // non-uniform content
		}
	}

	// Uniform sample: reject only the never-drawn values.
	degenerate := a0 == 0 || (r0 == 0 && g0 == 0 && b0 == 0)
	return !degenerate
}
