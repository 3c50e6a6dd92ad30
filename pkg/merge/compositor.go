package merge

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// cropRectPixels maps a normalized crop rect onto pixel bounds.
func cropRectPixels(crop CropRect, b image.Rectangle) image.Rectangle {
	w, h := float64(b.Dx()), float64(b.Dy())
	x0 := b.Min.X + int(math.Round(crop.X*w))
	y0 := b.Min.Y + int(math.Round(crop.Y*h))
	x1 := x0 + max(1, int(math.Round(crop.Width*w)))
	y1 := y0 + max(1, int(math.Round(crop.Height*h)))
	return image.Rect(x0, y0, min(x1, b.Max.X), min(y1, b.Max.Y))
}

// ExtractCrop cuts the normalized crop rectangle out of a rendered
// raster. Used on the PDF path, where the full page is rendered first
// and the crop is extracted from the viewport raster.
func ExtractCrop(img image.Image, crop *CropRect) image.Image {
	if crop == nil {
		return img
	}
	return imaging.Crop(img, cropRectPixels(*crop, img.Bounds()))
}

// rotateCW rotates a raster clockwise by a quarter-turn multiple.
// imaging's Rotate functions turn counter-clockwise, so 90 and 270 swap.
func rotateCW(img image.Image, deg int) *image.NRGBA {
	switch deg {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// flattenWhite composites a raster over an opaque white background.
// A renderer left with a transparent or default background can emit
// solid black pages on some backends, so every composed raster gets an
// explicit white fill before encoding.
func flattenWhite(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// ComposeImage applies an image source's edits: crop first, then
// rotation (90/270 swap the final width and height), then a mandatory
// white background fill.
func ComposeImage(src image.Image, edit *ImageEdit) *image.NRGBA {
	img := src
	if edit != nil && edit.Crop != nil {
		img = imaging.Crop(img, cropRectPixels(*edit.Crop, img.Bounds()))
	}
	var out *image.NRGBA
	if edit != nil && edit.Rotation != 0 {
		out = rotateCW(img, edit.Rotation)
	} else {
		out = imaging.Clone(img)
	}
	return flattenWhite(out)
}

// ComposedGeometry returns the pixel dimensions an image source will
// have after its edits, before any resampling.
func ComposedGeometry(srcW, srcH int, edit *ImageEdit) (w, h int) {
	w, h = srcW, srcH
	if edit != nil && edit.Crop != nil {
		w = max(1, int(math.Round(edit.Crop.Width*float64(srcW))))
		h = max(1, int(math.Round(edit.Crop.Height*float64(srcH))))
	}
	if edit != nil && (edit.Rotation == 90 || edit.Rotation == 270) {
		w, h = h, w
	}
	return w, h
}

// PageViewport returns the pixel viewport for rasterizing a PDF page of
// the given size in points, honoring the tier's DPI scale and the
// page's rotation (90/270 swap the viewport axes). Pixel dims are
// point dims multiplied by the DPI scale over the 72 dpi baseline.
func PageViewport(widthPt, heightPt float64, dpiScale float64, rotation int) (w, h int) {
	w = max(1, int(math.Round(widthPt*dpiScale)))
	h = max(1, int(math.Round(heightPt*dpiScale)))
	if rotation == 90 || rotation == 270 {
		w, h = h, w
	}
	return w, h
}

// CroppedPageDims returns the output page dimensions in points for a
// rasterized PDF page: the rotated page dims scaled by the crop
// fraction, or the full dims when uncropped.
func CroppedPageDims(widthPt, heightPt float64, rotation int, crop *CropRect) (w, h float64) {
	w, h = widthPt, heightPt
	if rotation == 90 || rotation == 270 {
		w, h = h, w
	}
	if crop != nil {
		w *= crop.Width
		h *= crop.Height
	}
	return w, h
}
