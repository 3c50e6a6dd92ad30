package merge

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// pdfPageSource adapts one PDF page plus its edits to the Renderable
// interface. The full page is rendered at the effective viewport and
// the crop, if any, is extracted from that raster.
type pdfPageSource struct {
	doc      PDFDocument
	page     int
	widthPt  float64
	heightPt float64
	edit     PageEdit
	dpiScale float64
}

func (p *pdfPageSource) Geometry() Geometry {
	w, h := PageViewport(p.widthPt, p.heightPt, p.dpiScale, p.edit.RotationDelta)
	return Geometry{Width: w, Height: h, Rotation: p.edit.RotationDelta}
}

func (p *pdfPageSource) Render(ctx context.Context, width, height int, withRotation bool) (image.Image, error) {
	rotation := p.edit.RotationDelta
	if !withRotation {
		rotation = 0
	}
	raster, err := p.doc.RenderPage(ctx, p.page, width, height, rotation)
	if err != nil {
		return nil, err
	}
	return ExtractCrop(raster, p.edit.Crop), nil
}

// pageDims returns the output page size in points for this page's
// rendered raster.
func (p *pdfPageSource) pageDims(rotationSkipped bool) (w, h float64) {
	rotation := p.edit.RotationDelta
	if rotationSkipped {
		rotation = 0
	}
	return CroppedPageDims(p.widthPt, p.heightPt, rotation, p.edit.Crop)
}

// imageSource adapts a decoded image plus its edits to the Renderable
// interface. Composition applies crop before rotation and flattens onto
// a white background; the tier's resample ratio shrinks the target
// geometry before the renderer's own safety scaling.
type imageSource struct {
	decoded       image.Image
	edit          *ImageEdit
	resampleRatio float64
}

func (s *imageSource) Geometry() Geometry {
	b := s.decoded.Bounds()
	w, h := ComposedGeometry(b.Dx(), b.Dy(), s.edit)
	ratio := s.resampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	rotation := 0
	if s.edit != nil {
		rotation = s.edit.Rotation
	}
	return Geometry{
		Width:    max(1, int(math.Round(float64(w)*ratio))),
		Height:   max(1, int(math.Round(float64(h)*ratio))),
		Rotation: rotation,
	}
}

func (s *imageSource) Render(_ context.Context, width, height int, withRotation bool) (image.Image, error) {
	edit := s.edit
	if !withRotation && edit != nil {
		unrotated := *edit
		unrotated.Rotation = 0
		edit = &unrotated
	}
	img := ComposeImage(s.decoded, edit)

	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img, nil
	}
	// Fit the composed raster into the requested target, preserving
	// aspect ratio; retries and resampling shrink through here.
	scale := math.Min(float64(width)/float64(b.Dx()), float64(height)/float64(b.Dy()))
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}
