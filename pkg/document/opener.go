package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/DeepLajpal/docmerge/pkg/errors"
	"github.com/DeepLajpal/docmerge/pkg/merge"
)

// Opener loads PDF sources for the merge pipeline.
type Opener struct {
	Logger *log.Logger
}

// NewOpener creates an opener. A nil logger falls back to the default.
func NewOpener(logger *log.Logger) *Opener {
	if logger == nil {
		logger = log.Default()
	}
	return &Opener{Logger: logger}
}

// relaxedConf returns a pdfcpu configuration suitable for real-world
// inputs, carrying the user password when one was supplied.
func relaxedConf(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	conf.UserPW = password
	return conf
}

// Open validates the document with pdfcpu, reads its page metadata, and
// prepares the raster backend. Encrypted sources are decrypted up front
// so the raster backend only ever sees plaintext bytes.
func (o *Opener) Open(_ context.Context, data []byte, password string) (merge.PDFDocument, error) {
	conf := relaxedConf(password)

	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, mapOpenErr(err, password)
	}
	if pageCount < 1 {
		return nil, fmt.Errorf("document has no pages")
	}

	dims, err := api.PageDims(bytes.NewReader(data), relaxedConf(password))
	if err != nil {
		return nil, mapOpenErr(err, password)
	}

	renderData := data
	if password != "" {
		var buf bytes.Buffer
		if err := api.Decrypt(bytes.NewReader(data), &buf, relaxedConf(password)); err != nil {
			return nil, mapOpenErr(err, password)
		}
		renderData = buf.Bytes()
	}

	// A raster backend that cannot open the document is not fatal: the
	// pipeline falls back to direct embedding when renders fail.
	fz, err := fitz.NewFromMemory(renderData)
	if err != nil {
		o.Logger.Warn("raster backend rejected document, renders will fall back", "error", err)
		fz = nil
	}

	return &pdfDocument{pageCount: pageCount, dims: dims, fz: fz}, nil
}

// mapOpenErr translates codec failures into the error taxonomy.
// pdfcpu reports password problems with varying messages, so matching
// is by substring rather than sentinel.
func mapOpenErr(err error, password string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "password") || strings.Contains(msg, "encrypt") {
		if password == "" {
			return errors.Wrap(errors.ErrCodePasswordRequired, err, "document is encrypted")
		}
		return errors.Wrap(errors.ErrCodePasswordInvalid, err, "wrong password")
	}
	return err
}

// pdfDocument implements merge.PDFDocument over pdfcpu metadata and a
// MuPDF raster handle.
type pdfDocument struct {
	pageCount int
	dims      []types.Dim
	fz        *fitz.Document
}

func (d *pdfDocument) PageCount() int { return d.pageCount }

func (d *pdfDocument) PageDimensions(page int) (float64, float64, error) {
	if page < 1 || page > len(d.dims) {
		return 0, 0, fmt.Errorf("page %d out of range 1..%d", page, len(d.dims))
	}
	dim := d.dims[page-1]
	return dim.Width, dim.Height, nil
}

// RenderPage rasterizes a page at the DPI matching the requested pixel
// dimensions, then applies the rotation as a raster transform. width
// and height refer to the rotated orientation.
func (d *pdfDocument) RenderPage(ctx context.Context, page, width, height, rotation int) (image.Image, error) {
	if d.fz == nil {
		return nil, fmt.Errorf("raster backend unavailable")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	widthPt, _, err := d.PageDimensions(page)
	if err != nil {
		return nil, err
	}

	unrotW := width
	if rotation == 90 || rotation == 270 {
		unrotW = height
	}
	dpi := 72 * float64(unrotW) / widthPt

	img, err := d.fz.ImageDPI(page-1, dpi)
	if err != nil {
		return nil, fmt.Errorf("render page %d at %.0f dpi: %w", page, dpi, err)
	}

	switch rotation {
	case 90:
		return imaging.Rotate270(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate90(img), nil
	}
	return img, nil
}

func (d *pdfDocument) Close() error {
	if d.fz == nil {
		return nil
	}
	return d.fz.Close()
}
