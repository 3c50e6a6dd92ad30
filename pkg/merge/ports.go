package merge

import (
	"context"
	"image"
)

// PDFDocument is an opened PDF source, already decrypted if it carried
// a password. Implementations wrap the PDF codec and raster backend.
type PDFDocument interface {
	// PageCount returns the number of pages.
	PageCount() int

	// PageDimensions returns the size of a 1-based page in points.
	PageDimensions(page int) (width, height float64, err error)

	// RenderPage rasterizes a 1-based page into a raster of the given
	// pixel dimensions. rotation is clockwise degrees applied as a
	// viewport parameter; width and height refer to the rotated
	// orientation.
	RenderPage(ctx context.Context, page int, width, height, rotation int) (image.Image, error)

	// Close releases backend resources.
	Close() error
}

// PDFOpener loads PDF sources. Open must fail with a
// PASSWORD_REQUIRED or PASSWORD_INVALID coded error when the document
// is encrypted and the password is missing or wrong.
type PDFOpener interface {
	Open(ctx context.Context, data []byte, password string) (PDFDocument, error)
}

// Builder assembles the output document. Implementations wrap the PDF
// codec's writer; the merge orchestrator appends pages strictly in
// output order and finalizes once.
type Builder interface {
	// AppendPDFPages copies the given 1-based pages of a source PDF
	// verbatim, losslessly, in the given sequence. password decrypts
	// the source if needed. This is both the direct-copy fast path and
	// the direct-embed fallback for PDF pages.
	AppendPDFPages(data []byte, password string, pages []int) error

	// AppendRasterPage appends one page sized to widthPt×heightPt with
	// the encoded raster drawn at the origin filling the page.
	AppendRasterPage(encoded []byte, widthPt, heightPt float64) error

	// AppendImagePage appends one page of the configured output size
	// with the encoded image placed centered and aspect-preserving,
	// with margins. Also serves the image direct-embed fallback, in
	// which case encoded holds the original undecoded source bytes.
	AppendImagePage(encoded []byte, spec OutputSpec) error

	// Finalize produces the output document bytes and its page count.
	// Duplicate-object elimination and stream compression are applied
	// here, independent of the per-page compression tier.
	Finalize() (data []byte, pageCount int, err error)
}

// BuilderFactory creates a fresh Builder per merge run.
type BuilderFactory func() Builder
