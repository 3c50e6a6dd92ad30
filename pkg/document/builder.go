package document

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/DeepLajpal/docmerge/pkg/merge"
)

// imagePageScale leaves margins around an image placed on a fixed-size
// output page; relative scaling preserves the aspect ratio.
const imagePageScale = 0.85

// Builder implements merge.Builder on pdfcpu. Appended pages are
// collected as in-memory single-unit PDFs and merged once at finalize.
type Builder struct {
	units []io.ReadSeeker
}

// NewBuilder creates an empty output builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// NewBuilderFactory returns a merge.BuilderFactory producing pdfcpu
// builders, one per run.
func NewBuilderFactory() merge.BuilderFactory {
	return func() merge.Builder { return NewBuilder() }
}

// AppendPDFPages copies the given pages losslessly out of the source,
// one trim per page so a custom sequence is preserved.
func (b *Builder) AppendPDFPages(data []byte, password string, pages []int) error {
	for _, page := range pages {
		var buf bytes.Buffer
		sel := []string{strconv.Itoa(page)}
		if err := api.Trim(bytes.NewReader(data), &buf, sel, relaxedConf(password)); err != nil {
			return fmt.Errorf("extract page %d: %w", page, err)
		}
		b.units = append(b.units, bytes.NewReader(buf.Bytes()))
	}
	return nil
}

// AppendRasterPage appends a page sized exactly to the raster's
// dimensions in points, with the raster filling the page.
func (b *Builder) AppendRasterPage(encoded []byte, widthPt, heightPt float64) error {
	desc := fmt.Sprintf("dim:%.2f %.2f, pos:full", widthPt, heightPt)
	return b.importImage(encoded, desc)
}

// AppendImagePage appends a page of the configured output size with
// the image centered and aspect-preserved, leaving margins.
func (b *Builder) AppendImagePage(encoded []byte, spec merge.OutputSpec) error {
	w, h, err := spec.Dimensions()
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("dim:%.2f %.2f, pos:c, sc:%.2f rel", w, h, imagePageScale)
	return b.importImage(encoded, desc)
}

func (b *Builder) importImage(encoded []byte, desc string) error {
	imp, err := api.Import(desc, types.POINTS)
	if err != nil {
		return fmt.Errorf("import config %q: %w", desc, err)
	}
	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, []io.Reader{bytes.NewReader(encoded)}, imp, relaxedConf("")); err != nil {
		return fmt.Errorf("import image: %w", err)
	}
	b.units = append(b.units, bytes.NewReader(buf.Bytes()))
	return nil
}

// Finalize merges all collected units in order and runs pdfcpu's
// optimize pass, which eliminates duplicate objects and compresses
// streams without additional quality loss.
func (b *Builder) Finalize() ([]byte, int, error) {
	if len(b.units) == 0 {
		return nil, 0, fmt.Errorf("no pages to assemble")
	}

	conf := relaxedConf("")
	var merged bytes.Buffer
	if err := api.MergeRaw(b.units, &merged, false, conf); err != nil {
		return nil, 0, fmt.Errorf("merge page units: %w", err)
	}

	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(merged.Bytes()), &out, relaxedConf("")); err != nil {
		return nil, 0, fmt.Errorf("optimize output: %w", err)
	}

	pageCount, err := api.PageCount(bytes.NewReader(out.Bytes()), relaxedConf(""))
	if err != nil {
		return nil, 0, fmt.Errorf("count output pages: %w", err)
	}
	return out.Bytes(), pageCount, nil
}
