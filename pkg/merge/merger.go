package merge

import (
	"bytes"
	"context"
	stderrors "errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"

	"github.com/DeepLajpal/docmerge/pkg/errors"
	"github.com/DeepLajpal/docmerge/pkg/observability"
)

// Merger drives the merge pipeline over an ordered source list. It is
// stateless between runs except for its collaborators, so one Merger
// can serve many sequential Merge calls.
//
// Sources and pages are processed strictly sequentially: each render
// attempt allocates a potentially large pixel buffer, and concurrent
// renders on constrained hosts provoke the exact backend failures the
// retry logic exists to work around.
type Merger struct {
	Opener     PDFOpener
	NewBuilder BuilderFactory
	Renderer   *SafeRenderer
	Logger     *log.Logger

	// SkipUnembeddable skips a source whose direct-embed fallback is
	// rejected and reports it in diagnostics, instead of aborting the
	// whole run. Only a source with no pages appended yet can be
	// skipped; a failure after some of its pages are already in the
	// output aborts regardless. Defaults to false (abort on first
	// embed failure).
	SkipUnembeddable bool
}

// NewMerger creates a merger with the given collaborators. A nil logger
// falls back to the default logger.
func NewMerger(opener PDFOpener, newBuilder BuilderFactory, logger *log.Logger) *Merger {
	if logger == nil {
		logger = log.Default()
	}
	return &Merger{
		Opener:     opener,
		NewBuilder: newBuilder,
		Renderer:   NewSafeRenderer(logger),
		Logger:     logger,
	}
}

// Merge runs the full pipeline: validate the request, process each
// source in order, and finalize the output document. Diagnostics are
// always populated on success; the error return is reserved for the
// fatal taxonomy (invalid input, password failures, embed failures,
// timeout/cancel).
func (m *Merger) Merge(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	observability.Merge().OnMergeStart(ctx, len(req.Sources))
	result, err := m.merge(ctx, req)
	pages := 0
	if result != nil {
		pages = result.PageCount
	}
	observability.Merge().OnMergeComplete(ctx, len(req.Sources), pages, time.Since(start), err)
	return result, err
}

func (m *Merger) merge(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tier := req.Tier
	if tier == "" {
		tier = DefaultTier
	}

	builder := m.NewBuilder()
	var diags Diagnostics
	appended := 0

	for _, src := range req.orderedSources() {
		if err := ctx.Err(); err != nil {
			return nil, mapContextErr(err)
		}

		var (
			n   int
			err error
		)
		switch src.Kind {
		case KindPDF:
			n, err = m.mergePDF(ctx, src, tier, builder, &diags)
		case KindImage:
			n, err = m.mergeImage(ctx, src, tier, req.Output, builder, &diags)
		}
		if err != nil {
			// Skipping is only sound while the source has contributed
			// nothing yet. Once pages are in the builder there is no way
			// to take them back, and an output containing pages of a
			// file reported as skipped would be worse than failing.
			if m.SkipUnembeddable && errors.Is(err, errors.ErrCodeEmbedFailed) && n == 0 {
				m.Logger.Warn("skipping unembeddable source", "source", src.DisplayName(), "error", err)
				diags.markSkipped(src.DisplayName())
				continue
			}
			return nil, err
		}
		appended += n

		m.Logger.Info("merged source",
			"source", src.DisplayName(),
			"kind", src.Kind,
			"pages", n)
	}

	if appended == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "no pages left to merge (all pages deleted or skipped)")
	}

	data, pageCount, err := builder.Finalize()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "finalize output document")
	}

	m.Logger.Info("merge complete",
		"pages", pageCount,
		"bytes", len(data),
		"quality_reduced", diags.QualityReduced,
		"direct_embed", diags.UsedDirectEmbed)

	return &Result{
		Bytes:       data,
		PageCount:   pageCount,
		SizeBytes:   int64(len(data)),
		Diagnostics: diags,
	}, nil
}

// mergePDF processes one PDF source and returns the number of pages
// appended. Eligible pages take the lossless direct-copy path; edited
// pages go through the safe renderer; exhausted renders fall back to
// verbatim page copies, which for a PDF page is the direct embed of the
// original undecoded bytes.
func (m *Merger) mergePDF(ctx context.Context, src *Source, tier Tier, builder Builder, diags *Diagnostics) (int, error) {
	name := src.DisplayName()

	doc, err := m.Opener.Open(ctx, src.Bytes, src.Password)
	if err != nil {
		if code := errors.GetCode(err); code == errors.ErrCodePasswordRequired || code == errors.ErrCodePasswordInvalid {
			var e *errors.Error
			if stderrors.As(err, &e) {
				return 0, e.WithSource(name)
			}
			return 0, err
		}
		return 0, errors.Wrap(errors.ErrCodeEmbedFailed, err, "source is not a readable PDF").WithSource(name)
	}
	defer doc.Close()

	pages, err := pageSequence(src, doc.PageCount())
	if err != nil {
		return 0, err
	}

	appended := 0
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return appended, mapContextErr(err)
		}

		edit := src.PageEdits[page]
		if edit.Deleted {
			continue
		}

		if DirectCopyEligible(tier, src.PageEdits, page) {
			if err := builder.AppendPDFPages(src.Bytes, src.Password, []int{page}); err != nil {
				return appended, errors.Wrap(errors.ErrCodeEmbedFailed, err, "copy page %d", page).WithSource(name)
			}
			appended++
			continue
		}

		widthPt, heightPt, err := doc.PageDimensions(page)
		if err != nil {
			return appended, errors.Wrap(errors.ErrCodeEmbedFailed, err, "read page %d dimensions", page).WithSource(name)
		}

		item := &pdfPageSource{
			doc:      doc,
			page:     page,
			widthPt:  widthPt,
			heightPt: heightPt,
			edit:     edit,
			dpiScale: tier.Params().DPIScale,
		}
		res, err := m.renderer().Render(ctx, item, tier)
		if err != nil {
			return appended, mapContextErr(err)
		}

		if res.DirectEmbed {
			// Bypass rasterization: copy the original page verbatim,
			// losing the page's edits but guaranteeing output.
			if err := builder.AppendPDFPages(src.Bytes, src.Password, []int{page}); err != nil {
				return appended, errors.Wrap(errors.ErrCodeEmbedFailed, err, "direct-embed page %d", page).WithSource(name)
			}
			diags.markDirectEmbed(name)
			appended++
			continue
		}

		pw, ph := item.pageDims(res.RotationSkipped)
		if err := builder.AppendRasterPage(res.Encoded, pw, ph); err != nil {
			return appended, errors.Wrap(errors.ErrCodeEmbedFailed, err, "append rasterized page %d", page).WithSource(name)
		}
		// Rasterizing a PDF page re-encodes its content, so any page on
		// this path counts as quality-reduced for the source file.
		diags.markReduced(name)
		appended++
	}
	return appended, nil
}

// mergeImage processes one image source and returns the number of
// pages appended (0 or 1). Undecodable images go straight to the
// direct-embed fallback; only a rejection of that fallback is an error.
func (m *Merger) mergeImage(ctx context.Context, src *Source, tier Tier, spec OutputSpec, builder Builder, diags *Diagnostics) (int, error) {
	name := src.DisplayName()

	decoded, err := imaging.Decode(bytes.NewReader(src.Bytes))
	if err != nil {
		m.Logger.Warn("image decode failed, embedding original bytes", "source", name, "error", err)
		if err := builder.AppendImagePage(src.Bytes, spec); err != nil {
			return 0, errors.Wrap(errors.ErrCodeEmbedFailed, err, "source is not a readable image").WithSource(name)
		}
		diags.markDirectEmbed(name)
		return 1, nil
	}

	item := &imageSource{
		decoded:       decoded,
		edit:          src.ImageEdit,
		resampleRatio: tier.Params().ResampleRatio,
	}
	res, err := m.renderer().Render(ctx, item, tier)
	if err != nil {
		return 0, mapContextErr(err)
	}

	if res.DirectEmbed {
		if err := builder.AppendImagePage(src.Bytes, spec); err != nil {
			return 0, errors.Wrap(errors.ErrCodeEmbedFailed, err, "direct-embed image").WithSource(name)
		}
		diags.markDirectEmbed(name)
		return 1, nil
	}

	if err := builder.AppendImagePage(res.Encoded, spec); err != nil {
		return 0, errors.Wrap(errors.ErrCodeEmbedFailed, err, "append image page").WithSource(name)
	}
	if res.QualityReduced || res.RotationSkipped || tier != TierHigh {
		diags.markReduced(name)
	}
	return 1, nil
}

func (m *Merger) renderer() *SafeRenderer {
	if m.Renderer != nil {
		return m.Renderer
	}
	return NewSafeRenderer(m.Logger)
}

// pageSequence resolves the page iteration order for a PDF source: the
// custom PageOrder when present, otherwise 1..pageCount.
func pageSequence(src *Source, pageCount int) ([]int, error) {
	if len(src.PageOrder) == 0 {
		pages := make([]int, pageCount)
		for i := range pages {
			pages[i] = i + 1
		}
		return pages, nil
	}
	for _, p := range src.PageOrder {
		if p < 1 || p > pageCount {
			return nil, errors.New(errors.ErrCodeInvalidInput, "page order entry %d out of range 1..%d", p, pageCount).WithSource(src.DisplayName())
		}
	}
	out := make([]int, len(src.PageOrder))
	copy(out, src.PageOrder)
	return out, nil
}

// mapContextErr translates context termination into the run-level
// error taxonomy. Partial output is never returned.
func mapContextErr(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.ErrCodeTimeout, err, "merge deadline exceeded")
	}
	return errors.Wrap(errors.ErrCodeCanceled, err, "merge canceled")
}
