package merge

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/DeepLajpal/docmerge/pkg/errors"
)

// fakeDoc is a scripted PDFDocument.
type fakeDoc struct {
	pages       int
	widthPt     float64
	heightPt    float64
	renderCalls int
	failRenders bool
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) PageDimensions(page int) (float64, float64, error) {
	if page < 1 || page > d.pages {
		return 0, 0, fmt.Errorf("page %d out of range", page)
	}
	return d.widthPt, d.heightPt, nil
}

func (d *fakeDoc) RenderPage(_ context.Context, page, w, h, _ int) (image.Image, error) {
	d.renderCalls++
	if d.failRenders {
		return nil, fmt.Errorf("backend failure on page %d", page)
	}
	return gradientImage(w, h), nil
}

func (d *fakeDoc) Close() error { return nil }

// fakeOpener returns a preconfigured fakeDoc, or a scripted error.
type fakeOpener struct {
	doc *fakeDoc
	err error
}

func (o *fakeOpener) Open(_ context.Context, _ []byte, _ string) (PDFDocument, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

// builderOp records one append call on the fake builder.
type builderOp struct {
	kind    string // "copy", "raster", "image"
	pages   []int
	widthPt float64
	embed   []byte
}

// fakeBuilder records appended pages and counts them for Finalize.
type fakeBuilder struct {
	ops        []builderOp
	failEmbeds bool
}

func (b *fakeBuilder) AppendPDFPages(_ []byte, _ string, pages []int) error {
	if b.failEmbeds {
		return fmt.Errorf("malformed source")
	}
	b.ops = append(b.ops, builderOp{kind: "copy", pages: append([]int(nil), pages...)})
	return nil
}

func (b *fakeBuilder) AppendRasterPage(encoded []byte, widthPt, _ float64) error {
	b.ops = append(b.ops, builderOp{kind: "raster", widthPt: widthPt, embed: encoded})
	return nil
}

func (b *fakeBuilder) AppendImagePage(encoded []byte, _ OutputSpec) error {
	if b.failEmbeds {
		return fmt.Errorf("malformed source")
	}
	b.ops = append(b.ops, builderOp{kind: "image", embed: encoded})
	return nil
}

func (b *fakeBuilder) Finalize() ([]byte, int, error) {
	pages := 0
	for _, op := range b.ops {
		if op.kind == "copy" {
			pages += len(op.pages)
		} else {
			pages++
		}
	}
	return []byte("%PDF-fake"), pages, nil
}

func newTestMerger(opener PDFOpener, builder *fakeBuilder) *Merger {
	return NewMerger(opener, func() Builder { return builder }, nil)
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestMergeDeletionPreservesOrder(t *testing.T) {
	opener := &fakeOpener{doc: &fakeDoc{pages: 3, widthPt: 595.28, heightPt: 841.89}}
	builder := &fakeBuilder{}
	m := newTestMerger(opener, builder)

	req := Request{
		Tier: TierHigh,
		Sources: []Source{{
			ID:        "doc",
			Kind:      KindPDF,
			Bytes:     []byte("%PDF-stub"),
			PageEdits: map[int]PageEdit{2: {Deleted: true}},
		}},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.PageCount != 2 {
		t.Errorf("PageCount = %d, want 2", res.PageCount)
	}

	var copied []int
	for _, op := range builder.ops {
		if op.kind != "copy" {
			t.Errorf("unexpected op kind %q", op.kind)
		}
		copied = append(copied, op.pages...)
	}
	if len(copied) != 2 || copied[0] != 1 || copied[1] != 3 {
		t.Errorf("copied pages = %v, want [1 3]", copied)
	}
}

func TestMergeLosslessFastPathSkipsRasterization(t *testing.T) {
	doc := &fakeDoc{pages: 5, widthPt: 612, heightPt: 792}
	builder := &fakeBuilder{}
	m := newTestMerger(&fakeOpener{doc: doc}, builder)

	req := Request{
		Tier:    TierHigh,
		Sources: []Source{{ID: "clean", Kind: KindPDF, Bytes: []byte("%PDF-stub")}},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if doc.renderCalls != 0 {
		t.Errorf("renderCalls = %d, want 0 (direct copy must bypass the renderer)", doc.renderCalls)
	}
	if res.Diagnostics.QualityReduced {
		t.Error("direct copy must not flag quality reduction")
	}
	if res.PageCount != 5 {
		t.Errorf("PageCount = %d, want 5", res.PageCount)
	}
}

func TestMergeBelowHighTierForcesRasterization(t *testing.T) {
	doc := &fakeDoc{pages: 2, widthPt: 595.28, heightPt: 841.89}
	builder := &fakeBuilder{}
	m := newTestMerger(&fakeOpener{doc: doc}, builder)

	req := Request{
		Tier:    TierSmall,
		Sources: []Source{{ID: "doc", Kind: KindPDF, Bytes: []byte("%PDF-stub")}},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if doc.renderCalls == 0 {
		t.Error("below-High tiers must rasterize every page")
	}
	if !res.Diagnostics.QualityReduced {
		t.Error("rasterized PDF pages count as quality-reduced")
	}
	if got := res.Diagnostics.ReducedFiles; len(got) != 1 || got[0] != "doc" {
		t.Errorf("ReducedFiles = %v, want [doc]", got)
	}
}

func TestMergeCustomPageOrder(t *testing.T) {
	opener := &fakeOpener{doc: &fakeDoc{pages: 3, widthPt: 595.28, heightPt: 841.89}}
	builder := &fakeBuilder{}
	m := newTestMerger(opener, builder)

	req := Request{
		Tier: TierHigh,
		Sources: []Source{{
			ID:        "doc",
			Kind:      KindPDF,
			Bytes:     []byte("%PDF-stub"),
			PageOrder: []int{3, 1, 2},
		}},
	}

	if _, err := m.Merge(context.Background(), req); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	var copied []int
	for _, op := range builder.ops {
		copied = append(copied, op.pages...)
	}
	want := []int{3, 1, 2}
	for i, p := range want {
		if copied[i] != p {
			t.Fatalf("copied pages = %v, want %v", copied, want)
		}
	}
}

func TestMergePageOrderOutOfRange(t *testing.T) {
	opener := &fakeOpener{doc: &fakeDoc{pages: 2, widthPt: 612, heightPt: 792}}
	m := newTestMerger(opener, &fakeBuilder{})

	req := Request{
		Tier: TierHigh,
		Sources: []Source{{
			ID:        "doc",
			Kind:      KindPDF,
			Bytes:     []byte("%PDF-stub"),
			PageOrder: []int{1, 7},
		}},
	}

	_, err := m.Merge(context.Background(), req)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestMergeSourcesSortedByOrderField(t *testing.T) {
	img := encodePNG(t, gradientImage(400, 300))
	builder := &fakeBuilder{}
	m := newTestMerger(&fakeOpener{doc: &fakeDoc{pages: 1, widthPt: 612, heightPt: 792}}, builder)

	req := Request{
		Tier: TierHigh,
		Sources: []Source{
			{ID: "second", Kind: KindImage, Bytes: img, Order: 2},
			{ID: "first", Kind: KindPDF, Bytes: []byte("%PDF-stub"), Order: 1},
		},
	}

	if _, err := m.Merge(context.Background(), req); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(builder.ops) != 2 || builder.ops[0].kind != "copy" || builder.ops[1].kind != "image" {
		t.Errorf("ops out of order: %+v", builder.ops)
	}
}

func TestMergePasswordErrorsIdentifySource(t *testing.T) {
	opener := &fakeOpener{err: errors.New(errors.ErrCodePasswordRequired, "document is encrypted")}
	m := newTestMerger(opener, &fakeBuilder{})

	req := Request{
		Tier:    TierHigh,
		Sources: []Source{{ID: "locked.pdf", Kind: KindPDF, Bytes: []byte("%PDF-stub")}},
	}

	_, err := m.Merge(context.Background(), req)
	if !errors.Is(err, errors.ErrCodePasswordRequired) {
		t.Fatalf("err = %v, want PASSWORD_REQUIRED", err)
	}
	if got := errors.GetSource(err); got != "locked.pdf" {
		t.Errorf("source = %q, want locked.pdf", got)
	}
}

func TestMergeRenderExhaustionFallsBackToDirectEmbed(t *testing.T) {
	doc := &fakeDoc{pages: 1, widthPt: 595.28, heightPt: 841.89, failRenders: true}
	builder := &fakeBuilder{}
	m := newTestMerger(&fakeOpener{doc: doc}, builder)

	req := Request{
		Tier:    TierBalanced,
		Sources: []Source{{ID: "stubborn.pdf", Kind: KindPDF, Bytes: []byte("%PDF-stub")}},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge should degrade, not fail: %v", err)
	}
	if !res.Diagnostics.UsedDirectEmbed {
		t.Fatal("UsedDirectEmbed should be set")
	}
	if got := res.Diagnostics.DirectEmbedFiles; len(got) != 1 || got[0] != "stubborn.pdf" {
		t.Errorf("DirectEmbedFiles = %v, want [stubborn.pdf]", got)
	}
	if len(builder.ops) != 1 || builder.ops[0].kind != "copy" {
		t.Errorf("expected a verbatim page copy, got %+v", builder.ops)
	}
}

func TestMergeEmbedFailureAbortsRun(t *testing.T) {
	img := []byte("not an image at all")
	builder := &fakeBuilder{failEmbeds: true}
	m := newTestMerger(&fakeOpener{}, builder)

	req := Request{
		Tier:    TierHigh,
		Sources: []Source{{ID: "junk.bin", Kind: KindImage, Bytes: img}},
	}

	_, err := m.Merge(context.Background(), req)
	if !errors.Is(err, errors.ErrCodeEmbedFailed) {
		t.Fatalf("err = %v, want EMBED_FAILED", err)
	}
	if got := errors.GetSource(err); got != "junk.bin" {
		t.Errorf("source = %q, want junk.bin", got)
	}
}

func TestMergeSkipUnembeddablePolicy(t *testing.T) {
	goodImg := encodePNG(t, gradientImage(640, 480))

	// The builder rejects raw undecodable bytes (the direct-embed path
	// for the first source) but accepts renderer-encoded buffers.
	builder := &selectiveBuilder{failRaw: true}
	m := NewMerger(&fakeOpener{}, func() Builder { return builder }, nil)
	m.SkipUnembeddable = true

	req := Request{
		Tier: TierBalanced,
		Sources: []Source{
			{ID: "junk.bin", Kind: KindImage, Bytes: []byte("garbage"), Order: 1},
			{ID: "photo.png", Kind: KindImage, Bytes: goodImg, Order: 2},
		},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge with skip policy: %v", err)
	}
	if got := res.Diagnostics.SkippedFiles; len(got) != 1 || got[0] != "junk.bin" {
		t.Errorf("SkippedFiles = %v, want [junk.bin]", got)
	}
	if res.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", res.PageCount)
	}
}

func TestMergeSkipPolicyPartialSourceAborts(t *testing.T) {
	goodImg := encodePNG(t, gradientImage(640, 480))

	// Page 1 of the PDF copies fine, page 2 is rejected. The source
	// must not be skipped at that point: its first page is already in
	// the builder and cannot be taken back.
	builder := &pageFailBuilder{failOnCopy: 2}
	opener := &fakeOpener{doc: &fakeDoc{pages: 3, widthPt: 612, heightPt: 792}}
	m := NewMerger(opener, func() Builder { return builder }, nil)
	m.SkipUnembeddable = true

	req := Request{
		Tier: TierHigh,
		Sources: []Source{
			{ID: "broken.pdf", Kind: KindPDF, Bytes: []byte("%PDF-stub"), Order: 1},
			{ID: "photo.png", Kind: KindImage, Bytes: goodImg, Order: 2},
		},
	}

	_, err := m.Merge(context.Background(), req)
	if !errors.Is(err, errors.ErrCodeEmbedFailed) {
		t.Fatalf("err = %v, want EMBED_FAILED after a mid-source page failure", err)
	}
	if got := errors.GetSource(err); got != "broken.pdf" {
		t.Errorf("source = %q, want broken.pdf", got)
	}
}

func TestMergeSkipPolicyWholeSourceSkips(t *testing.T) {
	goodImg := encodePNG(t, gradientImage(640, 480))

	// The very first page copy fails, so the PDF contributed nothing
	// and the skip policy applies cleanly.
	builder := &pageFailBuilder{failOnCopy: 1}
	opener := &fakeOpener{doc: &fakeDoc{pages: 3, widthPt: 612, heightPt: 792}}
	m := NewMerger(opener, func() Builder { return builder }, nil)
	m.SkipUnembeddable = true

	req := Request{
		Tier: TierHigh,
		Sources: []Source{
			{ID: "broken.pdf", Kind: KindPDF, Bytes: []byte("%PDF-stub"), Order: 1},
			{ID: "photo.png", Kind: KindImage, Bytes: goodImg, Order: 2},
		},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge with skip policy: %v", err)
	}
	if got := res.Diagnostics.SkippedFiles; len(got) != 1 || got[0] != "broken.pdf" {
		t.Errorf("SkippedFiles = %v, want [broken.pdf]", got)
	}
	if res.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", res.PageCount)
	}
	for _, op := range builder.ops {
		if op.kind == "copy" {
			t.Errorf("skipped source left a %s op in the builder", op.kind)
		}
	}
}

// pageFailBuilder fails the nth page-copy call, counting from 1.
type pageFailBuilder struct {
	fakeBuilder
	copyCalls  int
	failOnCopy int
}

func (b *pageFailBuilder) AppendPDFPages(data []byte, password string, pages []int) error {
	b.copyCalls++
	if b.copyCalls == b.failOnCopy {
		return fmt.Errorf("page copy rejected")
	}
	return b.fakeBuilder.AppendPDFPages(data, password, pages)
}

// selectiveBuilder rejects direct embeds of undecodable raw bytes but
// accepts renderer-encoded buffers.
type selectiveBuilder struct {
	fakeBuilder
	failRaw bool
}

func (b *selectiveBuilder) AppendImagePage(encoded []byte, spec OutputSpec) error {
	if b.failRaw && !ValidEncoded(encoded) {
		return fmt.Errorf("unsupported image data")
	}
	return b.fakeBuilder.AppendImagePage(encoded, spec)
}

func TestMergeAllPagesDeleted(t *testing.T) {
	opener := &fakeOpener{doc: &fakeDoc{pages: 1, widthPt: 612, heightPt: 792}}
	m := newTestMerger(opener, &fakeBuilder{})

	req := Request{
		Tier: TierHigh,
		Sources: []Source{{
			ID:        "doc",
			Kind:      KindPDF,
			Bytes:     []byte("%PDF-stub"),
			PageEdits: map[int]PageEdit{1: {Deleted: true}},
		}},
	}

	_, err := m.Merge(context.Background(), req)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestMergeDeadlineExceededBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	m := newTestMerger(&fakeOpener{doc: &fakeDoc{pages: 1, widthPt: 612, heightPt: 792}}, &fakeBuilder{})
	req := Request{
		Tier:    TierHigh,
		Sources: []Source{{ID: "doc", Kind: KindPDF, Bytes: []byte("%PDF-stub")}},
	}

	_, err := m.Merge(ctx, req)
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Errorf("err = %v, want TIMEOUT", err)
	}
}

func TestMergeEndToEndScenario(t *testing.T) {
	// Merge [PDF(3 pages, page 2 deleted, page 1 rotated 90°),
	// image (landscape, cropped to center 60%)] at Balanced/A4 portrait:
	// exactly 3 output pages, quality reduced for both sources.
	doc := &fakeDoc{pages: 3, widthPt: 595.28, heightPt: 841.89}
	builder := &fakeBuilder{}
	m := newTestMerger(&fakeOpener{doc: doc}, builder)

	img := encodePNG(t, gradientImage(1200, 800))

	req := Request{
		Tier:   TierBalanced,
		Output: OutputSpec{PageSize: PageA4, Orientation: Portrait, Filename: "merged.pdf"},
		Sources: []Source{
			{
				ID:    "report.pdf",
				Kind:  KindPDF,
				Bytes: []byte("%PDF-stub"),
				Order: 1,
				PageEdits: map[int]PageEdit{
					1: {RotationDelta: 90},
					2: {Deleted: true},
				},
			},
			{
				ID:    "scan.png",
				Kind:  KindImage,
				Bytes: img,
				Order: 2,
				ImageEdit: &ImageEdit{
					Crop: &CropRect{X: 0.2, Y: 0.2, Width: 0.6, Height: 0.6},
				},
			},
		},
	}

	res, err := m.Merge(context.Background(), req)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if res.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3 (2 PDF pages + 1 image)", res.PageCount)
	}
	if !res.Diagnostics.QualityReduced {
		t.Error("QualityReduced should be true (edits forced rasterization)")
	}
	wantReduced := map[string]bool{"report.pdf": true, "scan.png": true}
	for _, name := range res.Diagnostics.ReducedFiles {
		delete(wantReduced, name)
	}
	if len(wantReduced) != 0 {
		t.Errorf("ReducedFiles = %v, missing %v", res.Diagnostics.ReducedFiles, wantReduced)
	}
	if res.Diagnostics.UsedDirectEmbed {
		t.Error("no direct embeds expected in this scenario")
	}
	if res.SizeBytes != int64(len(res.Bytes)) {
		t.Errorf("SizeBytes = %d, want %d", res.SizeBytes, len(res.Bytes))
	}
}
