package merge

import (
	"sort"

	"github.com/DeepLajpal/docmerge/pkg/errors"
)

// Kind identifies the native format of a source document.
type Kind string

// Supported source kinds.
const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
)

// Valid reports whether the kind is one of the supported values.
func (k Kind) Valid() bool {
	return k == KindPDF || k == KindImage
}

// CropRect is a crop rectangle normalized to the source dimensions.
// All fields are fractions in [0,1]; X+Width and Y+Height must not
// exceed 1.
type CropRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks the crop invariants.
func (c CropRect) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.New(errors.ErrCodeInvalidCrop, "crop width and height must be positive, got %gx%g", c.Width, c.Height)
	}
	if c.X < 0 || c.Y < 0 || c.X+c.Width > 1 || c.Y+c.Height > 1 {
		return errors.New(errors.ErrCodeInvalidCrop, "crop rect {%g %g %g %g} exceeds unit bounds", c.X, c.Y, c.Width, c.Height)
	}
	return nil
}

// validRotation reports whether deg is a supported quarter rotation.
func validRotation(deg int) bool {
	switch deg {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// PageEdit describes the edits applied to a single PDF page.
// The zero value is the identity edit.
type PageEdit struct {
	RotationDelta int       `json:"rotation_delta,omitempty"` // clockwise degrees: 0, 90, 180, 270
	Crop          *CropRect `json:"crop,omitempty"`
	Deleted       bool      `json:"deleted,omitempty"`
}

// IsIdentity reports whether the edit changes nothing about the page.
func (e PageEdit) IsIdentity() bool {
	return e.RotationDelta == 0 && e.Crop == nil && !e.Deleted
}

// ImageEdit describes whole-image edits for an image source.
type ImageEdit struct {
	Rotation int       `json:"rotation,omitempty"` // clockwise degrees: 0, 90, 180, 270
	Crop     *CropRect `json:"crop,omitempty"`
}

// Source is one input document to a merge run. Sources are immutable
// once passed into the pipeline.
type Source struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"` // display name used in diagnostics; defaults to ID
	Kind     Kind   `json:"kind"`
	Bytes    []byte `json:"bytes"`
	Password string `json:"password,omitempty"`
	Order    int    `json:"order"`

	// PageEdits is a sparse map keyed by 1-based page number (PDF only).
	// A missing entry means the page is unedited.
	PageEdits map[int]PageEdit `json:"page_edits,omitempty"`

	// ImageEdit applies to the whole image (image sources only).
	ImageEdit *ImageEdit `json:"image_edit,omitempty"`

	// PageOrder is an optional custom page sequence (PDF only), 1-based.
	PageOrder []int `json:"page_order,omitempty"`
}

// DisplayName returns the name used to identify this source in
// diagnostics and errors.
func (s *Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// Validate checks the source's invariants.
func (s *Source) Validate() error {
	if !s.Kind.Valid() {
		return errors.New(errors.ErrCodeUnsupportedKind, "unsupported source kind %q", s.Kind).WithSource(s.DisplayName())
	}
	if len(s.Bytes) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "source has no bytes").WithSource(s.DisplayName())
	}
	for page, edit := range s.PageEdits {
		if page < 1 {
			return errors.New(errors.ErrCodeInvalidInput, "page edit key %d is not a 1-based page number", page).WithSource(s.DisplayName())
		}
		if !validRotation(edit.RotationDelta) {
			return errors.New(errors.ErrCodeInvalidRotation, "page %d: rotation %d not in {0,90,180,270}", page, edit.RotationDelta).WithSource(s.DisplayName())
		}
		if edit.Crop != nil {
			if err := edit.Crop.Validate(); err != nil {
				return err
			}
		}
	}
	if s.ImageEdit != nil {
		if !validRotation(s.ImageEdit.Rotation) {
			return errors.New(errors.ErrCodeInvalidRotation, "image rotation %d not in {0,90,180,270}", s.ImageEdit.Rotation).WithSource(s.DisplayName())
		}
		if s.ImageEdit.Crop != nil {
			if err := s.ImageEdit.Crop.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// PageSize names a standard output page size.
type PageSize string

// Supported page sizes.
const (
	PageA4     PageSize = "a4"
	PageLetter PageSize = "letter"
	PageLegal  PageSize = "legal"
	PageCustom PageSize = "custom"
)

// Orientation of the output pages for image placement.
type Orientation string

// Supported orientations.
const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// OutputSpec describes the output document.
type OutputSpec struct {
	PageSize     PageSize    `json:"page_size"`
	CustomWidth  float64     `json:"custom_width,omitempty"`  // points, PageCustom only
	CustomHeight float64     `json:"custom_height,omitempty"` // points, PageCustom only
	Orientation  Orientation `json:"orientation,omitempty"`
	Filename     string      `json:"filename,omitempty"`
}

// Page dimensions in PDF points (1/72 inch).
var pageDims = map[PageSize][2]float64{
	PageA4:     {595.28, 841.89},
	PageLetter: {612, 792},
	PageLegal:  {612, 1008},
}

// Dimensions returns the page width and height in points, with
// orientation applied.
func (o OutputSpec) Dimensions() (width, height float64, err error) {
	switch o.PageSize {
	case PageA4, PageLetter, PageLegal:
		d := pageDims[o.PageSize]
		width, height = d[0], d[1]
	case PageCustom:
		if o.CustomWidth <= 0 || o.CustomHeight <= 0 {
			return 0, 0, errors.New(errors.ErrCodeInvalidPageSize, "custom page size requires positive dimensions, got %gx%g", o.CustomWidth, o.CustomHeight)
		}
		width, height = o.CustomWidth, o.CustomHeight
	case "":
		d := pageDims[PageA4]
		width, height = d[0], d[1]
	default:
		return 0, 0, errors.New(errors.ErrCodeInvalidPageSize, "unknown page size %q", o.PageSize)
	}
	if o.Orientation == Landscape && height > width {
		width, height = height, width
	}
	return width, height, nil
}

// Request is the full input to a merge run.
type Request struct {
	Sources []Source   `json:"sources"`
	Output  OutputSpec `json:"output"`
	Tier    Tier       `json:"tier"`
}

// Validate checks the request and all its sources.
func (r *Request) Validate() error {
	if len(r.Sources) == 0 {
		return errors.New(errors.ErrCodeInvalidInput, "request has no sources")
	}
	if r.Tier != "" && !r.Tier.Valid() {
		return errors.New(errors.ErrCodeInvalidTier, "unknown tier %q", r.Tier)
	}
	if _, _, err := r.Output.Dimensions(); err != nil {
		return err
	}
	for i := range r.Sources {
		if err := r.Sources[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// orderedSources returns the sources sorted by Order. The sort is
// stable so equal order values keep their request sequence.
func (r *Request) orderedSources() []*Source {
	out := make([]*Source, len(r.Sources))
	for i := range r.Sources {
		out[i] = &r.Sources[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Diagnostics accumulates per-run degradation information. It is always
// returned on success so callers can inform users that some pages were
// degraded without failing the whole operation.
type Diagnostics struct {
	QualityReduced   bool     `json:"quality_reduced"`
	ReducedFiles     []string `json:"reduced_files,omitempty"`
	UsedDirectEmbed  bool     `json:"used_direct_embed"`
	DirectEmbedFiles []string `json:"direct_embed_files,omitempty"`
	SkippedFiles     []string `json:"skipped_files,omitempty"` // only with SkipUnembeddable
}

// markReduced records that a file produced at least one quality-reduced
// page. Each file name is recorded once.
func (d *Diagnostics) markReduced(name string) {
	d.QualityReduced = true
	d.ReducedFiles = appendOnce(d.ReducedFiles, name)
}

// markDirectEmbed records that a file fell back to direct embedding.
func (d *Diagnostics) markDirectEmbed(name string) {
	d.UsedDirectEmbed = true
	d.DirectEmbedFiles = appendOnce(d.DirectEmbedFiles, name)
}

// markSkipped records a source dropped from the run entirely.
func (d *Diagnostics) markSkipped(name string) {
	d.SkippedFiles = appendOnce(d.SkippedFiles, name)
}

func appendOnce(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// Result is the output of a successful merge run. The caller owns the
// bytes thereafter.
type Result struct {
	Bytes       []byte      `json:"bytes"`
	PageCount   int         `json:"page_count"`
	SizeBytes   int64       `json:"size_bytes"`
	Diagnostics Diagnostics `json:"diagnostics"`
}
