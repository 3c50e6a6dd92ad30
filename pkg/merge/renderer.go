package merge

import (
	"bytes"
	"context"
	"image"
	"math"
	"time"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"

	"github.com/DeepLajpal/docmerge/pkg/observability"
)

// Retry behavior of the safe renderer.
const (
	// DefaultMaxRetries bounds the number of re-attempts after the
	// initial render.
	DefaultMaxRetries = 3

	// retryScaleFactor shrinks the target by 30% per retry; backend
	// failures at a given size usually clear a few steps down.
	retryScaleFactor = 0.7

	// minAttemptDimension is the floor below which retrying is
	// pointless; the renderer escalates to the fallback chain instead.
	minAttemptDimension = 100
)

// Outcome classifies a single render attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeInvalidOutput
	OutcomeBackendFailure
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeInvalidOutput:
		return "invalid-output"
	case OutcomeBackendFailure:
		return "backend-failure"
	}
	return "unknown"
}

// RenderAttempt records one pass through the attempt loop. Attempts are
// ephemeral diagnostics; they are never persisted.
type RenderAttempt struct {
	RetryIndex  int
	ScaleFactor float64
	Width       int
	Height      int
	Outcome     Outcome
}

// Geometry is the target raster geometry for a renderable item.
type Geometry struct {
	Width    int // target pixel width before dimension safety
	Height   int // target pixel height before dimension safety
	Rotation int // clockwise degrees; 0 means no rotation requested
}

// Renderable is one page or image the safe renderer can rasterize.
// Implementations render at the requested dimensions, optionally
// dropping the rotation when the fallback chain asks for it.
type Renderable interface {
	// Geometry returns the item's target raster geometry.
	Geometry() Geometry

	// Render rasterizes the item at the given dimensions. When
	// withRotation is false the item's rotation edit is skipped and
	// width/height refer to the unrotated orientation.
	Render(ctx context.Context, width, height int, withRotation bool) (image.Image, error)
}

// RenderResult is the safe renderer's output for one item. Exactly one
// of Encoded or DirectEmbed is meaningful: when DirectEmbed is set the
// caller must fall back to embedding the original source bytes.
type RenderResult struct {
	Encoded         []byte
	Width           int // final raster width in pixels
	Height          int // final raster height in pixels
	RetryCount      int
	QualityReduced  bool
	RotationSkipped bool
	DirectEmbed     bool
	Attempts        []RenderAttempt
}

// SafeRenderer renders pages and images with bounded retries and a
// fallback chain that guarantees a usable result. It is stateless
// between calls and safe for sequential reuse.
type SafeRenderer struct {
	Limits     Limits
	MaxRetries int
	Logger     *log.Logger
}

// NewSafeRenderer returns a renderer with device-safe defaults.
func NewSafeRenderer(logger *log.Logger) *SafeRenderer {
	if logger == nil {
		logger = log.Default()
	}
	return &SafeRenderer{
		Limits:     DefaultLimits(),
		MaxRetries: DefaultMaxRetries,
		Logger:     logger,
	}
}

// Render drives the attempt state machine for one item:
//
//	Pending → Attempting(i) → Succeeded | Attempting(i+1) | Exhausted
//
// Attempt 0 uses the dimension-safe target; each retry shrinks the
// target by retryScaleFactor and re-validates the output. Attempts stop
// early once dimensions would fall below the floor. On exhaustion the
// renderer drops the rotation (if one was requested) and retries the
// chain once more; if that also fails it signals direct embedding of
// the original bytes rather than returning an error. The only error
// return is context cancellation.
func (r *SafeRenderer) Render(ctx context.Context, item Renderable, tier Tier) (res *RenderResult, err error) {
	geom := item.Geometry()
	safe := SafeDimensions(geom.Width, geom.Height, r.limits())

	start := time.Now()
	observability.Merge().OnRenderStart(ctx, safe.Width, safe.Height)
	defer func() {
		retries, reduced := 0, false
		if res != nil {
			retries, reduced = res.RetryCount, res.QualityReduced
		}
		observability.Merge().OnRenderComplete(ctx, retries, reduced, time.Since(start), err)
	}()

	res, err = r.attemptChain(ctx, item, safe, tier, true)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	if geom.Rotation != 0 {
		// Rotation dropped: recompute the target in the unrotated
		// orientation (quarter turns swap the axes).
		unrot := safe
		if geom.Rotation == 90 || geom.Rotation == 270 {
			unrot = SafeDimensions(geom.Height, geom.Width, r.limits())
		}
		res, err = r.attemptChain(ctx, item, unrot, tier, false)
		if err != nil {
			return nil, err
		}
		if res != nil {
			res.RotationSkipped = true
			res.QualityReduced = true
			r.Logger.Warn("rotation dropped after render retries exhausted",
				"rotation", geom.Rotation)
			return res, nil
		}
	}

	r.Logger.Warn("render exhausted, falling back to direct embed",
		"width", geom.Width, "height", geom.Height)
	return &RenderResult{DirectEmbed: true, QualityReduced: true}, nil
}

// attemptChain runs the bounded retry loop at one rotation setting.
// A nil result with nil error means the chain is exhausted.
func (r *SafeRenderer) attemptChain(ctx context.Context, item Renderable, safe SafeDims, tier Tier, withRotation bool) (*RenderResult, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var attempts []RenderAttempt
	for i := 0; i <= maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scale := math.Pow(retryScaleFactor, float64(i))
		w := int(math.Floor(float64(safe.Width) * scale))
		h := int(math.Floor(float64(safe.Height) * scale))
		if i > 0 && (w < minAttemptDimension || h < minAttemptDimension) {
			break // retrying below the floor cannot help
		}

		attempt := RenderAttempt{RetryIndex: i, ScaleFactor: scale, Width: w, Height: h}
		encoded, rw, rh, outcome := r.renderOnce(ctx, item, w, h, withRotation, tier)
		attempt.Outcome = outcome
		attempts = append(attempts, attempt)

		if outcome == OutcomeSuccess {
			return &RenderResult{
				Encoded:        encoded,
				Width:          rw,
				Height:         rh,
				RetryCount:     i,
				QualityReduced: i > 0 || safe.WasScaled,
				Attempts:       attempts,
			}, nil
		}

		r.Logger.Debug("render attempt failed",
			"attempt", i, "width", w, "height", h, "outcome", outcome)
	}
	return nil, nil
}

// renderOnce performs a single render attempt: rasterize, validate the
// pixels, encode, validate the encoding. The raster buffer is released
// as soon as the encode completes. The returned dimensions are those of
// the produced raster, which may be smaller than the request when the
// item extracts a crop.
func (r *SafeRenderer) renderOnce(ctx context.Context, item Renderable, w, h int, withRotation bool, tier Tier) ([]byte, int, int, Outcome) {
	raster, err := item.Render(ctx, w, h, withRotation)
	if err != nil {
		return nil, 0, 0, OutcomeBackendFailure
	}
	if !ValidRaster(raster) {
		return nil, 0, 0, OutcomeInvalidOutput
	}
	b := raster.Bounds()

	format, quality := tier.Encoding()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, raster, format, imaging.JPEGQuality(quality)); err != nil {
		return nil, 0, 0, OutcomeBackendFailure
	}
	if !ValidEncoded(buf.Bytes()) {
		return nil, 0, 0, OutcomeInvalidOutput
	}
	return buf.Bytes(), b.Dx(), b.Dy(), OutcomeSuccess
}

func (r *SafeRenderer) limits() Limits {
	if r.Limits.MaxDimension > 0 || r.Limits.MaxArea > 0 {
		return r.Limits
	}
	return DefaultLimits()
}
