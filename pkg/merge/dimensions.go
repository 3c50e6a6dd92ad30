package merge

import "math"

// Backend raster limits observed on constrained devices. Exceeding either
// bound makes decode/encode calls fail outright or silently emit blank
// buffers, so render targets are capped proactively.
const (
	// DefaultMaxDimension is the largest safe single-axis raster dimension.
	DefaultMaxDimension = 4096

	// DefaultMaxArea is the largest safe total pixel count (4096²).
	DefaultMaxArea = DefaultMaxDimension * DefaultMaxDimension

	// dimensionSafetyMargin shaves scaled dimensions slightly below the
	// computed bound; backends that fail exactly at the limit are common.
	dimensionSafetyMargin = 0.95
)

// Limits holds the raster bounds used by SafeDimensions.
type Limits struct {
	MaxDimension int
	MaxArea      int
}

// DefaultLimits returns the conservative device-safe limits.
func DefaultLimits() Limits {
	return Limits{MaxDimension: DefaultMaxDimension, MaxArea: DefaultMaxArea}
}

// SafeDims is the result of a dimension-safety calculation.
type SafeDims struct {
	Width       int
	Height      int
	WasScaled   bool
	ScaleFactor float64
}

// SafeDimensions caps a requested raster size to backend-safe bounds,
// preserving aspect ratio. Dimensions within both the per-axis and area
// limits are returned unchanged with ScaleFactor 1. Oversized requests
// are scaled down to fit, with a small extra safety margin, and the
// final dimensions are floored and clamped to at least 1 pixel.
func SafeDimensions(width, height int, lim Limits) SafeDims {
	if lim.MaxDimension <= 0 {
		lim.MaxDimension = DefaultMaxDimension
	}
	if lim.MaxArea <= 0 {
		lim.MaxArea = DefaultMaxArea
	}

	if width*height <= lim.MaxArea && width <= lim.MaxDimension && height <= lim.MaxDimension {
		return SafeDims{Width: width, Height: height, ScaleFactor: 1}
	}

	scale := math.Min(1, math.Min(
		float64(lim.MaxDimension)/float64(width),
		float64(lim.MaxDimension)/float64(height),
	))

	// Per-axis capping alone may still leave too many pixels.
	if float64(width)*scale*float64(height)*scale > float64(lim.MaxArea) {
		scale = math.Sqrt(float64(lim.MaxArea) / (float64(width) * float64(height)))
	}
	scale *= dimensionSafetyMargin

	return SafeDims{
		Width:       max(1, int(math.Floor(float64(width)*scale))),
		Height:      max(1, int(math.Floor(float64(height)*scale))),
		WasScaled:   true,
		ScaleFactor: scale,
	}
}
