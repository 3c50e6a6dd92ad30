package merge

import "github.com/disintegration/imaging"

// Tier is a named compression preset.
type Tier string

// Supported quality tiers.
const (
	TierHigh     Tier = "high"
	TierBalanced Tier = "balanced"
	TierSmall    Tier = "small"
)

// DefaultTier is used when a request leaves the tier empty.
const DefaultTier = TierHigh

// Valid reports whether the tier is one of the supported presets.
func (t Tier) Valid() bool {
	_, ok := tierParams[t]
	return ok
}

// TierParams are the concrete encode parameters a tier resolves to.
type TierParams struct {
	// ResampleRatio is the fraction by which image pixel dimensions are
	// reduced before embedding.
	ResampleRatio float64

	// DPIScale is the multiplier over the 72 dpi baseline for PDF page
	// rasterization.
	DPIScale float64

	// EncodeQuality is the lossy encode quality in [0,1].
	EncodeQuality float64
}

// The tier table is immutable; the three tuples are deliberately
// distinct so callers can rely on tier identity.
var tierParams = map[Tier]TierParams{
	TierHigh:     {ResampleRatio: 1.0, DPIScale: 2.0, EncodeQuality: 0.95},
	TierBalanced: {ResampleRatio: 0.75, DPIScale: 1.5, EncodeQuality: 0.85},
	TierSmall:    {ResampleRatio: 0.5, DPIScale: 1.0, EncodeQuality: 0.75},
}

// Params returns the tier's encode parameters. Unknown tiers resolve to
// the default tier's parameters.
func (t Tier) Params() TierParams {
	if p, ok := tierParams[t]; ok {
		return p
	}
	return tierParams[DefaultTier]
}

// Encoding returns the raster encode format and quality for this tier.
// High embeds losslessly as PNG; lower tiers embed as JPEG at the tier's
// encode quality.
func (t Tier) Encoding() (imaging.Format, int) {
	p := t.Params()
	if t == TierHigh {
		return imaging.PNG, 100
	}
	return imaging.JPEG, int(p.EncodeQuality * 100)
}

// DirectCopyEligible reports whether a PDF page may take the lossless
// direct-copy path: tier High and the page has no crop, no rotation, and
// is not deleted. Any edit, or any tier below High, forces rasterization
// through the safe renderer.
func DirectCopyEligible(tier Tier, edits map[int]PageEdit, page int) bool {
	if tier != TierHigh {
		return false
	}
	edit, ok := edits[page]
	if !ok {
		return true
	}
	return edit.IsIdentity()
}
