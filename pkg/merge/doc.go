// Package merge implements the device-safe document merge pipeline.
//
// The pipeline turns an ordered list of PDF and image sources, each
// carrying optional per-item edits (crop, rotation, page deletion,
// reordering, password), into a single output PDF. Its distinguishing
// concern is graceful degradation: raster backends on constrained hosts
// fail in well-known ways (dimension limits, silently blank output), and
// the pipeline guarantees that a page is always produced as long as the
// source bytes are valid in their native format.
//
// # Architecture
//
// The pipeline consists of small, independently testable stages:
//
//   - SafeDimensions caps render targets to backend-safe bounds.
//   - Raster and encoded-buffer validation detects blank/corrupt output.
//   - SafeRenderer owns the bounded retry loop and the fallback chain
//     (shrink, drop rotation, embed the original bytes directly).
//   - Tier maps a quality preset to resample/DPI/encode parameters and
//     decides lossless direct-copy eligibility.
//   - The compositor computes crop and rotation geometry for images and
//     PDF page viewports.
//   - Merger drives the ordered source list through the stages, appends
//     pages via a Builder, and aggregates run diagnostics.
//
// Rendering is strictly sequential: one raster buffer is in flight at a
// time, bounding peak memory to roughly one page of pixels. Cancellation
// is checked between page iterations, never mid-render.
//
// # Usage
//
//	m := merge.NewMerger(opener, newBuilder, logger)
//	res, err := m.Merge(ctx, merge.Request{
//	    Sources: sources,
//	    Output:  merge.OutputSpec{PageSize: merge.PageA4, Filename: "merged.pdf"},
//	    Tier:    merge.TierBalanced,
//	})
//	if err != nil {
//	    return err
//	}
//	// res.Diagnostics reports any quality reduction or direct embeds.
package merge
