// Package pkg provides the core libraries for docmerge document merging.
//
// # Overview
//
// Docmerge combines PDF and image files into a single PDF while keeping
// every raster operation inside device-safe limits. The pkg directory is
// organized into a small set of areas:
//
//  1. [merge] - The pipeline: dimension safety, output validation,
//     bounded-retry rendering, compression tiers, crop/rotation
//     composition, and the merge orchestrator
//  2. [document] - The pdfcpu/go-fitz backend: opening, rendering, and
//     assembling PDF documents
//  3. [cache] - Result caching backends (file, Redis, null)
//  4. [errors] - The coded error taxonomy shared across the pipeline
//  5. [observability] - Optional instrumentation hooks
//
// # Architecture
//
// The typical data flow through docmerge:
//
//	PDF / image bytes
//	         ↓
//	    [document] package (open, decrypt, page geometry)
//	         ↓
//	    [merge] package (edits, safe rendering, tier policy)
//	         ↓
//	    [document] package (assemble and optimize the output)
//	         ↓
//	    merged PDF + diagnostics
//
// # Quick Start
//
// Merge a PDF and an image into one document:
//
//	import (
//	    "context"
//	    "github.com/DeepLajpal/docmerge/pkg/document"
//	    "github.com/DeepLajpal/docmerge/pkg/merge"
//	)
//
//	m := merge.NewMerger(document.NewOpener(nil), document.NewBuilderFactory(), nil)
//	result, err := m.Merge(context.Background(), merge.Request{
//	    Sources: []merge.Source{
//	        {ID: "report", Kind: merge.KindPDF, Bytes: pdfBytes},
//	        {ID: "photo", Kind: merge.KindImage, Bytes: jpegBytes},
//	    },
//	    Output: merge.OutputSpec{PageSize: merge.PageA4},
//	    Tier:   merge.TierBalanced,
//	})
//	if err != nil {
//	    // errors carry machine-readable codes, see pkg/errors
//	}
//	_ = result.Bytes // the merged PDF
//
// Sources keep their order, per-page crops and rotations are applied
// before embedding, and result.Diagnostics reports any page that had to
// be embedded at reduced quality.
//
// [merge]: https://pkg.go.dev/github.com/DeepLajpal/docmerge/pkg/merge
// [document]: https://pkg.go.dev/github.com/DeepLajpal/docmerge/pkg/document
// [cache]: https://pkg.go.dev/github.com/DeepLajpal/docmerge/pkg/cache
// [errors]: https://pkg.go.dev/github.com/DeepLajpal/docmerge/pkg/errors
// [observability]: https://pkg.go.dev/github.com/DeepLajpal/docmerge/pkg/observability
package pkg
