// Package document adapts the PDF codec and raster backend to the
// merge pipeline's collaborator interfaces.
//
// Two concerns live here:
//
//   - Opener loads PDF sources: pdfcpu handles validation, decryption
//     and page metadata, while MuPDF (via go-fitz) rasterizes page
//     content. A raster backend that fails to open is tolerated; the
//     pipeline's fallback chain handles per-page render failures.
//   - Builder assembles the output: verbatim page copies, raster
//     pages, and image pages are collected as in-memory PDF units and
//     merged once at finalize, followed by an optimize pass that
//     deduplicates objects and compresses streams.
//
// Both sides use pdfcpu's relaxed validation mode; real-world inputs
// are frequently out of spec in harmless ways.
package document
