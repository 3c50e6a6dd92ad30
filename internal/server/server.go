// Package server exposes the merge pipeline over HTTP.
//
// A single JSON endpoint accepts merge requests (source bytes are
// base64-encoded in the JSON body) and returns the merged PDF together
// with quality diagnostics. Merging is deterministic, so finished
// results are cached by a digest of the request.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/DeepLajpal/docmerge/pkg/cache"
	"github.com/DeepLajpal/docmerge/pkg/errors"
	"github.com/DeepLajpal/docmerge/pkg/merge"
	"github.com/DeepLajpal/docmerge/pkg/observability"
)

// Merger runs a merge request. Implemented by merge.Merger; abstracted
// so handlers can be tested without a PDF backend.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) (*merge.Result, error)
}

// Options configures the HTTP server.
type Options struct {
	// MaxRequestBytes caps the request body size.
	MaxRequestBytes int64

	// Timeout bounds a single merge end to end. Zero means no limit.
	Timeout time.Duration

	// CacheTTL is how long merge results stay cached.
	CacheTTL time.Duration

	// Cache stores finished merge results. Nil disables caching.
	Cache cache.Cache

	// Keyer generates cache keys. Nil uses the default keyer.
	Keyer cache.Keyer

	// Logger for request logging. Nil discards logs.
	Logger *log.Logger
}

// Server handles merge requests over HTTP.
type Server struct {
	merger Merger
	opts   Options
}

// New creates a Server. Zero option fields get working defaults.
func New(merger Merger, opts Options) *Server {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 256 << 20
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Keyer == nil {
		opts.Keyer = cache.NewDefaultKeyer()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Server{merger: merger, opts: opts}
}

// Router builds the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/merge", s.handleMerge)
	})

	return r
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mergeResponse is the success payload for the merge endpoint.
type mergeResponse struct {
	Document    []byte            `json:"document"`
	PageCount   int               `json:"page_count"`
	SizeBytes   int64             `json:"size_bytes"`
	Diagnostics merge.Diagnostics `json:"diagnostics"`
	Cached      bool              `json:"cached"`
}

// responseFor shapes a merge result into the endpoint's payload.
func responseFor(result *merge.Result) mergeResponse {
	return mergeResponse{
		Document:    result.Bytes,
		PageCount:   result.PageCount,
		SizeBytes:   result.SizeBytes,
		Diagnostics: result.Diagnostics,
	}
}

// handleMerge decodes a merge request, consults the result cache, and
// runs the pipeline on a miss.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), s.opts.Logger)

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxRequestBytes)
	var req merge.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	// Cached entries hold the JSON-encoded merge.Result itself, the
	// same payload the CLI writes, so a cache directory or Redis
	// instance shared between the two stays interchangeable.
	key := s.opts.Keyer.ResultKey(requestDigest(&req))
	if data, hit, err := s.opts.Cache.Get(ctx, key); err == nil && hit {
		var cached merge.Result
		if err := json.Unmarshal(data, &cached); err == nil && len(cached.Bytes) > 0 {
			observability.Cache().OnCacheHit(ctx, "result")
			resp := responseFor(&cached)
			resp.Cached = true
			logger.Info("merge served from cache", "pages", resp.PageCount, "bytes", resp.SizeBytes)
			writeJSON(w, http.StatusOK, resp)
			return
		}
		// Corrupt entry, drop it and fall through to a fresh merge.
		_ = s.opts.Cache.Delete(ctx, key)
	}
	observability.Cache().OnCacheMiss(ctx, "result")

	result, err := s.merger.Merge(ctx, req)
	if err != nil {
		logger.Error("merge failed", "code", errors.GetCode(err), "err", err)
		writeError(w, err)
		return
	}

	resp := responseFor(result)
	if data, err := json.Marshal(result); err == nil {
		setErr := cache.RetryWithBackoff(ctx, func() error {
			return s.opts.Cache.Set(ctx, key, data, s.opts.CacheTTL)
		})
		if setErr != nil {
			logger.Warn("cache write failed", "err", setErr)
		} else {
			observability.Cache().OnCacheSet(ctx, "result", len(data))
		}
	}

	logger.Info("merge complete",
		"sources", len(req.Sources),
		"pages", resp.PageCount,
		"bytes", resp.SizeBytes,
		"reduced", resp.Diagnostics.QualityReduced,
	)
	writeJSON(w, http.StatusOK, resp)
}

// requestDigest hashes the full request so identical requests share a
// cache entry.
func requestDigest(req *merge.Request) string {
	data, _ := json.Marshal(req)
	return cache.Hash(data)
}
