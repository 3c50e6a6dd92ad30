// Package cache provides pluggable caching for merged documents.
//
// Merging is deterministic: the same inputs, edits, and output options
// always produce the same document. That makes merge results safe to
// cache by a digest of the request. Three backends are provided: a
// file-backed cache for CLI usage, a Redis-backed cache for server
// deployments, and a null cache that disables caching entirely.
package cache

import (
	"context"
	"time"
)

// Cache is the interface all cache backends implement.
type Cache interface {
	// Get retrieves a value. Returns (data, true, nil) on a hit and
	// (nil, false, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with a TTL. A zero TTL means no expiration.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Keyer generates cache keys for merge results.
type Keyer interface {
	// ResultKey generates a key for a finished merge result, from a
	// digest of the full request (sources, edits, output options).
	ResultKey(requestDigest string) string
}

// DefaultKeyer is the standard key generator.
type DefaultKeyer struct{}

// NewDefaultKeyer creates the standard key generator.
func NewDefaultKeyer() Keyer {
	return &DefaultKeyer{}
}

// ResultKey generates a key for a finished merge result.
func (k *DefaultKeyer) ResultKey(requestDigest string) string {
	return hashKey("result", requestDigest)
}

// ScopedKeyer wraps a Keyer with a prefix so that independent
// deployments can share a Redis instance without key collisions.
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// ResultKey generates a prefixed key for a merge result.
func (k *ScopedKeyer) ResultKey(requestDigest string) string {
	return k.prefix + k.inner.ResultKey(requestDigest)
}
