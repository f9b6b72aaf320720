// Package cache provides the shared TTL cache consulted before any
// connector call. Entries expire lazily on lookup; there is no background
// eviction. Implementations are safe for concurrent use across queries.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"
)

// Store is the key/value contract used for embeddings and recent search
// results.
type Store interface {
	// Get returns the raw value and true on a non-expired hit.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores the value with a time-to-live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key builds a namespaced cache key. Long payloads are hashed so keys
// stay bounded regardless of query length.
func Key(prefix string, parts ...string) string {
	payload := strings.Join(parts, "|")
	if len(payload) > 100 {
		h := md5.Sum([]byte(payload))
		return prefix + ":" + hex.EncodeToString(h[:])
	}
	return prefix + ":" + payload
}

// NormalizeQuery canonicalizes a query for cache keying: lower-cased,
// whitespace-collapsed.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
