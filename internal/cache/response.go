// Package cache short-circuits the completion backend for repeated
// questions. Entries are keyed by a fingerprint of the normalized text and
// expire rather than update in place; a miss after expiry is a fresh lookup.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/kv"
)

const keyPrefix = "chat:reply:"

// ResponseCache stores prior assistant replies on the shared store.
type ResponseCache struct {
	store kv.Store
	ttl   time.Duration
}

// New builds a cache with the given entry lifetime (default one hour).
func New(store kv.Store, ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{store: store, ttl: ttl}
}

// Fingerprint hashes the trimmed, case-folded message text. Two visitors
// asking the same question in different casing share one entry.
func Fingerprint(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached reply for fingerprint, if any. Store failures are
// treated as misses; the backend call is the fallback, not an error path.
func (c *ResponseCache) Get(ctx context.Context, fingerprint string) (string, bool) {
	reply, found, err := c.store.Get(ctx, keyPrefix+fingerprint)
	if err != nil {
		slog.Warn("response cache read failed", "error", err)
		return "", false
	}
	return reply, found
}

// Put stores reply under fingerprint for the configured TTL.
func (c *ResponseCache) Put(ctx context.Context, fingerprint, reply string) {
	if err := c.store.SetTTL(ctx, keyPrefix+fingerprint, reply, c.ttl); err != nil {
		slog.Warn("response cache write failed", "error", err)
	}
}
