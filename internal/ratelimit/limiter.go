// Package ratelimit bounds how fast one identity can send chat messages.
// The window is a counter with a TTL anchored to its first message, so the
// increment itself is the unit of atomicity and two tabs of the same user
// cannot race past the limit.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/kv"
)

// Config tunes the sliding window.
type Config struct {
	Window   time.Duration
	Messages int
	Burst    int
}

// DefaultConfig matches the widget's production limits.
func DefaultConfig() Config {
	return Config{Window: time.Minute, Messages: 10, Burst: 3}
}

// Result reports the outcome of one admission check. Denial is advisory:
// the caller reports RetryAfter to the client instead of dropping silently.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter int
}

// Limiter enforces the per-identity message budget on the shared store.
type Limiter struct {
	store kv.Store
	cfg   Config
}

// New builds a limiter; zero config fields fall back to defaults.
func New(store kv.Store, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Messages <= 0 {
		cfg.Messages = 10
	}
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	return &Limiter{store: store, cfg: cfg}
}

// Check consumes one slot for identity and reports whether the message may
// proceed. On store failure the message is allowed; losing rate limiting
// beats losing the conversation.
func (l *Limiter) Check(ctx context.Context, identity string) (Result, error) {
	key := fmt.Sprintf("chat:rl:%s", identity)
	limit := l.cfg.Messages + l.cfg.Burst

	count, remaining, err := l.store.IncrWindow(ctx, key, l.cfg.Window)
	if err != nil {
		return Result{Allowed: true, Remaining: limit}, fmt.Errorf("rate limit check: %w", err)
	}

	if count > int64(limit) {
		retry := int(math.Ceil(remaining.Seconds()))
		if retry < 1 {
			retry = 1
		}
		return Result{Allowed: false, RetryAfter: retry}, nil
	}

	return Result{Allowed: true, Remaining: limit - int(count)}, nil
}
