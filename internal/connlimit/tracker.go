// Package connlimit caps concurrent chat connections per identity and per
// network origin so one visitor (or one NAT'd office) cannot hold the
// assistant's capacity hostage.
package connlimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guiIerme/JobFinder-sub002/internal/kv"
)

var (
	// ErrIdentityLimit means the visitor already holds the maximum number
	// of simultaneous connections.
	ErrIdentityLimit = errors.New("connection limit reached for identity")
	// ErrOriginLimit means too many connections share the network origin.
	ErrOriginLimit = errors.New("connection limit reached for origin")
)

// Config caps concurrent connections.
type Config struct {
	PerIdentity int
	PerOrigin   int
}

// DefaultConfig matches the widget's production caps.
func DefaultConfig() Config {
	return Config{PerIdentity: 5, PerOrigin: 10}
}

// Tracker maintains the two counters on the shared store.
type Tracker struct {
	store kv.Store
	cfg   Config
}

// New builds a tracker; zero config fields fall back to defaults.
func New(store kv.Store, cfg Config) *Tracker {
	if cfg.PerIdentity <= 0 {
		cfg.PerIdentity = 5
	}
	if cfg.PerOrigin <= 0 {
		cfg.PerOrigin = 10
	}
	return &Tracker{store: store, cfg: cfg}
}

// Acquire claims one slot on both counters, rolling the identity claim back
// if the origin cap trips. Callers must pair every successful Acquire with
// exactly one Release.
func (t *Tracker) Acquire(ctx context.Context, identity, origin string) error {
	identityKey := t.identityKey(identity)
	count, err := t.store.Incr(ctx, identityKey)
	if err != nil {
		return fmt.Errorf("acquire identity slot: %w", err)
	}
	if count > int64(t.cfg.PerIdentity) {
		t.rollback(ctx, identityKey)
		return ErrIdentityLimit
	}

	originKey := t.originKey(origin)
	count, err = t.store.Incr(ctx, originKey)
	if err != nil {
		t.rollback(ctx, identityKey)
		return fmt.Errorf("acquire origin slot: %w", err)
	}
	if count > int64(t.cfg.PerOrigin) {
		t.rollback(ctx, originKey)
		t.rollback(ctx, identityKey)
		return ErrOriginLimit
	}

	return nil
}

// Release frees both slots. Decrements saturate at zero so a stray release
// can never corrupt the caps.
func (t *Tracker) Release(ctx context.Context, identity, origin string) {
	if _, err := t.store.DecrFloor(ctx, t.identityKey(identity)); err != nil {
		slog.Warn("failed to release identity connection slot", "identity", identity, "error", err)
	}
	if _, err := t.store.DecrFloor(ctx, t.originKey(origin)); err != nil {
		slog.Warn("failed to release origin connection slot", "origin", origin, "error", err)
	}
}

func (t *Tracker) rollback(ctx context.Context, key string) {
	if _, err := t.store.DecrFloor(ctx, key); err != nil {
		slog.Warn("failed to roll back connection slot", "key", key, "error", err)
	}
}

func (t *Tracker) identityKey(identity string) string {
	return fmt.Sprintf("chat:conns:user:%s", identity)
}

func (t *Tracker) originKey(origin string) string {
	return fmt.Sprintf("chat:conns:origin:%s", origin)
}
