// Package kv abstracts the shared low-latency store behind the chat's
// coordination state: rate-limit windows, connection counts and the reply
// cache. Production runs on Redis; tests and single-node degraded mode use
// the in-memory driver.
package kv

import (
	"context"
	"time"
)

// Store is the operation set the chat needs from the shared store. Every
// mutation is atomic at the operation level; callers never compose a
// read-modify-write out of these.
type Store interface {
	// IncrWindow atomically increments key, arming ttl only when this is
	// the first increment of a fresh window. It returns the new count and
	// the time remaining in the window.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error)

	// Incr atomically increments key with no expiry and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// DecrFloor atomically decrements key, never going below zero.
	DecrFloor(ctx context.Context, key string) (int64, error)

	// Get returns the value at key, with found=false on a miss or expiry.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// SetTTL writes value at key with the given expiry.
	SetTTL(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes key; deleting a missing key is not an error.
	Del(ctx context.Context, key string) error
}
