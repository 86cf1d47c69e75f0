package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIncrWindowAnchorsToFirstEvent(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	current := base
	store.SetClock(func() time.Time { return current })
	ctx := context.Background()

	count, remaining, err := store.IncrWindow(ctx, "rl:user", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindow err: %v", err)
	}
	if count != 1 || remaining != time.Minute {
		t.Fatalf("unexpected first increment: count=%d remaining=%s", count, remaining)
	}

	// Later increments must not re-arm the window.
	current = base.Add(30 * time.Second)
	count, remaining, err = store.IncrWindow(ctx, "rl:user", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindow err: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if remaining != 30*time.Second {
		t.Fatalf("expected 30s remaining, got %s", remaining)
	}

	// Past the window boundary the counter starts over.
	current = base.Add(61 * time.Second)
	count, _, err = store.IncrWindow(ctx, "rl:user", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindow err: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count 1, got %d", count)
	}
}

func TestDecrFloorNeverGoesNegative(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Incr(ctx, "conns:user"); err != nil {
		t.Fatalf("Incr err: %v", err)
	}

	for i := 0; i < 3; i++ {
		value, err := store.DecrFloor(ctx, "conns:user")
		if err != nil {
			t.Fatalf("DecrFloor err: %v", err)
		}
		if value < 0 {
			t.Fatalf("counter went negative: %d", value)
		}
	}
}

func TestSetTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	base := time.Now()
	current := base
	store.SetClock(func() time.Time { return current })
	ctx := context.Background()

	if err := store.SetTTL(ctx, "cache:abc", "resposta", time.Hour); err != nil {
		t.Fatalf("SetTTL err: %v", err)
	}

	value, found, err := store.Get(ctx, "cache:abc")
	if err != nil || !found || value != "resposta" {
		t.Fatalf("expected hit, got value=%q found=%v err=%v", value, found, err)
	}

	current = base.Add(time.Hour + time.Second)
	_, found, err = store.Get(ctx, "cache:abc")
	if err != nil {
		t.Fatalf("Get err: %v", err)
	}
	if found {
		t.Fatal("expected miss after expiry")
	}
}

func TestConcurrentIncrWindow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := store.IncrWindow(ctx, "rl:burst", time.Minute); err != nil {
				t.Errorf("IncrWindow err: %v", err)
			}
		}()
	}
	wg.Wait()

	count, _, err := store.IncrWindow(ctx, "rl:burst", time.Minute)
	if err != nil {
		t.Fatalf("IncrWindow err: %v", err)
	}
	if count != workers+1 {
		t.Fatalf("expected %d increments, got %d", workers+1, count)
	}
}
