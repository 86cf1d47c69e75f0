package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
)

func seedSession(t *testing.T, s *MemoryStore) chat.Session {
	t.Helper()
	session := chat.Session{
		ID:         "11111111-2222-3333-4444-555555555555",
		Identity:   "user-1",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		LastActive: time.Now().UTC(),
	}
	if err := s.CreateSession(context.Background(), &session); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	return session
}

func TestMarkEscalatedCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	session := seedSession(t, s)
	ctx := context.Background()

	transitioned, err := s.MarkEscalated(ctx, session.ID)
	if err != nil || !transitioned {
		t.Fatalf("first call should transition, got (%v, %v)", transitioned, err)
	}

	transitioned, err = s.MarkEscalated(ctx, session.ID)
	if err != nil || transitioned {
		t.Fatalf("second call must not transition, got (%v, %v)", transitioned, err)
	}

	if _, err := s.MarkEscalated(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkEscalatedConcurrentSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	session := seedSession(t, s)
	ctx := context.Background()

	var wins atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if transitioned, err := s.MarkEscalated(ctx, session.ID); err == nil && transitioned {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", got)
	}
}

func TestUpdateSessionPreservesEscalatedFlag(t *testing.T) {
	s := NewMemoryStore()
	session := seedSession(t, s)
	ctx := context.Background()

	if _, err := s.MarkEscalated(ctx, session.ID); err != nil {
		t.Fatalf("MarkEscalated err: %v", err)
	}

	// A writer holding a copy read before the transition must not undo it.
	stale := session
	stale.Rating = intPtr(3)
	if err := s.UpdateSession(ctx, stale); err != nil {
		t.Fatalf("UpdateSession err: %v", err)
	}

	got, err := s.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if !got.Escalated {
		t.Fatal("escalated flag clobbered by stale update")
	}
	if got.Rating == nil || *got.Rating != 3 {
		t.Fatalf("rating not applied: %+v", got.Rating)
	}
}

func intPtr(v int) *int { return &v }
