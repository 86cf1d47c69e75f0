// Package session resolves, mutates and closes chat sessions. Reads go
// through a short-TTL cache on the shared store so the message hot path does
// not pay a database round-trip per frame; writes land durably first and the
// cache entry is refreshed or dropped in the same call.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guiIerme/JobFinder-sub002/internal/kv"
	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
	"github.com/guiIerme/JobFinder-sub002/internal/store"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Close reasons recorded on the session row.
const (
	CloseReasonClient     = "client_request"
	CloseReasonDisconnect = "disconnect"
	CloseReasonIdle       = "idle_timeout"
)

// Config tunes session resolution.
type Config struct {
	// IdleWindow is how long a session stays resumable without activity.
	IdleWindow time.Duration
	// CacheTTL bounds staleness of the read cache.
	CacheTTL time.Duration
	// HistoryLimit caps messages returned by History.
	HistoryLimit int
}

// DefaultConfig matches the widget's production settings.
func DefaultConfig() Config {
	return Config{IdleWindow: 24 * time.Hour, CacheTTL: 5 * time.Minute, HistoryLimit: 50}
}

// Service coordinates the durable store and the read cache.
type Service struct {
	durable store.Store
	cache   kv.Store
	cfg     Config
	now     func() time.Time
}

// NewService wires the session service.
func NewService(durable store.Store, cache kv.Store, cfg Config) *Service {
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 24 * time.Hour
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Service{durable: durable, cache: cache, cfg: cfg, now: time.Now}
}

// SetClock overrides the time source for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// GetOrCreate resolves the visitor's session. A session id remembered by
// the client reattaches it to a session the transport dropped, as long as
// the visitor did not close it explicitly and it is still inside the idle
// window. Failing that, an existing active session for the identity is
// resumed instead of duplicated; a stale one is treated as absent and a
// fresh session created. contextHint is merged into whichever session is
// returned.
func (s *Service) GetOrCreate(ctx context.Context, identity, sessionID string, contextHint chat.ContextMap) (chat.Session, bool, error) {
	if identity == "" {
		return chat.Session{}, false, fmt.Errorf("identity is required")
	}

	now := s.now().UTC()
	since := now.Add(-s.cfg.IdleWindow)

	if sessionID != "" {
		if session, ok := s.reattach(ctx, sessionID, identity, now, contextHint); ok {
			return session, true, nil
		}
	}

	existing, err := s.durable.FindActiveSession(ctx, identity, since)
	switch {
	case err == nil:
		existing.Context = existing.Context.Merge(contextHint)
		existing.LastActive = now
		if err := s.durable.UpdateSession(ctx, existing); err != nil {
			return chat.Session{}, false, fmt.Errorf("touch session: %w", err)
		}
		s.refreshCache(ctx, existing)
		return existing, true, nil
	case errors.Is(err, store.ErrNotFound):
		// fall through to create
	default:
		return chat.Session{}, false, fmt.Errorf("find active session: %w", err)
	}

	created := chat.Session{
		ID:         uuid.NewString(),
		Identity:   identity,
		Context:    chat.ContextMap{}.Merge(contextHint),
		Active:     true,
		CreatedAt:  now,
		LastActive: now,
	}
	if err := s.durable.CreateSession(ctx, &created); err != nil {
		return chat.Session{}, false, fmt.Errorf("create session: %w", err)
	}
	s.refreshCache(ctx, created)
	return created, false, nil
}

// reattach recovers a session a prior connection dropped. Sessions the
// visitor closed on purpose are never reopened.
func (s *Service) reattach(ctx context.Context, sessionID, identity string, now time.Time, contextHint chat.ContextMap) (chat.Session, bool) {
	session, err := s.durable.GetSession(ctx, sessionID)
	if err != nil {
		return chat.Session{}, false
	}
	if session.Identity != identity || session.Expired(s.cfg.IdleWindow, now) {
		return chat.Session{}, false
	}
	if !session.Active && session.CloseReason == CloseReasonClient {
		return chat.Session{}, false
	}

	session.Active = true
	session.ClosedAt = nil
	session.CloseReason = ""
	session.Context = session.Context.Merge(contextHint)
	session.LastActive = s.now().UTC()
	if err := s.durable.UpdateSession(ctx, session); err != nil {
		slog.Warn("failed to reattach session", "session_id", sessionID, "error", err)
		return chat.Session{}, false
	}
	s.refreshCache(ctx, session)
	return session, true
}

// Get fetches a session, serving from cache when possible.
func (s *Service) Get(ctx context.Context, sessionID string) (chat.Session, error) {
	if cached, ok := s.cacheGet(ctx, sessionID); ok {
		return cached, nil
	}

	session, err := s.durable.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return chat.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	s.refreshCache(ctx, session)
	return session, nil
}

// AppendMessage persists one turn and bumps the session's activity clock.
func (s *Service) AppendMessage(ctx context.Context, message *chat.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.now().UTC()
	}

	if err := s.durable.CreateMessage(ctx, message); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("persist message: %w", err)
	}

	if err := s.touch(ctx, message.SessionID); err != nil {
		slog.Warn("failed to bump session activity", "session_id", message.SessionID, "error", err)
	}
	// Drop any cached history so the next read sees this message.
	s.invalidateHistory(ctx, message.SessionID)
	return nil
}

// UpdateContext merges patch into the session context.
func (s *Service) UpdateContext(ctx context.Context, sessionID string, patch chat.ContextMap) error {
	return s.mutate(ctx, sessionID, func(session *chat.Session) {
		session.Context = session.Context.Merge(patch)
	})
}

// SetSatisfaction records the 1-5 rating.
func (s *Service) SetSatisfaction(ctx context.Context, sessionID string, rating int) error {
	return s.mutate(ctx, sessionID, func(session *chat.Session) {
		session.Rating = &rating
	})
}

// MarkEscalated flips the escalated flag and reports whether this call made
// the transition. The store applies it as a compare-and-set, so two
// connections on the same session racing each other still yield exactly one
// true; the escalation reply is emitted once per session.
func (s *Service) MarkEscalated(ctx context.Context, sessionID string) (bool, error) {
	transitioned, err := s.durable.MarkEscalated(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, err
	}
	if transitioned {
		// Drop the cached copy instead of rewriting it; a concurrent
		// mutate could otherwise race a stale flag back in.
		if err := s.cache.Del(ctx, sessionKey(sessionID)); err != nil {
			slog.Warn("failed to invalidate session cache", "session_id", sessionID, "error", err)
		}
	}
	return transitioned, nil
}

// Close deactivates the session. Closing an already-closed session is a
// no-op so the disconnect path can race the client's explicit close.
func (s *Service) Close(ctx context.Context, sessionID, reason string) error {
	return s.mutate(ctx, sessionID, func(session *chat.Session) {
		if !session.Active {
			return
		}
		now := s.now().UTC()
		session.Active = false
		session.ClosedAt = &now
		session.CloseReason = reason
	})
}

// History returns the session transcript ordered oldest-first, capped at
// limit (or the configured maximum when limit is zero or too large).
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > s.cfg.HistoryLimit {
		limit = s.cfg.HistoryLimit
	}

	// Only the hot-path read (the configured maximum) is cached; ad-hoc
	// limits from dashboard reads go straight to the store.
	cacheable := limit == s.cfg.HistoryLimit
	if cacheable {
		if cached, ok := s.historyGet(ctx, sessionID, limit); ok {
			return cached, nil
		}
	}

	messages, err := s.durable.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if cacheable {
		s.historyPut(ctx, sessionID, limit, messages)
	}
	return messages, nil
}

func (s *Service) mutate(ctx context.Context, sessionID string, apply func(*chat.Session)) error {
	session, err := s.durable.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	apply(&session)
	session.LastActive = s.now().UTC()
	if err := s.durable.UpdateSession(ctx, session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}
	s.refreshCache(ctx, session)
	return nil
}

func (s *Service) touch(ctx context.Context, sessionID string) error {
	return s.mutate(ctx, sessionID, func(*chat.Session) {})
}

func sessionKey(id string) string { return "chat:session:" + id }

func historyKey(id string, limit int) string {
	return fmt.Sprintf("chat:history:%s:%d", id, limit)
}

func (s *Service) cacheGet(ctx context.Context, sessionID string) (chat.Session, bool) {
	raw, found, err := s.cache.Get(ctx, sessionKey(sessionID))
	if err != nil || !found {
		if err != nil {
			slog.Warn("session cache read failed", "session_id", sessionID, "error", err)
		}
		return chat.Session{}, false
	}

	var session chat.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		slog.Warn("dropping corrupt session cache entry", "session_id", sessionID, "error", err)
		_ = s.cache.Del(ctx, sessionKey(sessionID))
		return chat.Session{}, false
	}
	return session, true
}

func (s *Service) refreshCache(ctx context.Context, session chat.Session) {
	raw, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := s.cache.SetTTL(ctx, sessionKey(session.ID), string(raw), s.cfg.CacheTTL); err != nil {
		slog.Warn("session cache write failed", "session_id", session.ID, "error", err)
	}
}

func (s *Service) historyGet(ctx context.Context, sessionID string, limit int) ([]chat.Message, bool) {
	raw, found, err := s.cache.Get(ctx, historyKey(sessionID, limit))
	if err != nil || !found {
		return nil, false
	}
	var messages []chat.Message
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		_ = s.cache.Del(ctx, historyKey(sessionID, limit))
		return nil, false
	}
	return messages, true
}

func (s *Service) historyPut(ctx context.Context, sessionID string, limit int, messages []chat.Message) {
	raw, err := json.Marshal(messages)
	if err != nil {
		return
	}
	if err := s.cache.SetTTL(ctx, historyKey(sessionID, limit), string(raw), s.cfg.CacheTTL); err != nil {
		slog.Warn("history cache write failed", "session_id", sessionID, "error", err)
	}
}

func (s *Service) invalidateHistory(ctx context.Context, sessionID string) {
	if err := s.cache.Del(ctx, historyKey(sessionID, s.cfg.HistoryLimit)); err != nil {
		slog.Warn("history cache invalidation failed", "session_id", sessionID, "error", err)
	}
}
