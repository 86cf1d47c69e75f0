// Package store persists finished chat records. The hot path only writes
// here; reads come through the session service's cache.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable CRUD surface for sessions, messages and analytics.
type Store interface {
	CreateSession(ctx context.Context, session *chat.Session) error
	GetSession(ctx context.Context, id string) (chat.Session, error)
	// FindActiveSession returns the newest active session for identity with
	// activity at or after since, or ErrNotFound.
	FindActiveSession(ctx context.Context, identity string, since time.Time) (chat.Session, error)
	// UpdateSession writes the session's mutable columns. The escalated
	// flag is excluded; it only moves through MarkEscalated.
	UpdateSession(ctx context.Context, session chat.Session) error
	// MarkEscalated flips the escalated flag as an atomic compare-and-set
	// and reports whether this call made the false->true transition.
	MarkEscalated(ctx context.Context, sessionID string) (bool, error)

	CreateMessage(ctx context.Context, message *chat.Message) error
	// ListMessages returns up to limit messages for the session ordered by
	// creation time, most recent last.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)

	// UpsertAnalytics creates or replaces the session's analytics record.
	UpsertAnalytics(ctx context.Context, record chat.AnalyticsRecord) error
}
