package chat

import (
	"time"

	"gorm.io/gorm"
)

// Session captures one resumable conversation between a visitor and the
// assistant. A visitor has at most one active session per identity; the
// session service resolves that at init time instead of creating duplicates.
type Session struct {
	ID          string         `json:"id" gorm:"type:char(36);primaryKey"`
	Identity    string         `json:"identity" gorm:"type:varchar(128);not null;index:idx_sessions_identity"`
	Context     ContextMap     `json:"context,omitempty" gorm:"serializer:json"`
	Active      bool           `json:"active" gorm:"not null;default:true;index:idx_sessions_identity"`
	Escalated   bool           `json:"escalated" gorm:"not null;default:false"`
	Rating      *int           `json:"rating,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastActive  time.Time      `json:"lastActive" gorm:"not null"`
	ClosedAt    *time.Time     `json:"closedAt,omitempty"`
	CloseReason string         `json:"closeReason,omitempty" gorm:"type:varchar(32)"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName implements the gorm tabler interface.
func (Session) TableName() string { return "chat_sessions" }

// ContextMap holds free-form, size-bounded session context (current page,
// referrer, locale). Updates merge rather than replace.
type ContextMap map[string]any

// Merge applies patch on top of the receiver and returns the merged map.
// A nil receiver is treated as empty; the receiver is never mutated.
func (c ContextMap) Merge(patch ContextMap) ContextMap {
	if len(patch) == 0 {
		return c
	}
	merged := make(ContextMap, len(c)+len(patch))
	for k, v := range c {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}

// Expired reports whether the session has been idle past the given window.
func (s Session) Expired(window time.Duration, now time.Time) bool {
	return now.Sub(s.LastActive) > window
}
