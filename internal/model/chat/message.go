package chat

import (
	"time"

	"gorm.io/gorm"
)

// Sender roles for persisted messages.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
)

// Message persists a single turn of a session. Messages are immutable once
// written and ordered by creation time within their session.
type Message struct {
	ID           string         `json:"id" gorm:"type:char(36);primaryKey"`
	SessionID    string         `json:"sessionId" gorm:"type:char(36);not null;index:idx_messages_session,priority:1"`
	Sender       string         `json:"sender" gorm:"type:varchar(16);not null"`
	Content      string         `json:"content" gorm:"type:text;not null"`
	Metadata     ContextMap     `json:"metadata,omitempty" gorm:"serializer:json"`
	CacheHit     bool           `json:"cacheHit" gorm:"not null;default:false"`
	ProcessingMS int64          `json:"processingMs,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" gorm:"index:idx_messages_session,priority:2"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName implements the gorm tabler interface.
func (Message) TableName() string { return "chat_messages" }
