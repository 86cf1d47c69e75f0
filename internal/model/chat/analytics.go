package chat

import "time"

// AnalyticsRecord is the one-per-session roll-up written when a session
// ends. It is never read back on the message hot path; dashboards consume
// it offline.
type AnalyticsRecord struct {
	SessionID      string    `json:"sessionId" gorm:"type:char(36);primaryKey"`
	TotalMessages  int       `json:"totalMessages" gorm:"not null"`
	UserMessages   int       `json:"userMessages" gorm:"not null"`
	BotMessages    int       `json:"botMessages" gorm:"not null"`
	AvgResponseMS  int64     `json:"avgResponseMs" gorm:"not null"`
	Resolved       bool      `json:"resolved" gorm:"not null;default:false"`
	Escalated      bool      `json:"escalated" gorm:"not null;default:false"`
	Topics         []string  `json:"topics,omitempty" gorm:"serializer:json"`
	Actions        []string  `json:"actions,omitempty" gorm:"serializer:json"`
	Engagement     int       `json:"engagement" gorm:"not null"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// TableName implements the gorm tabler interface.
func (AnalyticsRecord) TableName() string { return "chat_session_analytics" }

// EngagementScore combines message volume with a resolution bonus into a
// 0-100 score. The volume contribution saturates at twenty messages so one
// very long session cannot dominate aggregate reporting.
func EngagementScore(totalMessages int, resolved bool) int {
	volume := totalMessages
	if volume > 20 {
		volume = 20
	}
	score := volume * 4
	if resolved {
		score += 20
	}
	if score > 100 {
		score = 100
	}
	return score
}
