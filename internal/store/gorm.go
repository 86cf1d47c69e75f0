package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/guiIerme/JobFinder-sub002/internal/model/chat"
)

// GormStore implements Store on a relational database through gorm.
type GormStore struct {
	db *gorm.DB
}

// Open connects to postgres, migrates the chat tables and returns the store.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}, &chat.AnalyticsRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chat tables: %w", err)
	}

	return &GormStore{db: db}, nil
}

// NewGormStore wraps an existing gorm handle, used by tests.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateSession implements Store.
func (s *GormStore) CreateSession(ctx context.Context, session *chat.Session) error {
	return s.db.WithContext(ctx).Create(session).Error
}

// GetSession implements Store.
func (s *GormStore) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var session chat.Session
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// FindActiveSession implements Store.
func (s *GormStore) FindActiveSession(ctx context.Context, identity string, since time.Time) (chat.Session, error) {
	var session chat.Session
	err := s.db.WithContext(ctx).
		Where("identity = ? AND active = ? AND last_active >= ?", identity, true, since).
		Order("last_active DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// UpdateSession implements Store. The escalated column is deliberately
// outside the column set so a stale read can never undo MarkEscalated.
func (s *GormStore) UpdateSession(ctx context.Context, session chat.Session) error {
	result := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", session.ID).
		Select("Context", "Active", "Rating", "LastActive", "ClosedAt", "CloseReason").
		Updates(session)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkEscalated implements Store. The WHERE clause is the compare-and-set:
// only one of any number of racing callers sees RowsAffected == 1.
func (s *GormStore) MarkEscalated(ctx context.Context, sessionID string) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ? AND escalated = ?", sessionID, false).
		Update("escalated", true)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&chat.Session{}).
		Where("id = ?", sessionID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// CreateMessage implements Store.
func (s *GormStore) CreateMessage(ctx context.Context, message *chat.Message) error {
	return s.db.WithContext(ctx).Create(message).Error
}

// ListMessages implements Store. The query walks the newest rows backwards
// and the result is reversed so callers always see oldest-first order.
func (s *GormStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var messages []chat.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UpsertAnalytics implements Store.
func (s *GormStore) UpsertAnalytics(ctx context.Context, record chat.AnalyticsRecord) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&record).Error
}
