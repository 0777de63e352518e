// Package store provides sqlite-backed persistence for settings and the
// interaction log. All of it is optional: a nil *Store degrades to
// in-memory-only operation, and a disabled logging switch turns the
// interaction log into a no-op without touching settings persistence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/whetstone-ai/whetstone/types"
)

// Settings keys the engine persists across restarts.
const (
	// LoggingEnabledKey gates the interaction log.
	LoggingEnabledKey = "logging_enabled"
	// DefaultPersonaKey remembers the last selected persona.
	DefaultPersonaKey = "default_persona"
	// DefaultModelKey remembers the last selected model.
	DefaultModelKey = "default_model"
)

// Interaction is one persisted chat or debate exchange.
type Interaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Persona   string    `gorm:"size:100;index" json:"persona"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	SessionID string    `gorm:"size:64;index" json:"session_id"`
}

// Setting is one persisted key/value pair.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:100" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store wraps the sqlite database. Safe for concurrent use; gorm manages
// the connection pool.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema. Use ":memory:" for an ephemeral store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "failed to open database: "+path).WithCause(err)
	}
	if err := db.AutoMigrate(&Interaction{}, &Setting{}); err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "failed to migrate schema").WithCause(err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}, nil
}

// GetSetting returns the stored value for key, or fallback when absent.
// Implements the registry's settings surface.
func (s *Store) GetSetting(key, fallback string) (string, error) {
	if s == nil {
		return fallback, nil
	}
	var setting Setting
	err := s.db.First(&setting, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fallback, nil
		}
		return fallback, types.NewError(types.ErrStoreFailure, "failed to read setting: "+key).WithCause(err)
	}
	return setting.Value, nil
}

// SetSetting upserts a key/value pair.
func (s *Store) SetSetting(key, value string) error {
	if s == nil {
		return types.NewError(types.ErrStoreFailure, "no store configured")
	}
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Save(&setting).Error
	if err != nil {
		return types.NewError(types.ErrStoreFailure, "failed to persist setting: "+key).WithCause(err)
	}
	return nil
}

// LoggingEnabled reports the interaction-log switch. Defaults to on, like
// a fresh install.
func (s *Store) LoggingEnabled() bool {
	v, err := s.GetSetting(LoggingEnabledKey, "true")
	if err != nil {
		return true
	}
	return v == "true"
}

// SetLoggingEnabled flips the interaction-log switch.
func (s *Store) SetLoggingEnabled(enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return s.SetSetting(LoggingEnabledKey, v)
}

// RecordInteraction appends one exchange to the interaction log. A
// disabled logging switch makes this a silent no-op. Implements the
// session's Recorder surface.
func (s *Store) RecordInteraction(ctx context.Context, persona, query, response, sessionID string) error {
	if s == nil {
		return nil
	}
	if !s.LoggingEnabled() {
		return nil
	}
	rec := Interaction{
		Timestamp: time.Now(),
		Persona:   persona,
		Query:     query,
		Response:  response,
		SessionID: sessionID,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return types.NewError(types.ErrStoreFailure, "failed to record interaction").WithCause(err)
	}
	return nil
}

// History returns the most recent interactions, newest first. limit <= 0
// returns the default page of 50.
func (s *Store) History(ctx context.Context, limit int) ([]Interaction, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	var out []Interaction
	err := s.db.WithContext(ctx).
		Order("timestamp desc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrStoreFailure, "failed to load history").WithCause(err)
	}
	return out, nil
}

// ClearHistory deletes the entire interaction log.
func (s *Store) ClearHistory(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&Interaction{}).Error; err != nil {
		return types.NewError(types.ErrStoreFailure, "failed to clear history").WithCause(err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
