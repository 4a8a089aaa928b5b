package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/alavescortez-del/gingerai-sub000/internal/config"
	"github.com/alavescortez-del/gingerai-sub000/internal/interfaces"
	"github.com/alavescortez-del/gingerai-sub000/internal/models"
)

// MySQLStore implements the catalog, progression, usage, message and media
// contracts over gorm.
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(cfg config.MySQLConfig) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Persona{},
		&models.Scenario{},
		&models.Phase{},
		&models.Action{},
		&models.Progression{},
		&models.UsageCounters{},
		&models.Message{},
		&models.MediaAsset{},
	); err != nil {
		return nil, err
	}

	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Catalog reads

func (s *MySQLStore) Persona(ctx context.Context, id string) (*models.Persona, error) {
	var p models.Persona
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *MySQLStore) Scenario(ctx context.Context, id string) (*models.Scenario, error) {
	var sc models.Scenario
	err := s.db.WithContext(ctx).
		Preload("Phases", func(db *gorm.DB) *gorm.DB { return db.Order("ordinal ASC") }).
		Preload("Actions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&sc, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// Progression

func (s *MySQLStore) GetOrCreate(ctx context.Context, userID, scenarioID string) (*models.Progression, error) {
	rec := models.Progression{
		UserID:       userID,
		ScenarioID:   scenarioID,
		Affinity:     0,
		PhaseOrdinal: 1,
		Version:      1,
	}
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND scenario_id = ?", userID, scenarioID).
		FirstOrCreate(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *MySQLStore) Get(ctx context.Context, userID, scenarioID string) (*models.Progression, error) {
	var rec models.Progression
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND scenario_id = ?", userID, scenarioID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CompareAndSwap writes the record only if its version column is untouched,
// bumping it by one. A concurrent writer surfaces as ErrVersionConflict.
func (s *MySQLStore) CompareAndSwap(ctx context.Context, rec *models.Progression) error {
	res := s.db.WithContext(ctx).
		Model(&models.Progression{}).
		Where("id = ? AND version = ?", rec.ID, rec.Version).
		Updates(map[string]interface{}{
			"affinity":      rec.Affinity,
			"phase_ordinal": rec.PhaseOrdinal,
			"completed":     rec.Completed,
			"version":       rec.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return interfaces.ErrVersionConflict
	}
	rec.Version++
	return nil
}

// Usage counters

func (s *MySQLStore) GetCounters(ctx context.Context, userID string) (*models.UsageCounters, error) {
	c := models.UsageCounters{UserID: userID, ResetAt: time.Now()}
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		FirstOrCreate(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MySQLStore) SaveCounters(ctx context.Context, counters *models.UsageCounters) error {
	return s.db.WithContext(ctx).Save(counters).Error
}

// Messages: append-only, identified by their own UUID so a replayed append
// is a no-op instead of a duplicate row.

func (s *MySQLStore) Append(ctx context.Context, msg *models.Message) error {
	err := s.db.WithContext(ctx).Create(msg).Error
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil
	}
	return err
}

func (s *MySQLStore) Recent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// Oldest first for the backend.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Media

func (s *MySQLStore) AssetsForPersona(ctx context.Context, personaID string) ([]models.MediaAsset, error) {
	var assets []models.MediaAsset
	err := s.db.WithContext(ctx).
		Where("persona_id = ?", personaID).
		Order("id ASC").
		Find(&assets).Error
	if err != nil {
		return nil, err
	}
	return assets, nil
}
