package repos

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ConfigRepo interface {
	Get(ctx context.Context, tx *gorm.DB, key string) (*types.ConfigEntry, error)
	GetAll(ctx context.Context, tx *gorm.DB) ([]*types.ConfigEntry, error)
	Set(ctx context.Context, tx *gorm.DB, key string, value datatypes.JSON, updatedBy string) error
}

type configRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConfigRepo(db *gorm.DB, baseLog *logger.Logger) ConfigRepo {
	return &configRepo{db: db, log: baseLog.With("repo", "ConfigRepo")}
}

func (r *configRepo) Get(ctx context.Context, tx *gorm.DB, key string) (*types.ConfigEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var entry types.ConfigEntry
	err := transaction.WithContext(ctx).
		Where("key = ?", key).
		Limit(1).
		Find(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.Key == "" {
		return nil, nil
	}
	return &entry, nil
}

func (r *configRepo) GetAll(ctx context.Context, tx *gorm.DB) ([]*types.ConfigEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ConfigEntry
	if err := transaction.WithContext(ctx).
		Order("key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *configRepo) Set(ctx context.Context, tx *gorm.DB, key string, value datatypes.JSON, updatedBy string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_by", "updated_at"}),
		}).
		Create(&types.ConfigEntry{
			Key:       key,
			Value:     value,
			UpdatedBy: updatedBy,
			UpdatedAt: time.Now(),
		}).Error
}
