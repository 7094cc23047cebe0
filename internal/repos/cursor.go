package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type CursorRepo interface {
	Get(ctx context.Context, tx *gorm.DB, name string) (*types.Cursor, error)
	// Set upserts the named cursor; callers persist it in the same
	// transaction as the page's row updates so it only advances on success.
	Set(ctx context.Context, tx *gorm.DB, name, position string) error
	Clear(ctx context.Context, tx *gorm.DB, name string) error
}

type cursorRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCursorRepo(db *gorm.DB, baseLog *logger.Logger) CursorRepo {
	return &cursorRepo{db: db, log: baseLog.With("repo", "CursorRepo")}
}

func (r *cursorRepo) Get(ctx context.Context, tx *gorm.DB, name string) (*types.Cursor, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil, nil
	}
	var cur types.Cursor
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		Limit(1).
		Find(&cur).Error
	if err != nil {
		return nil, err
	}
	if cur.Name == "" {
		return nil, nil
	}
	return &cur, nil
}

func (r *cursorRepo) Set(ctx context.Context, tx *gorm.DB, name, position string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).
		Create(&types.Cursor{Name: name, Position: position, UpdatedAt: time.Now()}).Error
}

func (r *cursorRepo) Clear(ctx context.Context, tx *gorm.DB, name string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("name = ?", name).
		Delete(&types.Cursor{}).Error
}
