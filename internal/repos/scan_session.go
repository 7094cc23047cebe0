package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ScanSessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.ScanSession) (*types.ScanSession, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ScanSession, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.ScanSession, error)
	// ActiveByType returns the running session of a kind, if any; the
	// at-most-one-per-kind guard reads through this.
	ActiveByType(ctx context.Context, tx *gorm.DB, sessionType string) (*types.ScanSession, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
}

type scanSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScanSessionRepo(db *gorm.DB, baseLog *logger.Logger) ScanSessionRepo {
	return &scanSessionRepo{db: db, log: baseLog.With("repo", "ScanSessionRepo")}
}

func (r *scanSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ScanSession) (*types.ScanSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if session == nil {
		return nil, nil
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = types.ScanSessionActive
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *scanSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ScanSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var s types.ScanSession
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *scanSessionRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ScanSession{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *scanSessionRepo) ListRecent(ctx context.Context, tx *gorm.DB, limit int) ([]*types.ScanSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 20
	}
	var out []*types.ScanSession
	if err := transaction.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *scanSessionRepo) ActiveByType(ctx context.Context, tx *gorm.DB, sessionType string) (*types.ScanSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if sessionType == "" {
		return nil, nil
	}
	var s types.ScanSession
	err := transaction.WithContext(ctx).
		Where("session_type = ? AND status = ?", sessionType, types.ScanSessionActive).
		Order("started_at DESC").
		Limit(1).
		Find(&s).Error
	if err != nil {
		return nil, err
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return &s, nil
}

func (r *scanSessionRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := transaction.WithContext(ctx).
		Model(&types.ScanSession{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.Status] = rw.N
	}
	return out, nil
}
