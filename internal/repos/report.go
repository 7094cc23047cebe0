package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ReportRepo interface {
	// Insert returns (inserted=false, nil) when the dedupe key already
	// exists; any other failure is a real error.
	Insert(ctx context.Context, tx *gorm.DB, report *types.Report) (bool, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Report, error)
	GetByDedupeKey(ctx context.Context, tx *gorm.DB, key string) (*types.Report, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// ListRetryable returns pending_retry rows whose next_retry_at has
	// passed, oldest first.
	ListRetryable(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Report, error)
	CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error)
	CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error)
	ListByAccount(ctx context.Context, tx *gorm.DB, mastodonID string, limit int) ([]*types.Report, error)
}

type reportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return &reportRepo{db: db, log: baseLog.With("repo", "ReportRepo")}
}

func (r *reportRepo) Insert(ctx context.Context, tx *gorm.DB, report *types.Report) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if report == nil {
		return false, nil
	}
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(report).Error; err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *reportRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Report, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rep types.Report
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rep).Error
	if err != nil {
		return nil, err
	}
	if rep.ID == uuid.Nil {
		return nil, nil
	}
	return &rep, nil
}

func (r *reportRepo) GetByDedupeKey(ctx context.Context, tx *gorm.DB, key string) (*types.Report, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if key == "" {
		return nil, nil
	}
	var rep types.Report
	err := transaction.WithContext(ctx).
		Where("dedupe_key = ?", key).
		Limit(1).
		Find(&rep).Error
	if err != nil {
		return nil, err
	}
	if rep.ID == uuid.Nil {
		return nil, nil
	}
	return &rep, nil
}

func (r *reportRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Report{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *reportRepo) ListRetryable(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Report, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Report
	if err := transaction.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)", types.ReportStatusPendingRetry, now).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reportRepo) CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Report{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (r *reportRepo) CountByStatus(ctx context.Context, tx *gorm.DB) (map[string]int64, error) {
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
		Model(&types.Report{}).
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

func (r *reportRepo) ListByAccount(ctx context.Context, tx *gorm.DB, mastodonID string, limit int) ([]*types.Report, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 50
	}
	var out []*types.Report
	if err := transaction.WithContext(ctx).
		Where("mastodon_account_id = ?", mastodonID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
