package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type AnalysisRepo interface {
	// Create appends rows; analyses are never mutated afterwards.
	Create(ctx context.Context, tx *gorm.DB, rows []*types.Analysis) error
	ListByAccount(ctx context.Context, tx *gorm.DB, mastodonID string, limit int) ([]*types.Analysis, error)
	CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error)
	CountByRuleSince(ctx context.Context, tx *gorm.DB, since time.Time) (map[string]int64, error)
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return &analysisRepo{db: db, log: baseLog.With("repo", "AnalysisRepo")}
}

func (r *analysisRepo) Create(ctx context.Context, tx *gorm.DB, rows []*types.Analysis) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
	}
	return transaction.WithContext(ctx).Create(&rows).Error
}

func (r *analysisRepo) ListByAccount(ctx context.Context, tx *gorm.DB, mastodonID string, limit int) ([]*types.Analysis, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Analysis
	if err := transaction.WithContext(ctx).
		Where("mastodon_account_id = ?", mastodonID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *analysisRepo) CountSince(ctx context.Context, tx *gorm.DB, since time.Time) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Analysis{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

func (r *analysisRepo) CountByRuleSince(ctx context.Context, tx *gorm.DB, since time.Time) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	type row struct {
		RuleKey string
		N       int64
	}
	var rows []row
	if err := transaction.WithContext(ctx).
		Model(&types.Analysis{}).
		Select("rule_key, COUNT(*) AS n").
		Where("created_at >= ?", since).
		Group("rule_key").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, rw := range rows {
		out[rw.RuleKey] = rw.N
	}
	return out, nil
}
