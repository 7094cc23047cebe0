package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type ContentScanRepo interface {
	GetByHash(ctx context.Context, tx *gorm.DB, contentHash string) (*types.ContentScan, error)
	// Upsert stores or refreshes the memo row keyed by content_hash.
	Upsert(ctx context.Context, tx *gorm.DB, scan *types.ContentScan) error
	// MarkNeedsRescan flips needs_rescan for a scope: a single account id, or
	// everything when accountID is empty. Returns affected rows.
	MarkNeedsRescan(ctx context.Context, tx *gorm.DB, accountID string) (int64, error)
	CountStale(ctx context.Context, tx *gorm.DB, currentVersion string) (int64, error)
	Count(ctx context.Context, tx *gorm.DB) (int64, error)
}

type contentScanRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewContentScanRepo(db *gorm.DB, baseLog *logger.Logger) ContentScanRepo {
	return &contentScanRepo{db: db, log: baseLog.With("repo", "ContentScanRepo")}
}

func (r *contentScanRepo) GetByHash(ctx context.Context, tx *gorm.DB, contentHash string) (*types.ContentScan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if contentHash == "" {
		return nil, nil
	}
	var scan types.ContentScan
	err := transaction.WithContext(ctx).
		Where("content_hash = ?", contentHash).
		Limit(1).
		Find(&scan).Error
	if err != nil {
		return nil, err
	}
	if scan.ContentHash == "" {
		return nil, nil
	}
	return &scan, nil
}

func (r *contentScanRepo) Upsert(ctx context.Context, tx *gorm.DB, scan *types.ContentScan) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if scan == nil || scan.ContentHash == "" {
		return nil
	}
	if scan.LastScannedAt.IsZero() {
		scan.LastScannedAt = time.Now()
	}
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "content_hash"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_scanned_at", "scan_result", "rules_version", "needs_rescan",
			}),
		}).
		Create(scan).Error
}

func (r *contentScanRepo) MarkNeedsRescan(ctx context.Context, tx *gorm.DB, accountID string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Model(&types.ContentScan{})
	if accountID != "" {
		q = q.Where("mastodon_account_id = ?", accountID)
	} else {
		q = q.Where("needs_rescan = ?", false)
	}
	res := q.Update("needs_rescan", true)
	return res.RowsAffected, res.Error
}

func (r *contentScanRepo) CountStale(ctx context.Context, tx *gorm.DB, currentVersion string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.ContentScan{}).
		Where("needs_rescan = ? OR rules_version <> ?", true, currentVersion).
		Count(&count).Error
	return count, err
}

func (r *contentScanRepo) Count(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).Model(&types.ContentScan{}).Count(&count).Error
	return count, err
}
