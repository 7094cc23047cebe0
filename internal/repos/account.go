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

type AccountRepo interface {
	// UpsertSightings creates rows for unseen accounts and refreshes acct and
	// domain for known ones. Scan state columns are never touched here.
	UpsertSightings(ctx context.Context, tx *gorm.DB, accounts []*types.Account) error
	GetByMastodonID(ctx context.Context, tx *gorm.DB, mastodonID string) (*types.Account, error)
	GetByMastodonIDs(ctx context.Context, tx *gorm.DB, mastodonIDs []string) ([]*types.Account, error)
	// LockByMastodonID takes a row lock inside the caller's transaction so
	// concurrent scanners serialize per-account scan-state writes.
	LockByMastodonID(ctx context.Context, tx *gorm.DB, mastodonID string) (*types.Account, error)
	UpdateScanState(ctx context.Context, tx *gorm.DB, mastodonID string, updates map[string]interface{}) error
	// RecordGone bumps the consecutive-410 counter and flips is_gone at the
	// given threshold. Returns the new counter value.
	RecordGone(ctx context.Context, tx *gorm.DB, mastodonID string, threshold int) (int, error)
	ClearGone(ctx context.Context, tx *gorm.DB, mastodonID string) error
	CountAll(ctx context.Context, tx *gorm.DB) (int64, error)
	CountByDomain(ctx context.Context, tx *gorm.DB, domain string) (int64, error)
	ListByDomain(ctx context.Context, tx *gorm.DB, domain string, limit int) ([]*types.Account, error)
}

type accountRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAccountRepo(db *gorm.DB, baseLog *logger.Logger) AccountRepo {
	return &accountRepo{db: db, log: baseLog.With("repo", "AccountRepo")}
}

func (r *accountRepo) UpsertSightings(ctx context.Context, tx *gorm.DB, accounts []*types.Account) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(accounts) == 0 {
		return nil
	}
	for _, acct := range accounts {
		if acct.ID == uuid.Nil {
			acct.ID = uuid.New()
		}
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "mastodon_account_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"acct":       gorm.Expr("excluded.acct"),
				"domain":     gorm.Expr("excluded.domain"),
				"updated_at": time.Now(),
			}),
		}).
		Create(&accounts).Error
}

func (r *accountRepo) GetByMastodonID(ctx context.Context, tx *gorm.DB, mastodonID string) (*types.Account, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if mastodonID == "" {
		return nil, nil
	}
	var acct types.Account
	err := transaction.WithContext(ctx).
		Where("mastodon_account_id = ?", mastodonID).
		Limit(1).
		Find(&acct).Error
	if err != nil {
		return nil, err
	}
	if acct.MastodonAccountID == "" {
		return nil, nil
	}
	return &acct, nil
}

func (r *accountRepo) GetByMastodonIDs(ctx context.Context, tx *gorm.DB, mastodonIDs []string) ([]*types.Account, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Account
	if len(mastodonIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("mastodon_account_id IN ?", mastodonIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *accountRepo) LockByMastodonID(ctx context.Context, tx *gorm.DB, mastodonID string) (*types.Account, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx)
	if transaction.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var acct types.Account
	err := q.Where("mastodon_account_id = ?", mastodonID).
		Limit(1).
		Find(&acct).Error
	if err != nil {
		return nil, err
	}
	if acct.MastodonAccountID == "" {
		return nil, nil
	}
	return &acct, nil
}

func (r *accountRepo) UpdateScanState(ctx context.Context, tx *gorm.DB, mastodonID string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if mastodonID == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.Account{}).
		Where("mastodon_account_id = ?", mastodonID).
		Updates(updates).Error
}

func (r *accountRepo) RecordGone(ctx context.Context, tx *gorm.DB, mastodonID string, threshold int) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if threshold < 1 {
		threshold = 1
	}
	var count int
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		acct, err := r.LockByMastodonID(ctx, txx, mastodonID)
		if err != nil {
			return err
		}
		if acct == nil {
			return nil
		}
		count = acct.GoneCount + 1
		updates := map[string]interface{}{
			"gone_count": count,
			"updated_at": time.Now(),
		}
		if count >= threshold {
			updates["is_gone"] = true
		}
		return txx.Model(&types.Account{}).
			Where("mastodon_account_id = ?", mastodonID).
			Updates(updates).Error
	})
	return count, err
}

func (r *accountRepo) ClearGone(ctx context.Context, tx *gorm.DB, mastodonID string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Account{}).
		Where("mastodon_account_id = ? AND (gone_count > 0 OR is_gone = ?)", mastodonID, true).
		Updates(map[string]interface{}{
			"gone_count": 0,
			"is_gone":    false,
			"updated_at": time.Now(),
		}).Error
}

func (r *accountRepo) CountAll(ctx context.Context, tx *gorm.DB) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).Model(&types.Account{}).Count(&count).Error
	return count, err
}

func (r *accountRepo) CountByDomain(ctx context.Context, tx *gorm.DB, domain string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Account{}).
		Where("domain = ?", domain).
		Count(&count).Error
	return count, err
}

// ListByDomain returns the domain's known accounts. limit <= 0 means all of
// them; domain checks walk the full set.
func (r *accountRepo) ListByDomain(ctx context.Context, tx *gorm.DB, domain string, limit int) ([]*types.Account, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).
		Where("domain = ?", domain).
		Order("mastodon_account_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []*types.Account
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
