package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type RuleRepo interface {
	List(ctx context.Context, tx *gorm.DB) ([]*types.Rule, error)
	ListEnabled(ctx context.Context, tx *gorm.DB) ([]*types.Rule, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Rule, error)
	GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Rule, error)
	Create(ctx context.Context, tx *gorm.DB, rule *types.Rule) (*types.Rule, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	// RecordTrigger bumps the firing bookkeeping for a rule by name. Sample
	// is a small JSON extract of the matched content.
	RecordTrigger(ctx context.Context, tx *gorm.DB, name string, firings int64, sample datatypes.JSON) error
	TopByTriggerCount(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Rule, error)
}

type ruleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRuleRepo(db *gorm.DB, baseLog *logger.Logger) RuleRepo {
	return &ruleRepo{db: db, log: baseLog.With("repo", "RuleRepo")}
}

func (r *ruleRepo) List(ctx context.Context, tx *gorm.DB) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Rule
	if err := transaction.WithContext(ctx).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleRepo) ListEnabled(ctx context.Context, tx *gorm.DB) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Rule
	if err := transaction.WithContext(ctx).
		Where("enabled = ?", true).
		Order("name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ruleRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var rule types.Rule
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == uuid.Nil {
		return nil, nil
	}
	return &rule, nil
}

func (r *ruleRepo) GetByName(ctx context.Context, tx *gorm.DB, name string) (*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" {
		return nil, nil
	}
	var rule types.Rule
	err := transaction.WithContext(ctx).
		Where("name = ?", name).
		Limit(1).
		Find(&rule).Error
	if err != nil {
		return nil, err
	}
	if rule.ID == uuid.Nil {
		return nil, nil
	}
	return &rule, nil
}

func (r *ruleRepo) Create(ctx context.Context, tx *gorm.DB, rule *types.Rule) (*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if rule == nil {
		return nil, nil
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if err := transaction.WithContext(ctx).Create(rule).Error; err != nil {
		return nil, err
	}
	return rule, nil
}

func (r *ruleRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.Rule{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ruleRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.Rule{}).Error
}

func (r *ruleRepo) RecordTrigger(ctx context.Context, tx *gorm.DB, name string, firings int64, sample datatypes.JSON) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if name == "" || firings <= 0 {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"trigger_count":     gorm.Expr("trigger_count + ?", firings),
		"last_triggered_at": now,
		"updated_at":        now,
	}
	if len(sample) > 0 {
		updates["last_triggered_content"] = sample
	}
	return transaction.WithContext(ctx).
		Model(&types.Rule{}).
		Where("name = ?", name).
		Updates(updates).Error
}

func (r *ruleRepo) TopByTriggerCount(ctx context.Context, tx *gorm.DB, limit int) ([]*types.Rule, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 10
	}
	var out []*types.Rule
	if err := transaction.WithContext(ctx).
		Order("trigger_count DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
