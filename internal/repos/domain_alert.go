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

type DomainAlertRepo interface {
	GetByDomain(ctx context.Context, tx *gorm.DB, domain string) (*types.DomainAlert, error)
	List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.DomainAlert, error)
	// IncrementViolation upserts the single row for domain, bumping the count
	// atomically, and returns the row after the bump.
	IncrementViolation(ctx context.Context, tx *gorm.DB, domain string, defaultThreshold int) (*types.DomainAlert, error)
	// ResetViolations is the one sanctioned way the count goes down.
	ResetViolations(ctx context.Context, tx *gorm.DB, domain, operator string) error
	SetDefederated(ctx context.Context, tx *gorm.DB, domain, operator, notes string) error
	UpdateFields(ctx context.Context, tx *gorm.DB, domain string, updates map[string]interface{}) error
}

type domainAlertRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDomainAlertRepo(db *gorm.DB, baseLog *logger.Logger) DomainAlertRepo {
	return &domainAlertRepo{db: db, log: baseLog.With("repo", "DomainAlertRepo")}
}

func (r *domainAlertRepo) GetByDomain(ctx context.Context, tx *gorm.DB, domain string) (*types.DomainAlert, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if domain == "" {
		return nil, nil
	}
	var alert types.DomainAlert
	err := transaction.WithContext(ctx).
		Where("domain = ?", domain).
		Limit(1).
		Find(&alert).Error
	if err != nil {
		return nil, err
	}
	if alert.Domain == "" {
		return nil, nil
	}
	return &alert, nil
}

func (r *domainAlertRepo) List(ctx context.Context, tx *gorm.DB, limit int) ([]*types.DomainAlert, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 100
	}
	var out []*types.DomainAlert
	if err := transaction.WithContext(ctx).
		Order("violation_count DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *domainAlertRepo) IncrementViolation(ctx context.Context, tx *gorm.DB, domain string, defaultThreshold int) (*types.DomainAlert, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if domain == "" {
		return nil, nil
	}
	if defaultThreshold < 1 {
		defaultThreshold = 10
	}
	now := time.Now()
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "domain"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"violation_count":   gorm.Expr("domain_alerts.violation_count + 1"),
				"last_violation_at": now,
				"updated_at":        now,
			}),
		}).
		Create(&types.DomainAlert{
			ID:                    uuid.New(),
			Domain:                domain,
			ViolationCount:        1,
			LastViolationAt:       &now,
			DefederationThreshold: defaultThreshold,
			CreatedAt:             now,
			UpdatedAt:             now,
		}).Error
	if err != nil {
		return nil, err
	}
	return r.GetByDomain(ctx, transaction, domain)
}

func (r *domainAlertRepo) ResetViolations(ctx context.Context, tx *gorm.DB, domain, operator string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if domain == "" {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.DomainAlert{}).
		Where("domain = ?", domain).
		Updates(map[string]interface{}{
			"violation_count": 0,
			"notes":           "reset by " + operator,
			"updated_at":      time.Now(),
		}).Error
}

func (r *domainAlertRepo) SetDefederated(ctx context.Context, tx *gorm.DB, domain, operator, notes string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if domain == "" {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"is_defederated": true,
		"defederated_at": now,
		"defederated_by": operator,
		"updated_at":     now,
	}
	if notes != "" {
		updates["notes"] = notes
	}
	return transaction.WithContext(ctx).
		Model(&types.DomainAlert{}).
		Where("domain = ?", domain).
		Updates(updates).Error
}

func (r *domainAlertRepo) UpdateFields(ctx context.Context, tx *gorm.DB, domain string, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if domain == "" || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.DomainAlert{}).
		Where("domain = ?", domain).
		Updates(updates).Error
}
