package types

import (
	"time"

	"github.com/google/uuid"
)

// DomainAlert accumulates reportable findings per remote domain. The count
// only ever goes down through the operator reset endpoint.
type DomainAlert struct {
	ID                    uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Domain                string     `gorm:"column:domain;uniqueIndex;not null" json:"domain"`
	ViolationCount        int64      `gorm:"column:violation_count;not null;default:0" json:"violation_count"`
	LastViolationAt       *time.Time `gorm:"column:last_violation_at" json:"last_violation_at,omitempty"`
	DefederationThreshold int        `gorm:"column:defederation_threshold;not null" json:"defederation_threshold"`
	IsDefederated         bool       `gorm:"column:is_defederated;not null;default:false" json:"is_defederated"`
	DefederatedAt         *time.Time `gorm:"column:defederated_at" json:"defederated_at,omitempty"`
	DefederatedBy         string     `gorm:"column:defederated_by" json:"defederated_by,omitempty"`
	Notes                 string     `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt             time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"not null" json:"updated_at"`
}

func (DomainAlert) TableName() string { return "domain_alerts" }
