package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ScanSessionTypeFederated   = "federated"
	ScanSessionTypeLocal       = "local"
	ScanSessionTypeDomainCheck = "domain_check"
	ScanSessionTypeOnDemand    = "ondemand"

	ScanSessionActive    = "active"
	ScanSessionCompleted = "completed"
	ScanSessionFailed    = "failed"
	ScanSessionCancelled = "cancelled"
)

type ScanSession struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionType       string         `gorm:"column:session_type;not null;index" json:"session_type"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	AccountsProcessed int64          `gorm:"column:accounts_processed;not null;default:0" json:"accounts_processed"`
	TotalAccounts     *int64         `gorm:"column:total_accounts" json:"total_accounts,omitempty"`
	CurrentCursor     *string        `gorm:"column:current_cursor" json:"current_cursor,omitempty"`
	LastAccountID     *string        `gorm:"column:last_account_id" json:"last_account_id,omitempty"`
	RulesApplied      datatypes.JSON `gorm:"column:rules_applied;type:jsonb" json:"rules_applied,omitempty"`
	StartedAt         time.Time      `gorm:"column:started_at;not null" json:"started_at"`
	CompletedAt       *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	SessionMetadata   datatypes.JSON `gorm:"column:session_metadata;type:jsonb" json:"session_metadata,omitempty"`
}

func (ScanSession) TableName() string { return "scan_sessions" }

// Terminal reports whether the session can no longer change state.
func (s *ScanSession) Terminal() bool {
	switch s.Status {
	case ScanSessionCompleted, ScanSessionFailed, ScanSessionCancelled:
		return true
	default:
		return false
	}
}
