package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	ReportStatusFiled        = "filed"
	ReportStatusPendingRetry = "pending_retry"
	ReportStatusFailed       = "failed"
)

// Report is the local receipt for an upstream moderation report. The UNIQUE
// dedupe_key is the whole dedup mechanism: insertion either succeeds exactly
// once per bundle per hour bucket or surfaces a conflict.
type Report struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MastodonAccountID string         `gorm:"column:mastodon_account_id;not null;index;index:idx_reports_account_created,priority:1" json:"mastodon_account_id"`
	Domain            string         `gorm:"column:domain;index" json:"domain,omitempty"`
	StatusIDs         datatypes.JSON `gorm:"column:status_ids;type:jsonb" json:"status_ids,omitempty"`
	RuleIDs           datatypes.JSON `gorm:"column:rule_ids;type:jsonb" json:"rule_ids,omitempty"`
	MastodonReportID  *string        `gorm:"column:mastodon_report_id" json:"mastodon_report_id,omitempty"`
	DedupeKey         string         `gorm:"column:dedupe_key;uniqueIndex;not null" json:"dedupe_key"`
	Comment           string         `gorm:"column:comment" json:"comment,omitempty"`
	Status            string         `gorm:"column:status;not null;index" json:"status"`
	RetryCount        int            `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	NextRetryAt       *time.Time     `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;index;index:idx_reports_account_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (Report) TableName() string { return "reports" }
