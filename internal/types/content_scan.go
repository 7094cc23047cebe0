package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ContentScan memoizes an evaluator verdict. A row is stale when its
// rules_version no longer matches the active ruleset or needs_rescan is set.
type ContentScan struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ContentHash       string         `gorm:"column:content_hash;uniqueIndex;not null" json:"content_hash"`
	MastodonAccountID string         `gorm:"column:mastodon_account_id;not null;index" json:"mastodon_account_id"`
	StatusID          *string        `gorm:"column:status_id" json:"status_id,omitempty"`
	ScanType          string         `gorm:"column:scan_type;not null" json:"scan_type"`
	LastScannedAt     time.Time      `gorm:"column:last_scanned_at;not null" json:"last_scanned_at"`
	ScanResult        datatypes.JSON `gorm:"column:scan_result;type:jsonb" json:"scan_result,omitempty"`
	RulesVersion      string         `gorm:"column:rules_version;not null;index" json:"rules_version"`
	NeedsRescan       bool           `gorm:"column:needs_rescan;not null;default:false;index" json:"needs_rescan"`
}

func (ContentScan) TableName() string { return "content_scans" }
