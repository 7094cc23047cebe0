package types

import (
	"time"

	"gorm.io/datatypes"
)

// Config keys recognized by the services. Values are JSON so booleans,
// numbers and lists all live in one table.
const (
	ConfigKeyDryRun                = "dry_run"
	ConfigKeyReportCategoryDefault = "report_category_default"
	ConfigKeyForwardRemoteReports  = "forward_remote_reports"
	ConfigKeyMaxStatusesPerAccount = "max_statuses_per_account"
	ConfigKeyMinFindingsToReport   = "min_findings_to_report"
	ConfigKeyReportThreshold       = "report_threshold"
	ConfigKeyDefederationThreshold = "defederation_threshold"
	ConfigKeyAllowListedAccounts   = "allow_listed_accounts"
	ConfigKeyLastCacheInvalidation = "last_cache_invalidation"
)

type ConfigEntry struct {
	Key       string         `gorm:"column:key;primaryKey" json:"key"`
	Value     datatypes.JSON `gorm:"column:value;type:jsonb;not null" json:"value"`
	UpdatedBy string         `gorm:"column:updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
}

func (ConfigEntry) TableName() string { return "config" }
