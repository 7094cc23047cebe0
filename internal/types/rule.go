package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RuleTypeUsernameRegex    = "username_regex"
	RuleTypeDisplayNameRegex = "display_name_regex"
	RuleTypeContentRegex     = "content_regex"
	RuleTypeMetadataRegex    = "metadata_regex"
	RuleTypeMediaCount       = "media_count"
	RuleTypeFollowerRatio    = "follower_ratio"
)

// RuleCreatedBySystem marks rows seeded from the YAML defaults. Such rows are
// never edited in place; updates produce a custom copy instead.
const RuleCreatedBySystem = "system"

type Rule struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name                 string         `gorm:"column:name;uniqueIndex;not null" json:"name"`
	RuleType             string         `gorm:"column:rule_type;not null;index" json:"rule_type"`
	Pattern              string         `gorm:"column:pattern;not null" json:"pattern"`
	Weight               float64        `gorm:"column:weight;not null" json:"weight"`
	Enabled              bool           `gorm:"column:enabled;not null;index" json:"enabled"`
	Description          string         `gorm:"column:description" json:"description,omitempty"`
	TriggerCount         int64          `gorm:"column:trigger_count;not null;default:0;index" json:"trigger_count"`
	LastTriggeredAt      *time.Time     `gorm:"column:last_triggered_at;index" json:"last_triggered_at,omitempty"`
	LastTriggeredContent datatypes.JSON `gorm:"column:last_triggered_content;type:jsonb" json:"last_triggered_content,omitempty"`
	CreatedBy            string         `gorm:"column:created_by;not null" json:"created_by"`
	UpdatedBy            string         `gorm:"column:updated_by" json:"updated_by,omitempty"`
	CreatedAt            time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"not null" json:"updated_at"`
}

func (Rule) TableName() string { return "rules" }

// IsDefault reports whether the row came from the seeded defaults.
func (r *Rule) IsDefault() bool { return r.CreatedBy == RuleCreatedBySystem }

// RegexType reports whether the rule's pattern must compile as a regular
// expression (validated on write).
func RegexType(ruleType string) bool {
	switch ruleType {
	case RuleTypeUsernameRegex, RuleTypeDisplayNameRegex, RuleTypeContentRegex, RuleTypeMetadataRegex:
		return true
	default:
		return false
	}
}
