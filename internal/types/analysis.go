package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Analysis is append-only: one row per (account, status-or-profile, rule) hit.
type Analysis struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MastodonAccountID string         `gorm:"column:mastodon_account_id;not null;index;index:idx_analyses_account_created,priority:1" json:"mastodon_account_id"`
	StatusID          *string        `gorm:"column:status_id" json:"status_id,omitempty"`
	RuleKey           string         `gorm:"column:rule_key;not null;index" json:"rule_key"`
	Score             float64        `gorm:"column:score;not null" json:"score"`
	Evidence          datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;index;index:idx_analyses_account_created,priority:2" json:"created_at"`
}

func (Analysis) TableName() string { return "analyses" }
