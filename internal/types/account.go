package types

import (
	"time"

	"github.com/google/uuid"
)

// Account is one row per upstream account the watcher has seen. Rows are
// created on first sighting and only ever mutated by the Scanner.
type Account struct {
	ID                 uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MastodonAccountID  string     `gorm:"column:mastodon_account_id;uniqueIndex;not null" json:"mastodon_account_id"`
	Acct               string     `gorm:"column:acct;not null" json:"acct"`
	Domain             string     `gorm:"column:domain;index" json:"domain"`
	LastCheckedAt      *time.Time `gorm:"column:last_checked_at;index" json:"last_checked_at,omitempty"`
	LastStatusSeenID   string     `gorm:"column:last_status_seen_id" json:"last_status_seen_id,omitempty"`
	ContentHash        string     `gorm:"column:content_hash" json:"content_hash,omitempty"`
	LastFullScanAt     *time.Time `gorm:"column:last_full_scan_at" json:"last_full_scan_at,omitempty"`
	ScanCursorPosition string     `gorm:"column:scan_cursor_position" json:"scan_cursor_position,omitempty"`
	// GoneCount tracks consecutive upstream 410s; IsGone flips once the count
	// passes the threshold and the scanner stops fetching.
	GoneCount int       `gorm:"column:gone_count;not null;default:0" json:"gone_count"`
	IsGone    bool      `gorm:"column:is_gone;not null;default:false;index" json:"is_gone"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
