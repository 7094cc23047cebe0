package types

import "time"

// Cursor is a named pagination position; the value is the upstream's opaque
// max_id token, stored verbatim.
type Cursor struct {
	Name      string    `gorm:"column:name;primaryKey" json:"name"`
	Position  string    `gorm:"column:position" json:"position"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Cursor) TableName() string { return "cursors" }

const (
	CursorRemoteAccounts = "remote_accounts"
	CursorLocalAccounts  = "local_accounts"
)
