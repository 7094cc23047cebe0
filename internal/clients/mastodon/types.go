package mastodon

import "time"

// Wire types for the subset of the Mastodon API the watcher consumes.
// Unknown upstream fields are ignored by json decoding on purpose; the typed
// contract below is the schema.

type Account struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Acct           string    `json:"acct"`
	DisplayName    string    `json:"display_name"`
	Note           string    `json:"note"`
	URL            string    `json:"url"`
	Locked         bool      `json:"locked"`
	Bot            bool      `json:"bot"`
	CreatedAt      time.Time `json:"created_at"`
	FollowersCount int64     `json:"followers_count"`
	FollowingCount int64     `json:"following_count"`
	StatusesCount  int64     `json:"statuses_count"`
	Fields         []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type MediaAttachment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type Status struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Content          string            `json:"content"`
	SpoilerText      string            `json:"spoiler_text,omitempty"`
	Visibility       string            `json:"visibility"`
	Sensitive        bool              `json:"sensitive"`
	URL              string            `json:"url,omitempty"`
	Account          *Account          `json:"account,omitempty"`
	MediaAttachments []MediaAttachment `json:"media_attachments,omitempty"`
}

// AdminAccount is the admin-scope view of an account returned by
// GET /api/v1/admin/accounts.
type AdminAccount struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Domain    string    `json:"domain"` // empty for local accounts
	CreatedAt time.Time `json:"created_at"`
	Email     string    `json:"email,omitempty"`
	Confirmed bool      `json:"confirmed"`
	Suspended bool      `json:"suspended"`
	Disabled  bool      `json:"disabled"`
	Silenced  bool      `json:"silenced"`
	Account   *Account  `json:"account,omitempty"`
}

type Instance struct {
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Version string `json:"version"`
	Domain  string `json:"domain,omitempty"` // v2 field name
}

type Report struct {
	ID          string    `json:"id"`
	ActionTaken bool      `json:"action_taken"`
	Category    string    `json:"category,omitempty"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReportRequest is the body of POST /api/v1/reports. Category and RuleIDs are
// passed through from operator config verbatim; the client never invents
// values for them.
type ReportRequest struct {
	AccountID string   `json:"account_id"`
	StatusIDs []string `json:"status_ids,omitempty"`
	Comment   string   `json:"comment,omitempty"`
	Category  string   `json:"category,omitempty"`
	Forward   bool     `json:"forward,omitempty"`
	RuleIDs   []string `json:"rule_ids,omitempty"`
}

// CredentialAccount is returned by GET /api/v1/accounts/verify_credentials
// with an operator-supplied token; Role gates console access.
type CredentialAccount struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Acct     string `json:"acct"`
	Role     *Role  `json:"role,omitempty"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions string `json:"permissions,omitempty"`
}

const (
	OriginLocal  = "local"
	OriginRemote = "remote"
)

// AdminAccountsParams mirrors the documented parameter set of
// GET /api/v1/admin/accounts.
type AdminAccountsParams struct {
	Origin string // "local" | "remote" | ""
	Status string // e.g. "active"
	Limit  int    // 1..200, default 100
	MaxID  string // opaque pagination token
}

// AdminAccountsPage carries one page plus the verbatim next cursor parsed
// from the Link header; empty NextMaxID means the listing is exhausted.
type AdminAccountsPage struct {
	Accounts  []AdminAccount
	NextMaxID string
}

type StatusesParams struct {
	Limit   int    // 1..40 per upstream docs
	SinceID string // high-water mark; only strictly newer statuses return
}
