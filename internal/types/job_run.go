package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job types consumed by the worker pool. Periodic types are enqueued by the
// scheduler, ad-hoc types by the control API.
const (
	JobTypePollRemoteAccounts = "poll_remote_accounts"
	JobTypePollLocalAccounts  = "poll_local_accounts"
	JobTypeRecordQueueStats   = "record_queue_stats"
	JobTypeRetryFailedReports = "retry_failed_reports"
	JobTypeFederatedScan      = "federated_scan"
	JobTypeDomainCheck        = "domain_check"
	JobTypeInvalidateCache    = "invalidate_cache"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCanceled  = "canceled"
)

type JobRun struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobType string    `gorm:"column:job_type;not null;index" json:"job_type"`
	// ScanKind keys the at-most-one-active guard for scan jobs; empty for
	// non-scan jobs.
	ScanKind    string         `gorm:"column:scan_kind;index" json:"scan_kind,omitempty"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;index" json:"stage,omitempty"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	LockedAt    *time.Time     `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time     `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`
	Deadline    *time.Time     `gorm:"column:deadline" json:"deadline,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;index" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_runs" }
