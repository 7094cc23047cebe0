package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

// Enqueuer creates job runs with a per-kind singleflight guard: a job that
// names a scan kind is refused while another run of the same kind is queued
// or running.
type Enqueuer struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	adhocTTL time.Duration
}

func NewEnqueuer(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo) *Enqueuer {
	return &Enqueuer{
		db:       db,
		log:      baseLog.With("component", "Enqueuer"),
		repo:     repo,
		adhocTTL: time.Duration(utils.GetEnvAsInt("ADHOC_SCAN_DEADLINE_SECONDS", 3600, baseLog)) * time.Second,
	}
}

// ErrJobAlreadyQueued reports the singleflight refusal; callers treat it as
// "nothing to do", not a failure.
type ErrJobAlreadyQueued struct{ ScanKind string }

func (e *ErrJobAlreadyQueued) Error() string {
	return fmt.Sprintf("a %s job is already queued or running", e.ScanKind)
}

func (e *Enqueuer) Enqueue(ctx context.Context, jobType, scanKind string, payload map[string]any) (*types.JobRun, error) {
	return e.enqueue(ctx, jobType, scanKind, payload, nil)
}

// EnqueueAdhoc stamps operator-triggered runs with a hard deadline; the
// worker fails the run once it passes.
func (e *Enqueuer) EnqueueAdhoc(ctx context.Context, jobType, scanKind string, payload map[string]any) (*types.JobRun, error) {
	deadline := time.Now().Add(e.adhocTTL)
	return e.enqueue(ctx, jobType, scanKind, payload, &deadline)
}

func (e *Enqueuer) enqueue(ctx context.Context, jobType, scanKind string, payload map[string]any, deadline *time.Time) (*types.JobRun, error) {
	if scanKind != "" {
		active, err := e.repo.HasActiveScan(ctx, nil, scanKind)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, &ErrJobAlreadyQueued{ScanKind: scanKind}
		}
	}
	job := &types.JobRun{
		JobType:  jobType,
		ScanKind: scanKind,
		Status:   types.JobStatusQueued,
		Deadline: deadline,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding job payload: %w", err)
		}
		job.Payload = datatypes.JSON(raw)
	}
	created, err := e.repo.Create(ctx, nil, []*types.JobRun{job})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// Scheduler drops the periodic jobs onto the queue. The enqueuer's guard
// keeps a slow handler from stacking up behind itself.
type Scheduler struct {
	log      *logger.Logger
	enqueuer *Enqueuer

	pollInterval  time.Duration
	statsInterval time.Duration
	retryInterval time.Duration

	federatedEnabled bool
	localEnabled     bool
}

func NewScheduler(baseLog *logger.Logger, enqueuer *Enqueuer) *Scheduler {
	return &Scheduler{
		log:              baseLog.With("component", "Scheduler"),
		enqueuer:         enqueuer,
		pollInterval:     time.Duration(utils.GetEnvAsInt("POLL_INTERVAL_SECONDS", 30, baseLog)) * time.Second,
		statsInterval:    time.Duration(utils.GetEnvAsInt("QUEUE_STATS_INTERVAL_SECONDS", 15, baseLog)) * time.Second,
		retryInterval:    time.Duration(utils.GetEnvAsInt("REPORT_RETRY_INTERVAL_SECONDS", 300, baseLog)) * time.Second,
		federatedEnabled: utils.GetEnvAsBool("FEDERATED_SCAN_ENABLED", true, baseLog),
		localEnabled:     utils.GetEnvAsBool("LOCAL_SCAN_ENABLED", true, baseLog),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.federatedEnabled {
		go s.every(ctx, s.pollInterval, types.JobTypePollRemoteAccounts, types.ScanSessionTypeFederated)
	} else {
		s.log.Info("federated polling disabled")
	}
	if s.localEnabled {
		go s.every(ctx, s.pollInterval, types.JobTypePollLocalAccounts, types.ScanSessionTypeLocal)
	} else {
		s.log.Info("local polling disabled")
	}
	go s.every(ctx, s.statsInterval, types.JobTypeRecordQueueStats, types.JobTypeRecordQueueStats)
	go s.every(ctx, s.retryInterval, types.JobTypeRetryFailedReports, types.JobTypeRetryFailedReports)
	s.log.Info("scheduler started",
		"poll_interval", s.pollInterval.String(),
		"stats_interval", s.statsInterval.String(),
		"retry_interval", s.retryInterval.String())
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, jobType, scanKind string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.enqueuer.Enqueue(ctx, jobType, scanKind, nil); err != nil {
				var already *ErrJobAlreadyQueued
				if !errors.As(err, &already) {
					s.log.Warn("periodic enqueue failed", "job_type", jobType, "error", err)
				}
			}
		}
	}
}
