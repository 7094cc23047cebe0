package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	metrics  *observability.Metrics

	concurrency  int
	maxAttempts  int
	retryDelay   time.Duration
	staleRunning time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *Registry, metrics *observability.Metrics) *Worker {
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "JobWorker"),
		repo:         repo,
		registry:     registry,
		metrics:      metrics,
		concurrency:  utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, baseLog),
		maxAttempts:  utils.GetEnvAsInt("WORKER_MAX_ATTEMPTS", 5, baseLog),
		retryDelay:   time.Duration(utils.GetEnvAsInt("WORKER_RETRY_DELAY_SECONDS", 30, baseLog)) * time.Second,
		staleRunning: time.Duration(utils.GetEnvAsInt("WORKER_STALE_RUNNING_SECONDS", 300, baseLog)) * time.Second,
	}
}

// Start launches the claim loops. Each worker polls once a second; the
// SKIP LOCKED claim keeps them from stepping on each other.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.loop(ctx, i)
	}
	w.log.Info("job workers started", "concurrency", w.concurrency)
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.log.With("worker", id)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := w.repo.ClaimNextRunnable(ctx, nil, w.maxAttempts, w.retryDelay, w.staleRunning)
			if err != nil {
				log.Warn("job claim failed", "error", err)
				continue
			}
			if job == nil {
				continue
			}
			w.run(ctx, job)
		}
	}
}

func (w *Worker) run(ctx context.Context, job *types.JobRun) {
	jc := NewContext(ctx, w.db, job, w.repo)
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("no handler for job type", "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		w.metrics.JobsProcessed.WithLabelValues(job.JobType, types.JobStatusFailed).Inc()
		return
	}

	runCtx := ctx
	if job.Deadline != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, *job.Deadline)
		defer cancel()
		jc.Ctx = runCtx
	}

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				jc.Fail("panic", fmt.Errorf("panic: %v", r))
			}
		}()
		if err := h.Run(jc); err != nil {
			stage := "run"
			if errors.Is(err, context.DeadlineExceeded) {
				stage = "timeout"
			}
			w.log.Warn("job handler returned error", "job_id", job.ID, "job_type", job.JobType, "stage", stage, "error", err)
			jc.Fail(stage, err)
		}
	}()

	// Re-read the terminal status for metrics; the handler may have called
	// Succeed or Fail itself. A handler that returned nil without settling
	// the row gets settled here.
	final, err := w.repo.GetByID(ctx, nil, job.ID)
	status := types.JobStatusFailed
	if err == nil && final != nil {
		if final.Status == types.JobStatusRunning {
			jc.Succeed(jc.Job.Stage, nil)
			status = types.JobStatusSucceeded
		} else {
			status = final.Status
		}
	}
	w.metrics.JobsProcessed.WithLabelValues(job.JobType, status).Inc()
	w.log.Debug("job finished", "job_id", job.ID, "job_type", job.JobType, "status", status, "duration", time.Since(start).String())
}
