package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/ratelimit"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/services"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

// RegisterAll wires every handler into the registry.
func RegisterAll(
	registry *Registry,
	log *logger.Logger,
	scanner services.ScannerService,
	reporter services.ReporterService,
	governor *ratelimit.Governor,
	jobRepo repos.JobRunRepo,
	sessionRepo repos.ScanSessionRepo,
	metrics *observability.Metrics,
) error {
	pagesPerPoll := utils.GetEnvAsInt("SCAN_PAGES_PER_POLL", 3, log)
	handlers := []Handler{
		&pollHandler{jobType: types.JobTypePollRemoteAccounts, sessionType: types.ScanSessionTypeFederated, scanner: scanner, maxPages: pagesPerPoll},
		&pollHandler{jobType: types.JobTypePollLocalAccounts, sessionType: types.ScanSessionTypeLocal, scanner: scanner, maxPages: pagesPerPoll},
		&federatedScanHandler{scanner: scanner},
		&domainCheckHandler{scanner: scanner},
		&retryReportsHandler{reporter: reporter},
		&queueStatsHandler{governor: governor, jobRepo: jobRepo, metrics: metrics},
		&invalidateCacheHandler{scanner: scanner},
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return err
		}
	}
	return nil
}

// pollHandler runs one bounded slice of the account walk. The cursor lives
// in the cursors table, so successive polls keep circling the account space.
type pollHandler struct {
	jobType     string
	sessionType string
	scanner     services.ScannerService
	maxPages    int
}

func (h *pollHandler) Type() string { return h.jobType }

func (h *pollHandler) Run(jc *Context) error {
	session, err := h.scanner.StartSession(jc.Ctx, h.sessionType, map[string]any{"job_id": jc.Job.ID.String()})
	if err != nil {
		if errors.Is(err, services.ErrScanAlreadyRunning) {
			jc.Succeed("skipped", map[string]any{"reason": "scan already running"})
			return nil
		}
		return err
	}
	jc.Progress("scanning", 10)
	if err := h.scanner.RunSession(jc.Ctx, session.ID, h.maxPages); err != nil {
		return err
	}
	jc.Succeed("done", map[string]any{"session_id": session.ID.String()})
	return nil
}

// federatedScanHandler is the operator-triggered full sweep: no page budget,
// it runs until the listing wraps.
type federatedScanHandler struct {
	scanner services.ScannerService
}

func (h *federatedScanHandler) Type() string { return types.JobTypeFederatedScan }

func (h *federatedScanHandler) Run(jc *Context) error {
	sessionID, err := sessionFromPayload(jc)
	if err != nil {
		return err
	}
	if sessionID == uuid.Nil {
		session, err := h.scanner.StartSession(jc.Ctx, types.ScanSessionTypeFederated, map[string]any{
			"job_id": jc.Job.ID.String(),
			"full":   true,
		})
		if err != nil {
			if errors.Is(err, services.ErrScanAlreadyRunning) {
				jc.Succeed("skipped", map[string]any{"reason": "scan already running"})
				return nil
			}
			return err
		}
		sessionID = session.ID
	}
	jc.Progress("scanning", 5)
	if err := h.scanner.RunSession(jc.Ctx, sessionID, 0); err != nil {
		return err
	}
	jc.Succeed("done", map[string]any{"session_id": sessionID.String()})
	return nil
}

type domainCheckHandler struct {
	scanner services.ScannerService
}

func (h *domainCheckHandler) Type() string { return types.JobTypeDomainCheck }

func (h *domainCheckHandler) Run(jc *Context) error {
	domain := jc.PayloadString("domain")
	if domain == "" {
		return fmt.Errorf("domain_check job without domain payload")
	}
	sessionID, err := sessionFromPayload(jc)
	if err != nil {
		return err
	}
	if sessionID == uuid.Nil {
		session, err := h.scanner.StartSession(jc.Ctx, types.ScanSessionTypeDomainCheck, map[string]any{
			"job_id": jc.Job.ID.String(),
			"domain": domain,
		})
		if err != nil {
			if errors.Is(err, services.ErrScanAlreadyRunning) {
				jc.Succeed("skipped", map[string]any{"reason": "domain check already running"})
				return nil
			}
			return err
		}
		sessionID = session.ID
	}
	jc.Progress("checking", 10)
	if err := h.scanner.RunDomainCheck(jc.Ctx, sessionID, domain); err != nil {
		return err
	}
	jc.Succeed("done", map[string]any{"session_id": sessionID.String(), "domain": domain})
	return nil
}

type retryReportsHandler struct {
	reporter services.ReporterService
}

func (h *retryReportsHandler) Type() string { return types.JobTypeRetryFailedReports }

func (h *retryReportsHandler) Run(jc *Context) error {
	attempted, err := h.reporter.RetryPending(jc.Ctx)
	if err != nil {
		return err
	}
	jc.Succeed("done", map[string]any{"attempted": attempted})
	return nil
}

// queueStatsHandler exports queue depth and governor budgets as gauges.
type queueStatsHandler struct {
	governor *ratelimit.Governor
	jobRepo  repos.JobRunRepo
	metrics  *observability.Metrics
}

func (h *queueStatsHandler) Type() string { return types.JobTypeRecordQueueStats }

func (h *queueStatsHandler) Run(jc *Context) error {
	counts, err := h.jobRepo.CountByStatus(jc.Ctx, nil)
	if err != nil {
		return err
	}
	for _, status := range []string{
		types.JobStatusQueued, types.JobStatusRunning,
		types.JobStatusSucceeded, types.JobStatusFailed, types.JobStatusCanceled,
	} {
		h.metrics.QueueDepth.WithLabelValues(status).Set(float64(counts[status]))
	}
	if h.governor != nil {
		for _, b := range h.governor.Budgets() {
			h.metrics.RateBudget.WithLabelValues(b.Family).Set(float64(b.Remaining))
		}
	}
	jc.Succeed("done", counts)
	return nil
}

type invalidateCacheHandler struct {
	scanner services.ScannerService
}

func (h *invalidateCacheHandler) Type() string { return types.JobTypeInvalidateCache }

func (h *invalidateCacheHandler) Run(jc *Context) error {
	accountID := jc.PayloadString("account_id")
	affected, err := h.scanner.InvalidateCache(jc.Ctx, accountID)
	if err != nil {
		return err
	}
	jc.Succeed("done", map[string]any{"rows": affected})
	return nil
}

func sessionFromPayload(jc *Context) (uuid.UUID, error) {
	raw := jc.PayloadString("session_id")
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bad session_id in payload: %w", err)
	}
	return id, nil
}
