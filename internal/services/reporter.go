package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

// ReportOutcome says what File did with a bundle.
type ReportOutcome string

const (
	OutcomeFiled           ReportOutcome = "filed"
	OutcomeAlreadyReported ReportOutcome = "already_reported"
	OutcomeDryRun          ReportOutcome = "dry_run"
	OutcomePendingRetry    ReportOutcome = "pending_retry"
	OutcomeFailed          ReportOutcome = "failed"
)

// ReportBundle is a reportable evaluation result, ready to file.
type ReportBundle struct {
	AccountID  string
	Acct       string
	Domain     string
	StatusIDs  []string
	RuleIDs    []string
	TotalScore float64
	Comment    string
}

type ReporterService interface {
	// File dedupes and files one bundle. A dedupe hit and dry-run are not
	// errors; the outcome says which path was taken.
	File(ctx context.Context, bundle ReportBundle) (ReportOutcome, error)
	// RetryPending sweeps pending_retry rows whose backoff has elapsed.
	// Returns how many rows it attempted.
	RetryPending(ctx context.Context) (int, error)
}

type reporterService struct {
	db      *gorm.DB
	log     *logger.Logger
	reports repos.ReportRepo
	client  mastodon.Client
	config  ConfigService
	metrics *observability.Metrics

	retryBase    time.Duration
	retryMax     time.Duration
	retryCeiling time.Duration
	sweepLimit   int

	now func() time.Time
}

func NewReporterService(db *gorm.DB, log *logger.Logger, reports repos.ReportRepo, client mastodon.Client, config ConfigService, metrics *observability.Metrics) ReporterService {
	return &reporterService{
		db:           db,
		log:          log.With("service", "Reporter"),
		reports:      reports,
		client:       client,
		config:       config,
		metrics:      metrics,
		retryBase:    time.Duration(utils.GetEnvAsInt("REPORT_RETRY_BASE_SECONDS", 300, log)) * time.Second,
		retryMax:     time.Duration(utils.GetEnvAsInt("REPORT_RETRY_MAX_SECONDS", 21600, log)) * time.Second,
		retryCeiling: time.Duration(utils.GetEnvAsInt("REPORT_RETRY_CEILING_HOURS", 24, log)) * time.Hour,
		sweepLimit:   utils.GetEnvAsInt("REPORT_RETRY_SWEEP_LIMIT", 50, log),
		now:          time.Now,
	}
}

// DedupeKey fingerprints a finding bundle within an hourly bucket. The same
// account, statuses and rules hash to the same key all hour, so repeated
// scans cannot file twice; a persistent violation gets a fresh key next hour.
func DedupeKey(accountID string, statusIDs, ruleIDs []string, at time.Time) string {
	statuses := append([]string(nil), statusIDs...)
	rules := append([]string(nil), ruleIDs...)
	sort.Strings(statuses)
	sort.Strings(rules)
	bucket := at.UTC().Truncate(time.Hour).Format(time.RFC3339)

	h := sha256.New()
	for _, part := range []string{accountID, strings.Join(statuses, ","), strings.Join(rules, ","), bucket} {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *reporterService) File(ctx context.Context, bundle ReportBundle) (ReportOutcome, error) {
	if bundle.AccountID == "" {
		return OutcomeFailed, fmt.Errorf("bundle has no account id")
	}

	if s.config.DryRun(ctx) {
		s.metrics.ReportsSkippedDry.Inc()
		s.log.Info("dry run, report suppressed", "acct", bundle.Acct, "score", bundle.TotalScore)
		return OutcomeDryRun, nil
	}

	key := DedupeKey(bundle.AccountID, bundle.StatusIDs, bundle.RuleIDs, s.now())
	statusJSON, _ := json.Marshal(bundle.StatusIDs)
	ruleJSON, _ := json.Marshal(bundle.RuleIDs)
	row := &types.Report{
		MastodonAccountID: bundle.AccountID,
		Domain:            bundle.Domain,
		StatusIDs:         datatypes.JSON(statusJSON),
		RuleIDs:           datatypes.JSON(ruleJSON),
		DedupeKey:         key,
		Comment:           bundle.Comment,
		Status:            types.ReportStatusFiled,
	}
	inserted, err := s.reports.Insert(ctx, nil, row)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("inserting report row: %w", err)
	}
	if !inserted {
		s.metrics.ReportsDeduped.Inc()
		return OutcomeAlreadyReported, nil
	}

	outcome, upstreamID, ferr := s.fileUpstream(ctx, bundle)
	switch outcome {
	case OutcomeFiled:
		if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
			"mastodon_report_id": upstreamID,
			"status":             types.ReportStatusFiled,
		}); err != nil {
			s.log.Error("report filed upstream but receipt update failed", "report_id", row.ID, "error", err)
		}
		s.metrics.ReportsFiled.Inc()
		s.log.Info("report filed", "acct", bundle.Acct, "upstream_id", upstreamID, "score", bundle.TotalScore)
		return OutcomeFiled, nil
	case OutcomePendingRetry:
		next := s.now().Add(s.retryDelay(0))
		if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
			"status":        types.ReportStatusPendingRetry,
			"next_retry_at": next,
		}); err != nil {
			s.log.Error("marking report pending_retry failed", "report_id", row.ID, "error", err)
		}
		s.log.Warn("upstream unreachable, report queued for retry", "acct", bundle.Acct, "error", ferr)
		return OutcomePendingRetry, nil
	default:
		// The row stays to preserve dedupe within the bucket.
		if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
			"status": types.ReportStatusFailed,
		}); err != nil {
			s.log.Error("marking report failed failed", "report_id", row.ID, "error", err)
		}
		return OutcomeFailed, ferr
	}
}

// fileUpstream runs the POST and classifies the error: transport trouble is
// retryable, an upstream rejection is not.
func (s *reporterService) fileUpstream(ctx context.Context, bundle ReportBundle) (ReportOutcome, string, error) {
	req := mastodon.ReportRequest{
		AccountID: bundle.AccountID,
		StatusIDs: bundle.StatusIDs,
		Comment:   bundle.Comment,
		Category:  s.config.ReportCategoryDefault(ctx),
	}
	if bundle.Domain != "" {
		req.Forward = s.config.ForwardRemoteReports(ctx)
	}

	start := s.now()
	rep, err := s.client.FileReport(ctx, req)
	s.metrics.ReportPostDuration.Observe(time.Since(start).Seconds())
	if err == nil {
		return OutcomeFiled, rep.ID, nil
	}

	var transportErr *mastodon.TransportError
	if errors.As(err, &transportErr) {
		return OutcomePendingRetry, "", err
	}
	return OutcomeFailed, "", fmt.Errorf("upstream rejected report: %w", err)
}

func (s *reporterService) retryDelay(retryCount int) time.Duration {
	d := s.retryBase
	for i := 0; i < retryCount && d < s.retryMax; i++ {
		d *= 2
	}
	if d > s.retryMax {
		d = s.retryMax
	}
	return d
}

func (s *reporterService) RetryPending(ctx context.Context) (int, error) {
	now := s.now()
	rows, err := s.reports.ListRetryable(ctx, nil, now, s.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("listing retryable reports: %w", err)
	}
	for _, row := range rows {
		s.metrics.ReportsRetried.Inc()

		if now.Sub(row.CreatedAt) > s.retryCeiling {
			if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
				"status":        types.ReportStatusFailed,
				"next_retry_at": nil,
			}); err != nil {
				s.log.Error("expiring report failed", "report_id", row.ID, "error", err)
			}
			s.log.Warn("report retries exhausted", "report_id", row.ID, "age", now.Sub(row.CreatedAt).String())
			continue
		}

		var statusIDs []string
		_ = json.Unmarshal(row.StatusIDs, &statusIDs)
		// Domain rides on the row so a retried remote report still sets
		// the forward flag.
		outcome, upstreamID, ferr := s.fileUpstream(ctx, ReportBundle{
			AccountID: row.MastodonAccountID,
			Domain:    row.Domain,
			StatusIDs: statusIDs,
			Comment:   row.Comment,
		})
		switch outcome {
		case OutcomeFiled:
			if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
				"mastodon_report_id": upstreamID,
				"status":             types.ReportStatusFiled,
				"next_retry_at":      nil,
			}); err != nil {
				s.log.Error("retry receipt update failed", "report_id", row.ID, "error", err)
				continue
			}
			s.metrics.ReportsFiled.Inc()
			s.log.Info("report filed on retry", "report_id", row.ID, "upstream_id", upstreamID, "attempt", row.RetryCount+1)
		case OutcomePendingRetry:
			next := now.Add(s.retryDelay(row.RetryCount + 1))
			if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
				"retry_count":   row.RetryCount + 1,
				"next_retry_at": next,
			}); err != nil {
				s.log.Error("retry reschedule failed", "report_id", row.ID, "error", err)
			}
		default:
			if err := s.reports.UpdateFields(ctx, nil, row.ID, map[string]interface{}{
				"status":        types.ReportStatusFailed,
				"next_retry_at": nil,
			}); err != nil {
				s.log.Error("retry failure update failed", "report_id", row.ID, "error", err)
			}
			s.log.Warn("report rejected on retry", "report_id", row.ID, "error", ferr)
		}
	}
	return len(rows), nil
}
