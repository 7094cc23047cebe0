package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/clients/mastodon"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
)

// fakeReportRepo records the rows File hands it; Insert answers with a
// canned dedupe verdict.
type fakeReportRepo struct {
	repos.ReportRepo
	insertOK  bool
	inserted  []*types.Report
	updates   []map[string]interface{}
	retryable []*types.Report
}

func (r *fakeReportRepo) Insert(ctx context.Context, tx *gorm.DB, report *types.Report) (bool, error) {
	r.inserted = append(r.inserted, report)
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	return r.insertOK, nil
}

func (r *fakeReportRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	r.updates = append(r.updates, updates)
	return nil
}

func (r *fakeReportRepo) ListRetryable(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]*types.Report, error) {
	return r.retryable, nil
}

type reportClient struct {
	mastodon.Client
	reqs []mastodon.ReportRequest
	rep  *mastodon.Report
	err  error
}

func (c *reportClient) FileReport(ctx context.Context, req mastodon.ReportRequest) (*mastodon.Report, error) {
	c.reqs = append(c.reqs, req)
	if c.err != nil {
		return nil, c.err
	}
	return c.rep, nil
}

type reporterConfig struct {
	ConfigService
	dryRun  bool
	forward bool
}

func (c *reporterConfig) DryRun(ctx context.Context) bool                  { return c.dryRun }
func (c *reporterConfig) ReportCategoryDefault(ctx context.Context) string { return "spam" }
func (c *reporterConfig) ForwardRemoteReports(ctx context.Context) bool    { return c.forward }

func newTestReporter(t *testing.T, repo repos.ReportRepo, client mastodon.Client, cfg ConfigService) (ReporterService, *observability.Metrics) {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	m := observability.NewMetrics()
	return NewReporterService(nil, log, repo, client, cfg, m), m
}

func TestFileDryRunSuppressesRowAndUpstream(t *testing.T) {
	repo := &fakeReportRepo{insertOK: true}
	client := &reportClient{rep: &mastodon.Report{ID: "up-1"}}
	svc, m := newTestReporter(t, repo, client, &reporterConfig{dryRun: true})

	outcome, err := svc.File(context.Background(), ReportBundle{
		AccountID: "1", Acct: "spammer", StatusIDs: []string{"s1"}, RuleIDs: []string{"r1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeDryRun {
		t.Fatalf("expected dry_run outcome, got %s", outcome)
	}
	if len(repo.inserted) != 0 {
		t.Fatal("dry run must not write a report row")
	}
	if len(client.reqs) != 0 {
		t.Fatal("dry run must not call the upstream")
	}
	if got := testutil.ToFloat64(m.ReportsSkippedDry); got != 1 {
		t.Fatalf("expected skip counter 1, got %v", got)
	}
}

func TestFileDedupeShortCircuits(t *testing.T) {
	repo := &fakeReportRepo{insertOK: false}
	client := &reportClient{rep: &mastodon.Report{ID: "up-1"}}
	svc, m := newTestReporter(t, repo, client, &reporterConfig{})

	outcome, err := svc.File(context.Background(), ReportBundle{
		AccountID: "1", StatusIDs: []string{"s1"}, RuleIDs: []string{"r1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAlreadyReported {
		t.Fatalf("expected already_reported, got %s", outcome)
	}
	if len(client.reqs) != 0 {
		t.Fatal("dedupe hit must not call the upstream")
	}
	if got := testutil.ToFloat64(m.ReportsDeduped); got != 1 {
		t.Fatalf("expected dedupe counter 1, got %v", got)
	}
}

func TestFileTransportErrorQueuesRetry(t *testing.T) {
	repo := &fakeReportRepo{insertOK: true}
	client := &reportClient{err: &mastodon.TransportError{Kind: "timeout"}}
	svc, _ := newTestReporter(t, repo, client, &reporterConfig{})

	outcome, err := svc.File(context.Background(), ReportBundle{
		AccountID: "1", Domain: "evil.example", StatusIDs: []string{"s1"}, RuleIDs: []string{"r1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomePendingRetry {
		t.Fatalf("expected pending_retry, got %s", outcome)
	}
	if len(repo.inserted) != 1 || repo.inserted[0].Domain != "evil.example" {
		t.Fatal("the row should carry the bundle's domain")
	}
	if len(repo.updates) == 0 || repo.updates[len(repo.updates)-1]["status"] != types.ReportStatusPendingRetry {
		t.Fatalf("row should be marked pending_retry, updates: %v", repo.updates)
	}
}

func TestRetryKeepsForwardFlag(t *testing.T) {
	row := &types.Report{
		ID:                uuid.New(),
		MastodonAccountID: "9",
		Domain:            "evil.example",
		StatusIDs:         datatypes.JSON([]byte(`["s1"]`)),
		Status:            types.ReportStatusPendingRetry,
		CreatedAt:         time.Now().Add(-10 * time.Minute),
	}
	repo := &fakeReportRepo{retryable: []*types.Report{row}}
	client := &reportClient{rep: &mastodon.Report{ID: "up-2"}}
	svc, _ := newTestReporter(t, repo, client, &reporterConfig{forward: true})

	attempted, err := svc.RetryPending(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempted != 1 {
		t.Fatalf("expected one attempt, got %d", attempted)
	}
	if len(client.reqs) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(client.reqs))
	}
	if !client.reqs[0].Forward {
		t.Fatal("a retried remote report should still set the forward flag")
	}
}
