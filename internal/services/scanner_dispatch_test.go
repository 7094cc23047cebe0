package services

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

type stubReporter struct {
	outcome ReportOutcome
}

func (s *stubReporter) File(ctx context.Context, bundle ReportBundle) (ReportOutcome, error) {
	return s.outcome, nil
}

func (s *stubReporter) RetryPending(ctx context.Context) (int, error) { return 0, nil }

type stubDomains struct {
	DomainService
	recorded []string
}

func (d *stubDomains) RecordViolation(ctx context.Context, tx *gorm.DB, domain string) (*types.DomainAlert, error) {
	d.recorded = append(d.recorded, domain)
	return &types.DomainAlert{Domain: domain}, nil
}

func TestCountsForDomain(t *testing.T) {
	cases := []struct {
		outcome ReportOutcome
		counts  bool
	}{
		{OutcomeFiled, true},
		{OutcomePendingRetry, true},
		{OutcomeDryRun, true},
		{OutcomeAlreadyReported, false},
		{OutcomeFailed, false},
	}
	for _, tc := range cases {
		if got := countsForDomain(tc.outcome); got != tc.counts {
			t.Errorf("%s: expected %v, got %v", tc.outcome, tc.counts, got)
		}
	}
}

func TestDispatchBumpsDomainOnDryRun(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	domains := &stubDomains{}
	s := &scannerService{
		log:      log,
		reporter: &stubReporter{outcome: OutcomeDryRun},
		domains:  domains,
	}

	s.dispatch(context.Background(), &accountEval{
		bundle: &ReportBundle{AccountID: "1", Acct: "spammer@evil.example"},
		acct:   "spammer@evil.example",
		domain: "evil.example",
	})
	if len(domains.recorded) != 1 || domains.recorded[0] != "evil.example" {
		t.Fatalf("dry run should still count the domain violation, got %v", domains.recorded)
	}

	// A dedupe hit was already counted the first time around.
	s.reporter = &stubReporter{outcome: OutcomeAlreadyReported}
	s.dispatch(context.Background(), &accountEval{
		bundle: &ReportBundle{AccountID: "1"},
		domain: "evil.example",
	})
	if len(domains.recorded) != 1 {
		t.Fatal("a deduped report must not bump the domain again")
	}
}
