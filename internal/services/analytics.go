package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

type DomainAnalytics struct {
	TotalTracked  int                  `json:"total_tracked"`
	OverThreshold int                  `json:"over_threshold"`
	Defederated   int                  `json:"defederated"`
	Domains       []*types.DomainAlert `json:"domains"`
}

type ScanningAnalytics struct {
	SessionsByStatus map[string]int64     `json:"sessions_by_status"`
	RecentSessions   []*types.ScanSession `json:"recent_sessions"`
	AnalysesLast24h  int64                `json:"analyses_last_24h"`
	ByRuleLast24h    map[string]int64     `json:"by_rule_last_24h"`
	ReportsByStatus  map[string]int64     `json:"reports_by_status"`
	TopRules         []*types.Rule        `json:"top_rules"`
}

type OverviewMetadata struct {
	RefreshIntervalSeconds int  `json:"refresh_interval_seconds"`
	SupportsRealTime       bool `json:"supports_real_time"`
}

type Overview struct {
	TotalAccounts   int64            `json:"total_accounts"`
	AnalysesLast24h int64            `json:"analyses_last_24h"`
	ReportsLast24h  int64            `json:"reports_last_24h"`
	DomainsTracked  int              `json:"domains_tracked"`
	JobsByStatus    map[string]int64 `json:"jobs_by_status"`
	Metadata        OverviewMetadata `json:"metadata"`
}

type AnalyticsService interface {
	Domains(ctx context.Context) (*DomainAnalytics, error)
	Scanning(ctx context.Context) (*ScanningAnalytics, error)
	Overview(ctx context.Context) (*Overview, error)
}

type analyticsService struct {
	db       *gorm.DB
	log      *logger.Logger
	accounts repos.AccountRepo
	analyses repos.AnalysisRepo
	reports  repos.ReportRepo
	alerts   repos.DomainAlertRepo
	sessions repos.ScanSessionRepo
	rules    repos.RuleRepo
	jobs     repos.JobRunRepo

	refreshSeconds int
	listLimit      int
}

func NewAnalyticsService(
	db *gorm.DB,
	log *logger.Logger,
	accounts repos.AccountRepo,
	analyses repos.AnalysisRepo,
	reports repos.ReportRepo,
	alerts repos.DomainAlertRepo,
	sessions repos.ScanSessionRepo,
	rules repos.RuleRepo,
	jobs repos.JobRunRepo,
) AnalyticsService {
	return &analyticsService{
		db:             db,
		log:            log.With("service", "Analytics"),
		accounts:       accounts,
		analyses:       analyses,
		reports:        reports,
		alerts:         alerts,
		sessions:       sessions,
		rules:          rules,
		jobs:           jobs,
		refreshSeconds: utils.GetEnvAsInt("ANALYTICS_REFRESH_SECONDS", 30, log),
		listLimit:      utils.GetEnvAsInt("ANALYTICS_LIST_LIMIT", 50, log),
	}
}

func (s *analyticsService) Domains(ctx context.Context) (*DomainAnalytics, error) {
	alerts, err := s.alerts.List(ctx, nil, s.listLimit)
	if err != nil {
		return nil, err
	}
	out := &DomainAnalytics{Domains: alerts, TotalTracked: len(alerts)}
	for _, a := range alerts {
		if a.IsDefederated {
			out.Defederated++
		} else if a.ViolationCount >= int64(a.DefederationThreshold) {
			out.OverThreshold++
		}
	}
	return out, nil
}

func (s *analyticsService) Scanning(ctx context.Context) (*ScanningAnalytics, error) {
	since := time.Now().Add(-24 * time.Hour)

	byStatus, err := s.sessions.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	recent, err := s.sessions.ListRecent(ctx, nil, 10)
	if err != nil {
		return nil, err
	}
	analyses, err := s.analyses.CountSince(ctx, nil, since)
	if err != nil {
		return nil, err
	}
	byRule, err := s.analyses.CountByRuleSince(ctx, nil, since)
	if err != nil {
		return nil, err
	}
	reportsByStatus, err := s.reports.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	topRules, err := s.rules.TopByTriggerCount(ctx, nil, 10)
	if err != nil {
		return nil, err
	}
	return &ScanningAnalytics{
		SessionsByStatus: byStatus,
		RecentSessions:   recent,
		AnalysesLast24h:  analyses,
		ByRuleLast24h:    byRule,
		ReportsByStatus:  reportsByStatus,
		TopRules:         topRules,
	}, nil
}

func (s *analyticsService) Overview(ctx context.Context) (*Overview, error) {
	since := time.Now().Add(-24 * time.Hour)

	accounts, err := s.accounts.CountAll(ctx, nil)
	if err != nil {
		return nil, err
	}
	analyses, err := s.analyses.CountSince(ctx, nil, since)
	if err != nil {
		return nil, err
	}
	reports, err := s.reports.CountSince(ctx, nil, since)
	if err != nil {
		return nil, err
	}
	alerts, err := s.alerts.List(ctx, nil, s.listLimit)
	if err != nil {
		return nil, err
	}
	jobsByStatus, err := s.jobs.CountByStatus(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Overview{
		TotalAccounts:   accounts,
		AnalysesLast24h: analyses,
		ReportsLast24h:  reports,
		DomainsTracked:  len(alerts),
		JobsByStatus:    jobsByStatus,
		Metadata: OverviewMetadata{
			RefreshIntervalSeconds: s.refreshSeconds,
			SupportsRealTime:       true,
		},
	}, nil
}
