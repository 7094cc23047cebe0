package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/services"
)

type Services struct {
	Auth      services.AuthService
	Config    services.ConfigService
	Rules     services.RuleService
	Reporter  services.ReporterService
	Domains   services.DomainService
	Scanner   services.ScannerService
	Analytics services.AnalyticsService
}

func wireServices(db *gorm.DB, log *logger.Logger, clients Clients, reposet Repos, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")
	auth, err := services.NewAuthService(log, clients.Mastodon)
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}
	config := services.NewConfigService(db, log, reposet.Config, clients.Bus)
	rules := services.NewRuleService(db, log, reposet.Rule, clients.Bus)
	reporter := services.NewReporterService(db, log, reposet.Report, clients.Mastodon, config, metrics)
	domains := services.NewDomainService(db, log, reposet.DomainAlert, config, clients.Bus, metrics)
	scanner := services.NewScannerService(
		db,
		log,
		clients.Mastodon,
		rules,
		config,
		reporter,
		domains,
		clients.Bus,
		metrics,
		reposet.Account,
		reposet.Analysis,
		reposet.Cursor,
		reposet.ContentScan,
		reposet.ScanSession,
	)
	analytics := services.NewAnalyticsService(
		db,
		log,
		reposet.Account,
		reposet.Analysis,
		reposet.Report,
		reposet.DomainAlert,
		reposet.ScanSession,
		reposet.Rule,
		reposet.JobRun,
	)
	return Services{
		Auth:      auth,
		Config:    config,
		Rules:     rules,
		Reporter:  reporter,
		Domains:   domains,
		Scanner:   scanner,
		Analytics: analytics,
	}, nil
}
