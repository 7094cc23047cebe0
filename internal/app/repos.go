package app

import (
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
)

type Repos struct {
	Account     repos.AccountRepo
	Analysis    repos.AnalysisRepo
	Config      repos.ConfigRepo
	ContentScan repos.ContentScanRepo
	Cursor      repos.CursorRepo
	DomainAlert repos.DomainAlertRepo
	JobRun      repos.JobRunRepo
	Report      repos.ReportRepo
	Rule        repos.RuleRepo
	ScanSession repos.ScanSessionRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Account:     repos.NewAccountRepo(db, log),
		Analysis:    repos.NewAnalysisRepo(db, log),
		Config:      repos.NewConfigRepo(db, log),
		ContentScan: repos.NewContentScanRepo(db, log),
		Cursor:      repos.NewCursorRepo(db, log),
		DomainAlert: repos.NewDomainAlertRepo(db, log),
		JobRun:      repos.NewJobRunRepo(db, log),
		Report:      repos.NewReportRepo(db, log),
		Rule:        repos.NewRuleRepo(db, log),
		ScanSession: repos.NewScanSessionRepo(db, log),
	}
}
