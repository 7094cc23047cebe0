package app

import (
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/http/handlers"
	"github.com/fediwatch/watcher-backend/internal/jobs"
	"github.com/fediwatch/watcher-backend/internal/logger"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Rules     *handlers.RuleHandler
	Scanning  *handlers.ScanningHandler
	Analytics *handlers.AnalyticsHandler
	Config    *handlers.ConfigHandler
	Domains   *handlers.DomainHandler
	Health    *handlers.HealthHandler
}

func wireHandlers(db *gorm.DB, log *logger.Logger, clients Clients, serviceset Services, enqueuer *jobs.Enqueuer) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:      handlers.NewAuthHandler(serviceset.Auth),
		Rules:     handlers.NewRuleHandler(serviceset.Rules),
		Scanning:  handlers.NewScanningHandler(serviceset.Scanner, enqueuer),
		Analytics: handlers.NewAnalyticsHandler(serviceset.Analytics),
		Config:    handlers.NewConfigHandler(serviceset.Config),
		Domains:   handlers.NewDomainHandler(serviceset.Domains),
		Health:    handlers.NewHealthHandler(db, clients.Bus, clients.Mastodon),
	}
}
