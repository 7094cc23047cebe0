package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/db"
	"github.com/fediwatch/watcher-backend/internal/http/middleware"
	"github.com/fediwatch/watcher-backend/internal/jobs"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	worker    *jobs.Worker
	scheduler *jobs.Scheduler
	enqueuer  *jobs.Enqueuer

	traceShutdown func(context.Context) error
	cancel        context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pg, err := db.New(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	theDB := pg.DB()

	clientset, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	metrics := observability.NewMetrics()
	traceShutdown := observability.InitTracing(context.Background(), log, observability.TraceConfig{
		ServiceName: "watcher-backend",
		Environment: logMode,
		Version:     os.Getenv("APP_VERSION"),
	})

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(theDB, log, clientset, reposet, metrics)
	if err != nil {
		log.Sync()
		return nil, err
	}

	seedPath := utils.GetEnv("RULES_SEED_PATH", "configs/default_rules.yaml", log)
	if err := serviceset.Rules.SeedDefaults(context.Background(), seedPath); err != nil {
		log.Warn("Rule seeding failed", "error", err, "path", seedPath)
	}

	registry := jobs.NewRegistry()
	if err := jobs.RegisterAll(registry, log, serviceset.Scanner, serviceset.Reporter, clientset.Governor, reposet.JobRun, reposet.ScanSession, metrics); err != nil {
		log.Sync()
		return nil, fmt.Errorf("register job handlers: %w", err)
	}
	enqueuer := jobs.NewEnqueuer(theDB, log, reposet.JobRun)
	worker := jobs.NewWorker(theDB, log, reposet.JobRun, registry, metrics)
	scheduler := jobs.NewScheduler(log, enqueuer)

	handlerset := wireHandlers(theDB, log, clientset, serviceset, enqueuer)
	authMiddleware := middleware.NewAuthMiddleware(log, serviceset.Auth)
	router := wireRouter(log, metrics, authMiddleware, handlerset)

	return &App{
		Log:           log,
		DB:            theDB,
		Router:        router,
		Clients:       clientset,
		Repos:         reposet,
		Services:      serviceset,
		Metrics:       metrics,
		worker:        worker,
		scheduler:     scheduler,
		enqueuer:      enqueuer,
		traceShutdown: traceShutdown,
	}, nil
}

// Start launches the worker pool, the periodic scheduler, and the event
// forwarder. Safe to call once.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.worker.Start(ctx)
	a.scheduler.Start(ctx)

	return a.Clients.Bus.StartForwarder(ctx, func(ev redis.Event) {
		switch ev.Name {
		case redis.EventRulesetChanged:
			a.Services.Rules.Invalidate()
		case redis.EventCacheInvalidated:
			a.Services.Config.Invalidate()
		}
	})
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.traceShutdown(ctx)
		cancel()
	}
	if a.Clients.Bus != nil {
		a.Clients.Bus.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
