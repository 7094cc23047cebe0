package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	redisclient "github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/observability"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
)

var ErrDomainNotFound = errors.New("domain not tracked")

// DomainService accumulates per-domain violation counts and raises the
// threshold event. It never calls the upstream federation block itself; the
// operator confirms and writes the defederation back.
type DomainService interface {
	// RecordViolation bumps the domain's count and publishes
	// domain_threshold_exceeded when the count crosses the threshold of a
	// not-yet-defederated domain.
	RecordViolation(ctx context.Context, tx *gorm.DB, domain string) (*types.DomainAlert, error)
	List(ctx context.Context, limit int) ([]*types.DomainAlert, error)
	Get(ctx context.Context, domain string) (*types.DomainAlert, error)
	Reset(ctx context.Context, domain, operator string) error
	// MarkDefederated records that the operator executed the block upstream.
	MarkDefederated(ctx context.Context, domain, operator, notes string) error
	SetThreshold(ctx context.Context, domain string, threshold int, operator string) error
}

type domainService struct {
	db      *gorm.DB
	log     *logger.Logger
	alerts  repos.DomainAlertRepo
	config  ConfigService
	bus     redisclient.EventBus
	metrics *observability.Metrics
}

func NewDomainService(db *gorm.DB, log *logger.Logger, alerts repos.DomainAlertRepo, config ConfigService, bus redisclient.EventBus, metrics *observability.Metrics) DomainService {
	return &domainService{
		db:      db,
		log:     log.With("service", "DomainService"),
		alerts:  alerts,
		config:  config,
		bus:     bus,
		metrics: metrics,
	}
}

func (s *domainService) RecordViolation(ctx context.Context, tx *gorm.DB, domain string) (*types.DomainAlert, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return nil, fmt.Errorf("domain required")
	}
	alert, err := s.alerts.IncrementViolation(ctx, tx, domain, s.config.DefederationThreshold(ctx))
	if err != nil {
		return nil, fmt.Errorf("incrementing violations for %s: %w", domain, err)
	}

	if alert.ViolationCount >= int64(alert.DefederationThreshold) && !alert.IsDefederated {
		s.metrics.DomainThresholds.Inc()
		s.log.Warn("domain crossed defederation threshold",
			"domain", domain,
			"violations", alert.ViolationCount,
			"threshold", alert.DefederationThreshold)
		if s.bus != nil {
			_ = s.bus.Publish(ctx, redisclient.Event{
				Name: redisclient.EventDomainThresholdExceeded,
				At:   time.Now().UTC(),
				Data: map[string]any{
					"domain":    domain,
					"count":     alert.ViolationCount,
					"threshold": alert.DefederationThreshold,
				},
			})
		}
	}
	return alert, nil
}

func (s *domainService) List(ctx context.Context, limit int) ([]*types.DomainAlert, error) {
	return s.alerts.List(ctx, nil, limit)
}

func (s *domainService) Get(ctx context.Context, domain string) (*types.DomainAlert, error) {
	alert, err := s.alerts.GetByDomain(ctx, nil, strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, ErrDomainNotFound
	}
	return alert, nil
}

func (s *domainService) Reset(ctx context.Context, domain, operator string) error {
	if _, err := s.Get(ctx, domain); err != nil {
		return err
	}
	if err := s.alerts.ResetViolations(ctx, nil, strings.ToLower(strings.TrimSpace(domain)), operator); err != nil {
		return fmt.Errorf("resetting %s: %w", domain, err)
	}
	s.log.Info("domain violations reset", "domain", domain, "operator", operator)
	return nil
}

func (s *domainService) MarkDefederated(ctx context.Context, domain, operator, notes string) error {
	if _, err := s.Get(ctx, domain); err != nil {
		return err
	}
	if err := s.alerts.SetDefederated(ctx, nil, strings.ToLower(strings.TrimSpace(domain)), operator, notes); err != nil {
		return fmt.Errorf("marking %s defederated: %w", domain, err)
	}
	s.log.Info("domain marked defederated", "domain", domain, "operator", operator)
	return nil
}

func (s *domainService) SetThreshold(ctx context.Context, domain string, threshold int, operator string) error {
	if threshold < 1 {
		return fmt.Errorf("threshold must be >= 1")
	}
	if _, err := s.Get(ctx, domain); err != nil {
		return err
	}
	if err := s.alerts.UpdateFields(ctx, nil, strings.ToLower(strings.TrimSpace(domain)), map[string]interface{}{
		"defederation_threshold": threshold,
	}); err != nil {
		return fmt.Errorf("updating threshold for %s: %w", domain, err)
	}
	s.log.Info("domain threshold updated", "domain", domain, "threshold", threshold, "operator", operator)
	return nil
}
