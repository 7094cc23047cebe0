package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	redisclient "github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
	"github.com/fediwatch/watcher-backend/internal/utils"
)

// Defaults used when a config row is absent.
const (
	defaultReportCategory        = "spam"
	defaultMaxStatusesPerAccount = 40
	defaultMinFindingsToReport   = 1
	defaultReportThreshold       = 1.0
	defaultDefederationThreshold = 10
)

// ConfigService serves the runtime-mutable settings from the config table
// through a short TTL cache. Writes go through Set, which invalidates the
// cache here and broadcasts so other replicas drop theirs too.
type ConfigService interface {
	DryRun(ctx context.Context) bool
	ReportCategoryDefault(ctx context.Context) string
	ForwardRemoteReports(ctx context.Context) bool
	MaxStatusesPerAccount(ctx context.Context) int
	MinFindingsToReport(ctx context.Context) int
	ReportThreshold(ctx context.Context) float64
	DefederationThreshold(ctx context.Context) int
	IsAllowListed(ctx context.Context, acct string) bool

	All(ctx context.Context) (map[string]json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage, updatedBy string) error
	Invalidate()
}

type configService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.ConfigRepo
	bus  redisclient.EventBus
	ttl  time.Duration

	mu       sync.Mutex
	loaded   map[string]json.RawMessage
	loadedAt time.Time
}

var knownConfigKeys = map[string]struct{}{
	types.ConfigKeyDryRun:                {},
	types.ConfigKeyReportCategoryDefault: {},
	types.ConfigKeyForwardRemoteReports:  {},
	types.ConfigKeyMaxStatusesPerAccount: {},
	types.ConfigKeyMinFindingsToReport:   {},
	types.ConfigKeyReportThreshold:       {},
	types.ConfigKeyDefederationThreshold: {},
	types.ConfigKeyAllowListedAccounts:   {},
	types.ConfigKeyLastCacheInvalidation: {},
}

func NewConfigService(db *gorm.DB, log *logger.Logger, repo repos.ConfigRepo, bus redisclient.EventBus) ConfigService {
	ttl := time.Duration(utils.GetEnvAsInt("CONFIG_CACHE_TTL_SECONDS", 15, log)) * time.Second
	return &configService{
		db:   db,
		log:  log.With("service", "ConfigService"),
		repo: repo,
		bus:  bus,
		ttl:  ttl,
	}
}

func (s *configService) snapshot(ctx context.Context) map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded != nil && time.Since(s.loadedAt) < s.ttl {
		return s.loaded
	}
	rows, err := s.repo.GetAll(ctx, nil)
	if err != nil {
		s.log.Warn("config load failed, serving stale or defaults", "error", err)
		if s.loaded != nil {
			return s.loaded
		}
		return map[string]json.RawMessage{}
	}
	m := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		m[row.Key] = json.RawMessage(row.Value)
	}
	s.loaded = m
	s.loadedAt = time.Now()
	return m
}

func (s *configService) boolKey(ctx context.Context, key string, def bool) bool {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn("config value not a bool, using default", "key", key)
		return def
	}
	return v
}

func (s *configService) intKey(ctx context.Context, key string, def int) int {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn("config value not an int, using default", "key", key)
		return def
	}
	return v
}

func (s *configService) floatKey(ctx context.Context, key string, def float64) float64 {
	raw, ok := s.snapshot(ctx)[key]
	if !ok {
		return def
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn("config value not a number, using default", "key", key)
		return def
	}
	return v
}

func (s *configService) DryRun(ctx context.Context) bool {
	return s.boolKey(ctx, types.ConfigKeyDryRun, false)
}

func (s *configService) ReportCategoryDefault(ctx context.Context) string {
	raw, ok := s.snapshot(ctx)[types.ConfigKeyReportCategoryDefault]
	if !ok {
		return defaultReportCategory
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil || v == "" {
		return defaultReportCategory
	}
	return v
}

func (s *configService) ForwardRemoteReports(ctx context.Context) bool {
	return s.boolKey(ctx, types.ConfigKeyForwardRemoteReports, true)
}

func (s *configService) MaxStatusesPerAccount(ctx context.Context) int {
	v := s.intKey(ctx, types.ConfigKeyMaxStatusesPerAccount, defaultMaxStatusesPerAccount)
	if v < 1 {
		return defaultMaxStatusesPerAccount
	}
	return v
}

func (s *configService) MinFindingsToReport(ctx context.Context) int {
	v := s.intKey(ctx, types.ConfigKeyMinFindingsToReport, defaultMinFindingsToReport)
	if v < 1 {
		return defaultMinFindingsToReport
	}
	return v
}

func (s *configService) ReportThreshold(ctx context.Context) float64 {
	return s.floatKey(ctx, types.ConfigKeyReportThreshold, defaultReportThreshold)
}

func (s *configService) DefederationThreshold(ctx context.Context) int {
	v := s.intKey(ctx, types.ConfigKeyDefederationThreshold, defaultDefederationThreshold)
	if v < 1 {
		return defaultDefederationThreshold
	}
	return v
}

func (s *configService) IsAllowListed(ctx context.Context, acct string) bool {
	raw, ok := s.snapshot(ctx)[types.ConfigKeyAllowListedAccounts]
	if !ok {
		return false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		s.log.Warn("allow list is not a string array, ignoring")
		return false
	}
	for _, entry := range list {
		if entry == acct {
			return true
		}
	}
	return false
}

func (s *configService) All(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.repo.GetAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	m := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		m[row.Key] = json.RawMessage(row.Value)
	}
	return m, nil
}

func (s *configService) Set(ctx context.Context, key string, value json.RawMessage, updatedBy string) error {
	if _, ok := knownConfigKeys[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	if !json.Valid(value) {
		return fmt.Errorf("config value for %q is not valid JSON", key)
	}
	if err := s.repo.Set(ctx, nil, key, datatypes.JSON(value), updatedBy); err != nil {
		return fmt.Errorf("saving config %q: %w", key, err)
	}
	s.Invalidate()
	// The invalidation bookkeeping key is written as part of a cache
	// invalidation that already announced itself.
	if s.bus != nil && key != types.ConfigKeyLastCacheInvalidation {
		_ = s.bus.Publish(ctx, redisclient.Event{
			Name: redisclient.EventCacheInvalidated,
			At:   time.Now().UTC(),
			Data: map[string]any{"scope": "config", "key": key},
		})
	}
	s.log.Info("config updated", "key", key, "updated_by", updatedBy)
	return nil
}

func (s *configService) Invalidate() {
	s.mu.Lock()
	s.loaded = nil
	s.mu.Unlock()
}
