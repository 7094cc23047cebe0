package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	redisclient "github.com/fediwatch/watcher-backend/internal/clients/redis"
	"github.com/fediwatch/watcher-backend/internal/evaluator"
	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
)

// ErrDefaultRuleImmutable is returned when an operator tries to delete a
// seeded rule. Defaults are disabled or copied, never removed.
var ErrDefaultRuleImmutable = errors.New("default rules cannot be deleted; disable them or update to create a custom copy")

var ErrRuleNotFound = errors.New("rule not found")

// Ruleset is the compiled, versioned snapshot handed to the scanner. It is
// immutable once built; a write to any rule produces a new snapshot.
type Ruleset struct {
	Version string
	Rules   []evaluator.CompiledRule
}

// RuleInput is the write payload for rules. Weight and Enabled are pointers
// so a PATCH that omits them is distinguishable from one setting 0 or false.
type RuleInput struct {
	Name        string   `json:"name"`
	RuleType    string   `json:"rule_type"`
	Pattern     string   `json:"pattern"`
	Weight      *float64 `json:"weight"`
	Enabled     *bool    `json:"enabled"`
	Description string   `json:"description"`
}

type RuleService interface {
	List(ctx context.Context) ([]*types.Rule, error)
	Get(ctx context.Context, id uuid.UUID) (*types.Rule, error)
	Create(ctx context.Context, in RuleInput, operator string) (*types.Rule, error)
	// Update edits a custom rule in place. For a seeded default, only an
	// enable/disable toggle applies in place; any edit to matching behavior
	// leaves the default row untouched and creates a "<name> (custom)" copy
	// carrying the edits, which it returns.
	Update(ctx context.Context, id uuid.UUID, in RuleInput, operator string) (*types.Rule, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// ActiveRuleset returns the cached compiled snapshot of enabled rules.
	ActiveRuleset(ctx context.Context) (*Ruleset, error)
	// RecordTriggers bumps per-rule firing stats after an evaluation.
	RecordTriggers(ctx context.Context, tx *gorm.DB, findings []evaluator.Finding) error
	TopTriggered(ctx context.Context, limit int) ([]*types.Rule, error)

	SeedDefaults(ctx context.Context, path string) error
	Invalidate()
}

type ruleService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.RuleRepo
	bus  redisclient.EventBus

	mu     sync.Mutex
	cached *Ruleset
}

func NewRuleService(db *gorm.DB, log *logger.Logger, repo repos.RuleRepo, bus redisclient.EventBus) RuleService {
	return &ruleService{
		db:   db,
		log:  log.With("service", "RuleService"),
		repo: repo,
		bus:  bus,
	}
}

func (s *ruleService) List(ctx context.Context) ([]*types.Rule, error) {
	return s.repo.List(ctx, nil)
}

func (s *ruleService) Get(ctx context.Context, id uuid.UUID) (*types.Rule, error) {
	rule, err := s.repo.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func validateInput(in RuleInput) (*types.Rule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	weight := 1.0
	if in.Weight != nil {
		weight = *in.Weight
	}
	rule := &types.Rule{
		Name:        name,
		RuleType:    in.RuleType,
		Pattern:     in.Pattern,
		Weight:      weight,
		Enabled:     enabled,
		Description: strings.TrimSpace(in.Description),
	}
	// Compile is the single validation point for type, pattern and weight.
	if _, err := evaluator.Compile(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ruleWriteLockKey serializes rule writes so the version hash published
// after a commit always reflects a consistent snapshot.
const ruleWriteLockKey int64 = 0x77617463685f726c

// withRuleLock runs fn inside a transaction holding the rules advisory
// lock. On drivers without advisory locks the transaction alone applies.
func (s *ruleService) withRuleLock(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", ruleWriteLockKey).Error; err != nil {
				return err
			}
		}
		return fn(tx)
	})
}

func (s *ruleService) Create(ctx context.Context, in RuleInput, operator string) (*types.Rule, error) {
	rule, err := validateInput(in)
	if err != nil {
		return nil, err
	}
	rule.CreatedBy = operator
	var created *types.Rule
	err = s.withRuleLock(ctx, func(tx *gorm.DB) error {
		existing, err := s.repo.GetByName(ctx, tx, rule.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("rule %q already exists", rule.Name)
		}
		created, err = s.repo.Create(ctx, tx, rule)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.rulesetChanged(ctx)
	s.log.Info("rule created", "name", created.Name, "type", created.RuleType, "operator", operator)
	return created, nil
}

func (s *ruleService) Update(ctx context.Context, id uuid.UUID, in RuleInput, operator string) (*types.Rule, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Omitted fields keep their current value; a patch that says nothing
	// about enabled must not flip it.
	merged := RuleInput{
		Name:        current.Name,
		RuleType:    current.RuleType,
		Pattern:     current.Pattern,
		Weight:      &current.Weight,
		Enabled:     &current.Enabled,
		Description: current.Description,
	}
	if strings.TrimSpace(in.Name) != "" {
		merged.Name = in.Name
	}
	if in.RuleType != "" {
		merged.RuleType = in.RuleType
	}
	if in.Pattern != "" {
		merged.Pattern = in.Pattern
	}
	if in.Weight != nil {
		merged.Weight = in.Weight
	}
	if in.Enabled != nil {
		merged.Enabled = in.Enabled
	}
	if in.Description != "" {
		merged.Description = in.Description
	}
	validated, err := validateInput(merged)
	if err != nil {
		return nil, err
	}

	if current.IsDefault() {
		// Pure enable/disable toggles apply to the default in place;
		// anything touching the matching behavior produces a custom copy.
		if behaviorUnchanged(current, validated) {
			err := s.withRuleLock(ctx, func(tx *gorm.DB) error {
				return s.repo.UpdateFields(ctx, tx, id, map[string]interface{}{
					"enabled":    validated.Enabled,
					"updated_by": operator,
				})
			})
			if err != nil {
				return nil, err
			}
			s.rulesetChanged(ctx)
			return s.Get(ctx, id)
		}
		// The system row is never touched; toggling it off afterwards is
		// the operator's call via an enabled-only patch.
		copyName := current.Name + " (custom)"
		validated.Name = copyName
		validated.CreatedBy = operator
		var created *types.Rule
		err = s.withRuleLock(ctx, func(tx *gorm.DB) error {
			dup, err := s.repo.GetByName(ctx, tx, copyName)
			if err != nil {
				return err
			}
			if dup != nil {
				return fmt.Errorf("custom copy %q already exists; edit it directly", copyName)
			}
			created, err = s.repo.Create(ctx, tx, validated)
			return err
		})
		if err != nil {
			return nil, err
		}
		s.rulesetChanged(ctx)
		s.log.Info("default rule superseded by custom copy", "default", current.Name, "copy", copyName, "operator", operator)
		return created, nil
	}

	err = s.withRuleLock(ctx, func(tx *gorm.DB) error {
		return s.repo.UpdateFields(ctx, tx, id, map[string]interface{}{
			"name":        validated.Name,
			"rule_type":   validated.RuleType,
			"pattern":     validated.Pattern,
			"weight":      validated.Weight,
			"enabled":     validated.Enabled,
			"description": validated.Description,
			"updated_by":  operator,
		})
	})
	if err != nil {
		return nil, err
	}
	s.rulesetChanged(ctx)
	return s.Get(ctx, id)
}

func behaviorUnchanged(current, next *types.Rule) bool {
	return current.Name == next.Name &&
		current.RuleType == next.RuleType &&
		current.Pattern == next.Pattern &&
		current.Weight == next.Weight &&
		current.Description == next.Description
}

func (s *ruleService) Delete(ctx context.Context, id uuid.UUID) error {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if rule.IsDefault() {
		return ErrDefaultRuleImmutable
	}
	if err := s.withRuleLock(ctx, func(tx *gorm.DB) error {
		return s.repo.Delete(ctx, tx, id)
	}); err != nil {
		return err
	}
	s.rulesetChanged(ctx)
	s.log.Info("rule deleted", "name", rule.Name)
	return nil
}

func (s *ruleService) ActiveRuleset(ctx context.Context) (*Ruleset, error) {
	s.mu.Lock()
	if s.cached != nil {
		rs := s.cached
		s.mu.Unlock()
		return rs, nil
	}
	s.mu.Unlock()

	rows, err := s.repo.ListEnabled(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("loading enabled rules: %w", err)
	}
	compiled := make([]evaluator.CompiledRule, 0, len(rows))
	for _, row := range rows {
		cr, err := evaluator.Compile(row)
		if err != nil {
			// A row that fails to compile slipped past write validation;
			// skip it rather than stall every scan.
			s.log.Error("stored rule does not compile, skipping", "name", row.Name, "error", err)
			continue
		}
		compiled = append(compiled, cr)
	}
	rs := &Ruleset{Version: evaluator.RulesetVersion(compiled), Rules: compiled}

	s.mu.Lock()
	s.cached = rs
	s.mu.Unlock()
	return rs, nil
}

func (s *ruleService) RecordTriggers(ctx context.Context, tx *gorm.DB, findings []evaluator.Finding) error {
	for _, f := range findings {
		sample, err := json.Marshal(map[string]any{
			"matched_terms":      f.MatchedTerms,
			"matched_status_ids": f.MatchedStatusIDs,
			"score":              f.Score,
		})
		if err != nil {
			continue
		}
		if err := s.repo.RecordTrigger(ctx, tx, f.RuleName, int64(f.MatchCount), sample); err != nil {
			return fmt.Errorf("recording trigger for %q: %w", f.RuleName, err)
		}
	}
	return nil
}

func (s *ruleService) TopTriggered(ctx context.Context, limit int) ([]*types.Rule, error) {
	return s.repo.TopByTriggerCount(ctx, nil, limit)
}

type defaultRuleFile struct {
	Rules []struct {
		Name        string  `yaml:"name"`
		Type        string  `yaml:"type"`
		Pattern     string  `yaml:"pattern"`
		Weight      float64 `yaml:"weight"`
		Enabled     *bool   `yaml:"enabled"`
		Description string  `yaml:"description"`
	} `yaml:"rules"`
}

// SeedDefaults inserts any seed rule not already present by name. Existing
// rows are never overwritten, so operator edits survive restarts.
func (s *ruleService) SeedDefaults(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("default rules file missing, skipping seed", "path", path)
			return nil
		}
		return fmt.Errorf("reading default rules: %w", err)
	}
	var file defaultRuleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parsing default rules: %w", err)
	}

	seeded := 0
	for _, entry := range file.Rules {
		weight := entry.Weight
		rule, err := validateInput(RuleInput{
			Name:        entry.Name,
			RuleType:    entry.Type,
			Pattern:     entry.Pattern,
			Weight:      &weight,
			Enabled:     entry.Enabled,
			Description: entry.Description,
		})
		if err != nil {
			return fmt.Errorf("seed rule %q: %w", entry.Name, err)
		}
		existing, err := s.repo.GetByName(ctx, nil, rule.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		rule.CreatedBy = types.RuleCreatedBySystem
		if _, err := s.repo.Create(ctx, nil, rule); err != nil {
			return fmt.Errorf("seeding rule %q: %w", rule.Name, err)
		}
		seeded++
	}
	if seeded > 0 {
		s.rulesetChanged(ctx)
	}
	s.log.Info("default rules seeded", "new", seeded, "total_in_file", len(file.Rules))
	return nil
}

func (s *ruleService) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *ruleService) rulesetChanged(ctx context.Context) {
	s.Invalidate()
	rs, err := s.ActiveRuleset(ctx)
	if err != nil {
		s.log.Warn("could not rebuild ruleset after change", "error", err)
		return
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, redisclient.Event{
			Name: redisclient.EventRulesetChanged,
			At:   time.Now().UTC(),
			Data: map[string]any{"version": rs.Version, "rule_count": len(rs.Rules)},
		})
	}
}
