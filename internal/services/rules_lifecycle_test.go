package services

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/repos"
	"github.com/fediwatch/watcher-backend/internal/types"
)

// newRuleFixture backs the service with a throwaway sqlite file, enough for
// the write lifecycle; the advisory-lock path stays Postgres-only.
func newRuleFixture(t *testing.T) (RuleService, repos.RuleRepo) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "rules.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Rule{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	repo := repos.NewRuleRepo(db, log)
	return NewRuleService(db, log, repo, nil), repo
}

func TestCreateDisabledRuleStaysDisabled(t *testing.T) {
	svc, _ := newRuleFixture(t)
	ctx := context.Background()

	off := false
	created, err := svc.Create(ctx, RuleInput{
		Name:     "muted detector",
		RuleType: types.RuleTypeContentRegex,
		Pattern:  "spam",
		Weight:   weightPtr(1),
		Enabled:  &off,
	}, "op1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Enabled {
		t.Fatal("create with enabled=false stored an enabled rule")
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled {
		t.Fatal("disabled rule re-read as enabled")
	}
}

func TestPatchWithoutEnabledKeepsDisabled(t *testing.T) {
	svc, _ := newRuleFixture(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, RuleInput{
		Name:     "crypto shill",
		RuleType: types.RuleTypeContentRegex,
		Pattern:  "airdrop",
		Weight:   weightPtr(2),
	}, "op1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	off := false
	if _, err := svc.Update(ctx, created.ID, RuleInput{Enabled: &off}, "op1"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	patched, err := svc.Update(ctx, created.ID, RuleInput{Description: "tightened wording"}, "op1")
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.Enabled {
		t.Fatal("description-only patch re-enabled the disabled rule")
	}
	if patched.Description != "tightened wording" {
		t.Fatalf("patch lost the description: %q", patched.Description)
	}

	zeroed, err := svc.Update(ctx, created.ID, RuleInput{Weight: weightPtr(0)}, "op1")
	if err != nil {
		t.Fatalf("zero weight: %v", err)
	}
	if zeroed.Weight != 0 {
		t.Fatalf("explicit weight 0 should stick, got %v", zeroed.Weight)
	}
}

func TestDefaultRuleEditLeavesOriginalUntouched(t *testing.T) {
	svc, repo := newRuleFixture(t)
	ctx := context.Background()

	seed := &types.Rule{
		Name:      "obvious spam",
		RuleType:  types.RuleTypeContentRegex,
		Pattern:   "spam",
		Weight:    1,
		Enabled:   true,
		CreatedBy: types.RuleCreatedBySystem,
	}
	if _, err := repo.Create(ctx, nil, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	edited, err := svc.Update(ctx, seed.ID, RuleInput{Weight: weightPtr(2)}, "op1")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if edited.ID == seed.ID {
		t.Fatal("editing a default must produce a new row")
	}
	if edited.Name != "obvious spam (custom)" {
		t.Fatalf("unexpected copy name %q", edited.Name)
	}
	if edited.CreatedBy != "op1" || edited.Weight != 2 {
		t.Fatalf("copy should carry the patch and the operator: %+v", edited)
	}

	original, err := repo.GetByID(ctx, nil, seed.ID)
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if original.Weight != 1 || !original.Enabled || original.UpdatedBy != "" {
		t.Fatalf("the default row must stay unchanged: %+v", original)
	}

	// Deleting a default stays refused.
	if err := svc.Delete(ctx, seed.ID); err != ErrDefaultRuleImmutable {
		t.Fatalf("expected delete refusal, got %v", err)
	}
}
