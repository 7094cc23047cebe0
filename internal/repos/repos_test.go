package repos

import (
	"context"
	"os"
	"testing"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

// testDB opens the database named by TEST_POSTGRES_DSN and migrates the model
// set. Tests are skipped when the variable is unset so the suite stays green
// on machines without a local Postgres.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if err := db.AutoMigrate(
		&types.Account{},
		&types.Rule{},
		&types.Analysis{},
		&types.Report{},
		&types.Cursor{},
		&types.ConfigEntry{},
		&types.DomainAlert{},
		&types.ScanSession{},
		&types.ContentScan{},
		&types.JobRun{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// testTx hands each test its own transaction, rolled back afterwards so runs
// never see each other's rows.
func testTx(t *testing.T) *gorm.DB {
	t.Helper()
	tx := testDB(t).Begin()
	if tx.Error != nil {
		t.Fatalf("begin: %v", tx.Error)
	}
	t.Cleanup(func() { tx.Rollback() })
	return tx
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func TestConfigRepoSetOverwrites(t *testing.T) {
	tx := testTx(t)
	repo := NewConfigRepo(tx, testLogger(t))
	ctx := context.Background()

	if err := repo.Set(ctx, tx, "dry_run", datatypes.JSON(`true`), "op1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set(ctx, tx, "dry_run", datatypes.JSON(`false`), "op2"); err != nil {
		t.Fatalf("second set: %v", err)
	}

	entry, err := repo.Get(ctx, tx, "dry_run")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry == nil {
		t.Fatal("entry missing")
	}
	if string(entry.Value) != "false" {
		t.Fatalf("value = %s, want false", entry.Value)
	}
	if entry.UpdatedBy != "op2" {
		t.Fatalf("updated_by = %q, want op2", entry.UpdatedBy)
	}
}

func TestCursorRepoLifecycle(t *testing.T) {
	tx := testTx(t)
	repo := NewCursorRepo(tx, testLogger(t))
	ctx := context.Background()

	got, err := repo.Get(ctx, tx, types.CursorRemoteAccounts)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no cursor, got %+v", got)
	}

	if err := repo.Set(ctx, tx, types.CursorRemoteAccounts, "page-100"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.Set(ctx, tx, types.CursorRemoteAccounts, "page-200"); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, err = repo.Get(ctx, tx, types.CursorRemoteAccounts)
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if got == nil || got.Position != "page-200" {
		t.Fatalf("cursor = %+v, want page-200", got)
	}

	if err := repo.Clear(ctx, tx, types.CursorRemoteAccounts); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = repo.Get(ctx, tx, types.CursorRemoteAccounts)
	if err != nil {
		t.Fatalf("get after clear: %v", err)
	}
	if got != nil {
		t.Fatalf("cursor should be gone, got %+v", got)
	}
}

func TestReportRepoInsertDedupes(t *testing.T) {
	tx := testTx(t)
	repo := NewReportRepo(tx, testLogger(t))
	ctx := context.Background()

	first := &types.Report{
		MastodonAccountID: "123",
		DedupeKey:         "dup-key",
		Status:            types.ReportStatusFiled,
	}
	inserted, err := repo.Insert(ctx, tx, first)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !inserted {
		t.Fatal("first insert should land")
	}

	second := &types.Report{
		MastodonAccountID: "123",
		DedupeKey:         "dup-key",
		Status:            types.ReportStatusFiled,
	}
	inserted, err = repo.Insert(ctx, tx, second)
	if err != nil {
		t.Fatalf("dedupe insert: %v", err)
	}
	if inserted {
		t.Fatal("same dedupe key must not insert twice")
	}
}

func TestJobRunRepoClaimAndGuard(t *testing.T) {
	tx := testTx(t)
	repo := NewJobRunRepo(tx, testLogger(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, tx, []*types.JobRun{{
		JobType:  types.JobTypeFederatedScan,
		ScanKind: types.ScanSessionTypeFederated,
		Status:   types.JobStatusQueued,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d rows, want 1", len(created))
	}

	active, err := repo.HasActiveScan(ctx, tx, types.ScanSessionTypeFederated)
	if err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !active {
		t.Fatal("queued job should trip the singleflight guard")
	}

	claimed, err := repo.ClaimNextRunnable(ctx, tx, 5, 30*time.Second, 5*time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != created[0].ID {
		t.Fatalf("claimed %+v, want the created job", claimed)
	}
	if claimed.Status != types.JobStatusRunning {
		t.Fatalf("claim should flip status to running, got %s", claimed.Status)
	}

	// Nothing else is runnable now.
	again, err := repo.ClaimNextRunnable(ctx, tx, 5, 30*time.Second, 5*time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Fatalf("no job should be claimable, got %+v", again)
	}

	// Canceled rows reject late writes.
	if err := repo.UpdateFields(ctx, tx, claimed.ID, map[string]interface{}{"status": types.JobStatusCanceled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	changed, err := repo.UpdateFieldsUnlessStatus(ctx, tx, claimed.ID, []string{types.JobStatusCanceled}, map[string]interface{}{"progress": 50})
	if err != nil {
		t.Fatalf("guarded update: %v", err)
	}
	if changed {
		t.Fatal("guarded update must not touch a canceled row")
	}
}

func TestRuleRepoTriggerBookkeeping(t *testing.T) {
	tx := testTx(t)
	repo := NewRuleRepo(tx, testLogger(t))
	ctx := context.Background()

	rule, err := repo.Create(ctx, tx, &types.Rule{
		Name:      "trigger-test",
		RuleType:  types.RuleTypeContentRegex,
		Pattern:   "spam",
		Weight:    1,
		Enabled:   true,
		CreatedBy: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.RecordTrigger(ctx, tx, rule.Name, 3, datatypes.JSON(`{"sample":"spam spam"}`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := repo.RecordTrigger(ctx, tx, rule.Name, 2, datatypes.JSON(`{"sample":"more spam"}`)); err != nil {
		t.Fatalf("second record: %v", err)
	}

	got, err := repo.GetByID(ctx, tx, rule.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TriggerCount != 5 {
		t.Fatalf("trigger_count = %d, want 5", got.TriggerCount)
	}
	if got.LastTriggeredAt == nil {
		t.Fatal("last_triggered_at should be set")
	}
}

func TestDomainAlertIncrement(t *testing.T) {
	tx := testTx(t)
	repo := NewDomainAlertRepo(tx, testLogger(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.IncrementViolation(ctx, tx, "spam.example", 10); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	alert, err := repo.GetByDomain(ctx, tx, "spam.example")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if alert == nil || alert.ViolationCount != 3 {
		t.Fatalf("alert = %+v, want count 3", alert)
	}
	if alert.DefederationThreshold != 10 {
		t.Fatalf("threshold = %d, want the default 10", alert.DefederationThreshold)
	}
}
