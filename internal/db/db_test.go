package db

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/fediwatch/watcher-backend/internal/logger"
	"github.com/fediwatch/watcher-backend/internal/types"
)

// The sqlite dev mode has to migrate the same model set as Postgres, which
// means no SQL-function column defaults anywhere in the models.
func TestSQLiteMigratesFullModelSet(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "watcher.db"))
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	svc, err := New(log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if svc.Postgres() {
		t.Fatal("DB_DRIVER=sqlite opened something else")
	}
	if err := svc.AutoMigrateAll(); err != nil {
		t.Fatalf("automigrate on sqlite: %v", err)
	}

	// Values the column defaults used to supply now come from Go; a disabled
	// rule must survive the round trip.
	rule := &types.Rule{
		ID:        uuid.New(),
		Name:      "quiet detector",
		RuleType:  types.RuleTypeContentRegex,
		Pattern:   "spam",
		Weight:    1,
		Enabled:   false,
		CreatedBy: "op1",
	}
	if err := svc.DB().Create(rule).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	var got types.Rule
	if err := svc.DB().First(&got, "name = ?", "quiet detector").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if got.Enabled {
		t.Fatal("enabled=false did not survive the round trip")
	}
	if got.ID != rule.ID {
		t.Fatalf("id changed on insert: %s vs %s", got.ID, rule.ID)
	}
}
