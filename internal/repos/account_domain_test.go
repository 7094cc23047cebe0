package repos

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/types"
)

// sqliteDB backs a repo with a throwaway sqlite file; the account table has
// no Postgres-only machinery, so the domain walk is testable without a DSN.
func sqliteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "repos.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := db.AutoMigrate(&types.Account{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestListByDomainUnlimited(t *testing.T) {
	repo := NewAccountRepo(sqliteDB(t), testLogger(t))
	ctx := context.Background()

	accounts := make([]*types.Account, 0, 120)
	for i := 0; i < 120; i++ {
		accounts = append(accounts, &types.Account{
			MastodonAccountID: fmt.Sprintf("a%03d", i),
			Acct:              fmt.Sprintf("user%03d@bulk.example", i),
			Domain:            "bulk.example",
		})
	}
	accounts = append(accounts, &types.Account{
		MastodonAccountID: "other",
		Acct:              "someone@else.example",
		Domain:            "else.example",
	})
	if err := repo.UpsertSightings(ctx, nil, accounts); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := repo.ListByDomain(ctx, nil, "bulk.example", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 120 {
		t.Fatalf("limit 0 should return the whole domain, got %d of 120", len(all))
	}

	capped, err := repo.ListByDomain(ctx, nil, "bulk.example", 50)
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if len(capped) != 50 {
		t.Fatalf("explicit limit should apply, got %d", len(capped))
	}
}
