package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fediwatch/watcher-backend/internal/types"
)

// AutoMigrateAll migrates the full model set. Order matters only for the
// foreign-key'd tables; accounts first.
func (s *Service) AutoMigrateAll() error {
	if err := autoMigrateAll(s.db); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return nil
}

func autoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
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
	)
}
