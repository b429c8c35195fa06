package database

import (
	"fmt"

	"github.com/elie222/inbox-zero-sub019/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection opens the store selected by cfg.DatabaseDriver.
func NewConnection(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(cfg.DatabaseURL), gormCfg)
	case "postgres", "":
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open %s database: %w", cfg.DatabaseDriver, err)
	}

	if cfg.DatabaseDriver == "sqlite" {
		// A single writer avoids SQLITE_BUSY under the worker pool.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return db, nil
}
