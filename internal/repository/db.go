package repository

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kwong/prefscope/internal/config"
	"github.com/kwong/prefscope/internal/domain"
	"github.com/kwong/prefscope/internal/logger"
)

// NewDB opens the database configured in cfg and runs migrations when
// enabled. SQLite is the default for local runs; Postgres is for shared
// deployments.
func NewDB(cfg *config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	case "sqlite", "":
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if cfg.Driver == "sqlite" || cfg.Driver == "" {
		// WAL keeps readers unblocked while the pipeline writes.
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			log.WithError(err).Warn("failed to enable WAL mode")
		}
		if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
			log.WithError(err).Warn("failed to set busy timeout")
		}
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(
			&domain.TestingJob{},
			&domain.ResponseRecord{},
			&domain.CategoryCount{},
		); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		log.Info("database migrations applied")
	}

	return db, nil
}
