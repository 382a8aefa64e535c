package db

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gatepass-backend/config"
	"gatepass-backend/internal/model"
)

const sqlitePrefix = "sqlite://"

// Init opens the database connection and runs migrations. A DSN starting
// with sqlite:// opens a SQLite file for local runs; anything else is
// treated as a PostgreSQL DSN.
func Init(cfg *config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.LogQueries {
		logLevel = logger.Info
	}
	gormCfg := &gorm.Config{Logger: NewLogger(log, logLevel)}

	var dialector gorm.Dialector
	if strings.HasPrefix(cfg.DSN, sqlitePrefix) {
		dialector = sqlite.Open(strings.TrimPrefix(cfg.DSN, sqlitePrefix))
	} else {
		dialector = postgres.Open(cfg.DSN)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Info("running database migrations")
	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info("database initialization complete", zap.String("dialect", db.Dialector.Name()))
	return db, nil
}

// Migrate creates or updates every table this service owns or reads.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.GateEvent{},
		&model.Overstay{},
		&model.Account{},
		&model.Notification{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}
