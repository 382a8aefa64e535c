package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"

	"gatepass-backend/config"
)

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func statement() (string, int64) { return "SELECT 1", 1 }

func TestLogger_TraceLevels(t *testing.T) {
	ctx := context.Background()
	log, logs := observed()
	l := NewLogger(log, logger.Warn)

	l.Trace(ctx, time.Now(), statement, nil)
	assert.Zero(t, logs.Len(), "fast queries are quiet below Info")

	l.Trace(ctx, time.Now(), statement, logger.ErrRecordNotFound)
	assert.Zero(t, logs.Len())

	l.Trace(ctx, time.Now(), statement, errors.New("disk full"))
	failed := logs.FilterMessage("query failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, "gorm", failed[0].LoggerName)
	assert.Equal(t, "SELECT 1", failed[0].ContextMap()["sql"])

	l.Trace(ctx, time.Now().Add(-time.Second), statement, nil)
	assert.Equal(t, 1, logs.FilterMessage("slow query").Len())

	l.LogMode(logger.Info).Trace(ctx, time.Now(), statement, nil)
	assert.Equal(t, 1, logs.FilterMessage("query").Len())
}

func TestLogger_SilentDropsEverything(t *testing.T) {
	log, logs := observed()
	l := NewLogger(log, logger.Warn).LogMode(logger.Silent)

	l.Trace(context.Background(), time.Now(), statement, errors.New("boom"))
	l.Error(context.Background(), "failed %d", 1)
	assert.Zero(t, logs.Len())
}

func TestLogger_Messages(t *testing.T) {
	log, logs := observed()
	l := NewLogger(log, logger.Warn)

	l.Info(context.Background(), "opened %s", "db")
	l.Warn(context.Background(), "retrying %d", 2)
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "retrying 2", entries[0].Message)
}

func TestInit_LogsThroughZap(t *testing.T) {
	log, logs := observed()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "gatepass.db")

	gormDB, err := Init(&config.DatabaseConfig{DSN: dsn, LogQueries: true}, log)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	assert.Equal(t, 1, logs.FilterMessage("database initialization complete").Len())
	assert.NotZero(t, logs.FilterMessage("query").Len())
}
