// Package storetest provides database fixtures shared by package tests.
package storetest

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gatepass-backend/internal/db"
	"gatepass-backend/internal/model"
)

var dbSeq atomic.Int64

// NewDB opens a private in-memory SQLite database with the full schema.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:gatepass_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	// One connection keeps the shared in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// SeedAdmins inserts approved admin accounts with the given ids.
func SeedAdmins(t *testing.T, gormDB *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, gormDB.Create(&model.Account{
			ID:        id,
			Role:      model.RoleAdmin,
			Approved:  true,
			CreatedAt: time.Now().UTC(),
		}).Error)
	}
}

// Clock is a settable clock for tests.
type Clock struct {
	now atomic.Pointer[time.Time]
}

// NewClock returns a clock fixed at t.
func NewClock(t time.Time) *Clock {
	c := &Clock{}
	c.Set(t)
	return c
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return *c.now.Load() }

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) { c.now.Store(&t) }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.Set(c.Now().Add(d)) }
