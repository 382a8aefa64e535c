package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatepass-backend/config"
	"gatepass-backend/internal/model"
	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/store"
	"gatepass-backend/internal/storetest"
)

type countingDetector struct {
	calls atomic.Int32
	err   error
}

func (d *countingDetector) DetectAndFlag(ctx context.Context, threshold, lookback time.Duration) (overstay.Result, error) {
	d.calls.Add(1)
	return overstay.Result{Checked: 1}, d.err
}

type countingPurger struct {
	calls  atomic.Int32
	cutoff atomic.Pointer[time.Time]
}

func (p *countingPurger) PurgeBefore(ctx context.Context, cutoff time.Time) (store.PurgeResult, error) {
	p.calls.Add(1)
	p.cutoff.Store(&cutoff)
	return store.PurgeResult{Cutoff: cutoff}, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Overstay.InitialDelay = time.Millisecond
	cfg.Overstay.Interval = 5 * time.Millisecond
	cfg.Retention.Enabled = false
	return cfg
}

func TestScheduler_OverstayLoopKeepsRunningAfterErrors(t *testing.T) {
	det := &countingDetector{err: errors.New("db down")}
	s := New(testConfig(), det, nil, nil, zap.NewNop(), nil)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return det.calls.Load() >= 3 }, time.Second, time.Millisecond)
	s.Stop()

	after := det.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, det.calls.Load())
}

func TestScheduler_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Overstay.Enabled = false
	det := &countingDetector{}
	s := New(cfg, det, nil, nil, zap.NewNop(), nil)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()
	assert.Zero(t, det.calls.Load())
}

func TestScheduler_RetentionRunsAfterInitialDelay(t *testing.T) {
	cfg := testConfig()
	cfg.Overstay.Enabled = false
	cfg.Retention.Enabled = true
	cfg.Retention.InitialDelay = time.Millisecond
	now := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	p := &countingPurger{}
	s := New(cfg, nil, p, nil, zap.NewNop(), func() time.Time { return now })

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, time.Millisecond)
	s.Stop()

	// The next run is the following day, so only one sweep happens here.
	assert.Equal(t, int32(1), p.calls.Load())
	assert.True(t, p.cutoff.Load().Equal(now.AddDate(0, -3, 0)))
}

func TestScheduler_PurgeOnceDeletesOldRows(t *testing.T) {
	ctx := context.Background()
	gormDB := storetest.NewDB(t)
	s := store.NewGormStore(gormDB)
	now := time.Date(2024, 6, 1, 3, 10, 0, 0, time.UTC)

	old := now.AddDate(0, -4, 0)
	_, err := s.AppendEvent(ctx, &model.GateEvent{SubjectID: "S1", Action: model.ActionCheckOut, Timestamp: old, CreatedAt: old})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, &model.GateEvent{SubjectID: "S1", Action: model.ActionCheckIn, Timestamp: now, CreatedAt: now})
	require.NoError(t, err)

	sch := New(config.Default(), nil, s, nil, zap.NewNop(), func() time.Time { return now })
	res, err := sch.PurgeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Events)

	left, err := s.QueryEvents(ctx, store.EventQuery{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, model.ActionCheckIn, left[0].Action)
}

func TestNextDailyDelay(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		want time.Duration
	}{
		{"later today", time.Date(2024, 1, 1, 1, 10, 0, 0, time.UTC), 2 * time.Hour},
		{"already passed", time.Date(2024, 1, 1, 4, 10, 0, 0, time.UTC), 23 * time.Hour},
		{"exactly now", time.Date(2024, 1, 1, 3, 10, 0, 0, time.UTC), 24 * time.Hour},
		{"floor", time.Date(2024, 1, 1, 3, 9, 55, 0, time.UTC), minDailyDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDailyDelay(tt.now, 3, 10))
		})
	}
}
