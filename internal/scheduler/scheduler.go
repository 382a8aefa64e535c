// Package scheduler runs the periodic overstay scan and the daily retention
// sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatepass-backend/config"
	"gatepass-backend/internal/metrics"
	"gatepass-backend/internal/overstay"
	"gatepass-backend/internal/store"
)

// minDailyDelay keeps the retention loop from spinning when the next run is
// computed to be now.
const minDailyDelay = 10 * time.Second

// Detector is the part of overstay.Detector the scheduler drives.
type Detector interface {
	DetectAndFlag(ctx context.Context, threshold, lookback time.Duration) (overstay.Result, error)
}

// Scheduler owns the background loops. Each loop survives errors from a
// single run and stops only when its context is cancelled.
type Scheduler struct {
	overstayCfg  config.OverstayConfig
	retentionCfg config.RetentionConfig
	detector     Detector
	purger       store.Purger
	metrics      *metrics.Metrics
	log          *zap.Logger
	now          func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. now defaults to time.Now.
func New(cfg *config.Config, detector Detector, purger store.Purger, m *metrics.Metrics, log *zap.Logger, now func() time.Time) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		overstayCfg:  cfg.Overstay,
		retentionCfg: cfg.Retention,
		detector:     detector,
		purger:       purger,
		metrics:      m,
		log:          log.Named("scheduler"),
		now:          now,
	}
}

// Start launches the enabled loops. Calling Start twice without Stop is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	if s.overstayCfg.Enabled && s.detector != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runOverstayLoop(ctx)
		}()
	} else {
		s.log.Info("overstay scan is disabled")
	}

	if s.retentionCfg.Enabled && s.purger != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runRetentionLoop(ctx)
		}()
	} else {
		s.log.Info("retention sweep is disabled")
	}
}

// Stop cancels the loops and waits for an in-flight run to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runOverstayLoop(ctx context.Context) {
	s.log.Info("starting overstay scan",
		zap.Duration("threshold", s.overstayCfg.Threshold),
		zap.Duration("lookback", s.overstayCfg.Lookback),
		zap.Duration("interval", s.overstayCfg.Interval))

	timer := time.NewTimer(s.overstayCfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("overstay scan shutting down")
			return
		case <-timer.C:
			s.ScanOnce(ctx)
			timer.Reset(s.overstayCfg.Interval)
		}
	}
}

// ScanOnce runs one overstay pass and logs its outcome.
func (s *Scheduler) ScanOnce(ctx context.Context) {
	res, err := s.detector.DetectAndFlag(ctx, s.overstayCfg.Threshold, s.overstayCfg.Lookback)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("overstay scan failed", zap.Error(err))
		}
		return
	}
	if res.Flagged > 0 {
		s.log.Info("overstay scan flagged subjects",
			zap.Int("checked", res.Checked),
			zap.Int("flagged", res.Flagged),
			zap.Int("notified", res.Notified))
	}
}

func (s *Scheduler) runRetentionLoop(ctx context.Context) {
	s.log.Info("starting retention sweep",
		zap.Int("months", s.retentionCfg.Months),
		zap.Int("hour", s.retentionCfg.Hour),
		zap.Int("minute", s.retentionCfg.Minute))

	timer := time.NewTimer(s.retentionCfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("retention sweep shutting down")
			return
		case <-timer.C:
			if _, err := s.PurgeOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("retention sweep failed", zap.Error(err))
			}
			timer.Reset(NextDailyDelay(s.now(), s.retentionCfg.Hour, s.retentionCfg.Minute))
		}
	}
}

// PurgeOnce deletes rows older than the retention window.
func (s *Scheduler) PurgeOnce(ctx context.Context) (store.PurgeResult, error) {
	cutoff := s.now().AddDate(0, -s.retentionCfg.Months, 0)
	res, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	s.metrics.RowsPurged("gate_events", res.Events)
	s.metrics.RowsPurged("overstays", res.Overstays)
	s.metrics.RowsPurged("notifications", res.Notifications)
	s.log.Info("retention sweep finished",
		zap.Time("cutoff", res.Cutoff),
		zap.Int64("events", res.Events),
		zap.Int64("overstays", res.Overstays),
		zap.Int64("notifications", res.Notifications))
	return res, nil
}

// NextDailyDelay is the wait from now until the next hour:minute in now's
// location, never less than minDailyDelay.
func NextDailyDelay(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	d := next.Sub(now)
	if d < minDailyDelay {
		return minDailyDelay
	}
	return d
}
