package overstay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gatepass-backend/internal/metrics"
	"gatepass-backend/internal/store"
)

// Reconciler closes open flags when their subject checks back in.
type Reconciler struct {
	flags   store.FlagStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewReconciler creates a reconciler.
func NewReconciler(flags store.FlagStore, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{flags: flags, log: log.Named("reconcile"), metrics: m}
}

// Reconcile resolves every open flag for subjectID as of at. It must be
// called after the check-in is durably stored. Calling it for a subject with
// nothing open is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, subjectID string, at time.Time) (int64, error) {
	n, err := r.flags.ResolveOpenFor(ctx, subjectID, at)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.metrics.FlagsReconciled(n)
		r.log.Info("overstay resolved by check-in", zap.String("subject_id", subjectID), zap.Int64("flags", n))
	}
	if n > 1 {
		r.log.Warn("subject had more than one open overstay", zap.String("subject_id", subjectID), zap.Int64("flags", n))
	}
	return n, nil
}
