// Package metrics holds the Prometheus collectors for the overstay core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	registry *prometheus.Registry

	DetectorRuns     *prometheus.CounterVec
	DetectorDuration prometheus.Histogram
	FlagsCreated     prometheus.Counter
	Notifications    *prometheus.CounterVec
	Reconciled       prometheus.Counter
	Purged           *prometheus.CounterVec
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		DetectorRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "overstay_scans_total",
			Help:      "Overstay scans by mode and outcome.",
		}, []string{"mode", "outcome"}),
		DetectorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gatepass",
			Name:      "overstay_scan_duration_seconds",
			Help:      "Wall time of overstay scans.",
			Buckets:   prometheus.DefBuckets,
		}),
		FlagsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "overstay_flags_created_total",
			Help:      "Overstay flags created.",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "overstay_notifications_total",
			Help:      "Overstay notifications by delivery outcome.",
		}, []string{"outcome"}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "overstay_flags_reconciled_total",
			Help:      "Overstay flags closed by a check-in.",
		}),
		Purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatepass",
			Name:      "retention_purged_rows_total",
			Help:      "Rows removed by the retention sweep.",
		}, []string{"table"}),
	}
	reg.MustRegister(
		m.DetectorRuns,
		m.DetectorDuration,
		m.FlagsCreated,
		m.Notifications,
		m.Reconciled,
		m.Purged,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ScanFinished(mode string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.DetectorRuns.WithLabelValues(mode, outcome).Inc()
	m.DetectorDuration.Observe(seconds)
}

func (m *Metrics) FlagCreated() {
	if m == nil {
		return
	}
	m.FlagsCreated.Inc()
}

func (m *Metrics) NotificationSent(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Notifications.WithLabelValues("failed").Inc()
		return
	}
	m.Notifications.WithLabelValues("sent").Inc()
}

func (m *Metrics) FlagsReconciled(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Reconciled.Add(float64(n))
}

func (m *Metrics) RowsPurged(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Purged.WithLabelValues(table).Add(float64(n))
}
