package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mount/unmount result labels.
const (
	ResultOK    = "ok"
	ResultBusy  = "busy"
	ResultError = "error"
)

// SnapdirMetrics provides observability for snapshot automount
// operations.
//
// This interface is optional - if not provided to the control
// directory, a no-op implementation is used with zero overhead.
type SnapdirMetrics interface {
	// RecordMount records one external mount helper invocation with
	// its outcome ("ok", "busy", "error").
	RecordMount(result string)

	// RecordUnmount records one external unmount helper invocation
	// with its outcome ("ok", "busy").
	RecordUnmount(result string)

	// RecordExpiry records one expiry callback firing.
	RecordExpiry()

	// RecordExpiryReschedule records an expiry that found its snapshot
	// still mounted (busy) and re-armed the timer.
	RecordExpiryReschedule()

	// SetMountedSnapshots records the current number of live automount
	// entries.
	SetMountedSnapshots(count int)
}

// snapdirMetrics is the Prometheus-backed implementation.
type snapdirMetrics struct {
	mountsTotal      *prometheus.CounterVec
	unmountsTotal    *prometheus.CounterVec
	expiriesTotal    prometheus.Counter
	reschedulesTotal prometheus.Counter
	mountedSnapshots prometheus.Gauge
}

// NewSnapdirMetrics creates snapshot automount metrics registered with
// the global registry.
//
// Returns a no-op implementation when metrics are disabled
// (InitRegistry() not called).
func NewSnapdirMetrics() SnapdirMetrics {
	reg := GetRegistry()
	if reg == nil {
		return noopSnapdirMetrics{}
	}

	return &snapdirMetrics{
		mountsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snapfs",
				Subsystem: "snapdir",
				Name:      "mounts_total",
				Help:      "Snapshot automount attempts by result",
			},
			[]string{"result"},
		),
		unmountsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "snapfs",
				Subsystem: "snapdir",
				Name:      "unmounts_total",
				Help:      "Snapshot unmount attempts by result",
			},
			[]string{"result"},
		),
		expiriesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "snapfs",
				Subsystem: "snapdir",
				Name:      "expiries_total",
				Help:      "Expiry callback firings",
			},
		),
		reschedulesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "snapfs",
				Subsystem: "snapdir",
				Name:      "expiry_reschedules_total",
				Help:      "Expiries re-armed because the snapshot was still busy",
			},
		),
		mountedSnapshots: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "snapfs",
				Subsystem: "snapdir",
				Name:      "mounted_snapshots",
				Help:      "Currently automounted snapshots",
			},
		),
	}
}

func (m *snapdirMetrics) RecordMount(result string) {
	m.mountsTotal.WithLabelValues(result).Inc()
}

func (m *snapdirMetrics) RecordUnmount(result string) {
	m.unmountsTotal.WithLabelValues(result).Inc()
}

func (m *snapdirMetrics) RecordExpiry() {
	m.expiriesTotal.Inc()
}

func (m *snapdirMetrics) RecordExpiryReschedule() {
	m.reschedulesTotal.Inc()
}

func (m *snapdirMetrics) SetMountedSnapshots(count int) {
	m.mountedSnapshots.Set(float64(count))
}

// noopSnapdirMetrics is used when metrics collection is disabled.
type noopSnapdirMetrics struct{}

func (noopSnapdirMetrics) RecordMount(result string)     {}
func (noopSnapdirMetrics) RecordUnmount(result string)   {}
func (noopSnapdirMetrics) RecordExpiry()                 {}
func (noopSnapdirMetrics) RecordExpiryReschedule()       {}
func (noopSnapdirMetrics) SetMountedSnapshots(count int) {}
