package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// trackerMetrics mirrors the teacher's pkg/metrics/prometheus cacheMetrics
// shape: one struct of promauto-registered collectors, a package-level
// instance guarded against double registration.
type trackerMetrics struct {
	residentBytes   *prometheus.GaugeVec
	residentCount   *prometheus.GaugeVec
	pendingAsync    prometheus.Gauge
	registeredTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *trackerMetrics
)

// EnableMetrics registers the tracking table's Prometheus collectors
// against reg (nil selects prometheus.DefaultRegisterer). Call once during
// process startup, alongside EnableTracking — idempotent, so a test harness
// that calls it repeatedly across cases is safe.
func EnableMetrics(reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metricsInst = &trackerMetrics{
			residentBytes: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
				Name: "bulkdata_resident_bytes",
				Help: "Resident payload bytes per tracked label.",
			}, []string{"label"}),
			residentCount: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
				Name: "bulkdata_resident_instances",
				Help: "Number of tracked instances currently resident per label.",
			}, []string{"label"}),
			pendingAsync: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
				Name: "bulkdata_pending_async_fetches",
				Help: "Number of tracked instances with an outstanding, unharvested async fetch.",
			}),
			registeredTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
				Name: "bulkdata_tracked_registrations_total",
				Help: "Total number of instances ever registered with the tracking table.",
			}),
		}
	})
}

// RefreshMetrics recomputes every gauge from the current tracking table
// snapshot. The hot Register/Unregister path does not touch these gauges
// directly, so it does no per-label gauge work; callers refresh periodically (a
// ticker, or each DumpUsage call, which does this automatically).
func RefreshMetrics() {
	if metricsInst == nil {
		return
	}

	type aggregate struct {
		bytes int64
		count int
	}
	byLabel := make(map[string]aggregate)
	pending := 0

	for _, u := range Snapshot() {
		agg := byLabel[u.Label]
		if u.Resident {
			agg.bytes += u.Bytes
			agg.count++
		}
		if u.AsyncPending {
			pending++
		}
		byLabel[u.Label] = agg
	}

	metricsInst.residentBytes.Reset()
	metricsInst.residentCount.Reset()
	for label, agg := range byLabel {
		metricsInst.residentBytes.WithLabelValues(label).Set(float64(agg.bytes))
		metricsInst.residentCount.WithLabelValues(label).Set(float64(agg.count))
	}
	metricsInst.pendingAsync.Set(float64(pending))
}
