// Package metrics exposes Prometheus collectors for the check-in desk.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymdesk",
		Name:      "scans_total",
		Help:      "Scans applied to the attendance ledger, by action.",
	}, []string{"action"})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gymdesk",
		Name:      "scan_rejections_total",
		Help:      "Scans that did not reach the ledger, by error kind.",
	}, []string{"kind"})

	occupancyCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gymdesk",
		Name:      "occupancy_current",
		Help:      "Present records for the current day at the last recomputation.",
	})

	capacityMax = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gymdesk",
		Name:      "capacity_max",
		Help:      "Configured maximum occupancy.",
	})
)

// ScanRecorded counts a scan that reached the ledger.
func ScanRecorded(action string) { scansTotal.WithLabelValues(action).Inc() }

// ScanRejected counts a scan refused before any write.
func ScanRejected(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	rejectionsTotal.WithLabelValues(kind).Inc()
}

// Occupancy publishes the latest recomputed occupancy.
func Occupancy(current, max int) {
	occupancyCurrent.Set(float64(current))
	capacityMax.Set(float64(max))
}
