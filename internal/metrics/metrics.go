// Package metrics provides Prometheus metrics for boardfs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	sessionScopesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardfs_session_scopes_total",
			Help: "Total session scope entries (including nested)",
		},
	)

	modeSwitchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfs_mode_switches_total",
			Help: "Physical console mode switches",
		},
		[]string{"direction"},
	)

	execTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfs_exec_total",
			Help: "Total code executions on the device",
		},
		[]string{"status"},
	)

	execDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boardfs_exec_duration_seconds",
			Help:    "Device code execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	interruptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardfs_interrupts_total",
			Help: "Total user interrupts sent to the device",
		},
	)

	// File transfer metrics
	fileBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardfs_file_bytes_read_total",
			Help: "Total bytes read from device files",
		},
	)

	fileBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boardfs_file_bytes_written_total",
			Help: "Total bytes written to device files",
		},
	)

	// Path cache metrics
	statCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfs_stat_cache_total",
			Help: "Stat cache lookups",
		},
		[]string{"result"},
	)

	listingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardfs_listing_cache_total",
			Help: "Directory listing cache lookups within one traversal",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionScope records a session scope entry.
func RecordSessionScope() {
	sessionScopesTotal.Inc()
}

// RecordModeSwitch records a physical console mode switch.
func RecordModeSwitch(toBatch bool) {
	direction := "interactive"
	if toBatch {
		direction = "batch"
	}
	modeSwitchesTotal.WithLabelValues(direction).Inc()
}

// RecordExec records a device code execution.
func RecordExec(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	execTotal.WithLabelValues(status).Inc()
	execDuration.Observe(duration.Seconds())
}

// RecordInterrupt records a user interrupt sent to the device.
func RecordInterrupt() {
	interruptsTotal.Inc()
}

// RecordFileRead records bytes read from a device file.
func RecordFileRead(bytes int64) {
	fileBytesRead.Add(float64(bytes))
}

// RecordFileWrite records bytes written to a device file.
func RecordFileWrite(bytes int64) {
	fileBytesWritten.Add(float64(bytes))
}

// RecordStatCache records a stat cache lookup.
func RecordStatCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	statCacheTotal.WithLabelValues(result).Inc()
}

// RecordListingCache records a listing cache lookup.
func RecordListingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	listingCacheTotal.WithLabelValues(result).Inc()
}
