// Package metrics provides Prometheus metrics for monitoring the
// reservation service.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AttemptsTotal counts booking attempts by outcome.
	AttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pistabot_attempts_total",
			Help: "Total booking attempts by result",
		},
		[]string{"result"},
	)

	// AttemptDuration tracks how long booking attempts take.
	AttemptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pistabot_attempt_duration_seconds",
			Help:    "Booking attempt duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s to ~128s
		},
	)

	// QueueRequests shows queued requests by state.
	QueueRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pistabot_queue_requests",
			Help: "Requests in the queue by state",
		},
		[]string{"state"},
	)

	// CourtsConfigured shows the configured court count.
	CourtsConfigured = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pistabot_courts_configured",
			Help: "Number of configured courts",
		},
	)

	// CourtsAvailable shows how many court pages are healthy.
	CourtsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pistabot_courts_available",
			Help: "Healthy court pages in the pool",
		},
	)

	// PagesAcquired counts per-court page acquisitions.
	PagesAcquired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pistabot_pages_acquired_total",
			Help: "Total court page acquisitions",
		},
	)

	// PagesRefreshed counts maintenance and pre-window refreshes.
	PagesRefreshed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pistabot_pages_refreshed_total",
			Help: "Total court page refreshes",
		},
	)

	// RecoveryAttempts counts recovery tries by strategy and outcome.
	RecoveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pistabot_recovery_attempts_total",
			Help: "Recovery attempts by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	// NotificationsTotal counts user notifications by event.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pistabot_notifications_total",
			Help: "User notifications by event",
		},
		[]string{"event"},
	)

	// DispatchesTotal counts window dispatches.
	DispatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pistabot_dispatches_total",
			Help: "Total booking-window dispatches",
		},
	)

	// MemoryUsageBytes shows current memory usage.
	MemoryUsageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pistabot_memory_usage_bytes",
			Help: "Current memory usage in bytes (alloc)",
		},
	)

	// GoroutineCount shows current goroutine count.
	GoroutineCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pistabot_goroutines",
			Help: "Current number of goroutines",
		},
	)

	// BuildInfo provides build information as labels.
	BuildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pistabot_build_info",
			Help: "Build information",
		},
		[]string{"version", "go_version"},
	)
)

func init() {
	prometheus.MustRegister(
		AttemptsTotal,
		AttemptDuration,
		QueueRequests,
		CourtsConfigured,
		CourtsAvailable,
		PagesAcquired,
		PagesRefreshed,
		RecoveryAttempts,
		NotificationsTotal,
		DispatchesTotal,
		MemoryUsageBytes,
		GoroutineCount,
		BuildInfo,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// RecordAttempt records a completed booking attempt.
func RecordAttempt(result string, duration time.Duration) {
	AttemptsTotal.WithLabelValues(result).Inc()
	AttemptDuration.Observe(duration.Seconds())
}

// RecordRecovery records one recovery try.
func RecordRecovery(strategy string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	RecoveryAttempts.WithLabelValues(strategy, outcome).Inc()
}

// UpdatePoolMetrics updates the court pool gauges.
func UpdatePoolMetrics(configured, available int) {
	CourtsConfigured.Set(float64(configured))
	CourtsAvailable.Set(float64(available))
}

// UpdateQueueMetrics sets the per-state queue gauge.
func UpdateQueueMetrics(state string, count int) {
	QueueRequests.WithLabelValues(state).Set(float64(count))
}

// StartRuntimeCollector periodically updates process-level metrics until
// stopCh closes.
func StartRuntimeCollector(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			MemoryUsageBytes.Set(float64(m.Alloc))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		case <-stopCh:
			return
		}
	}
}
