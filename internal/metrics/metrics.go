package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nimbus_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nimbus_http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)

	// Storage metrics
	FilesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_files_uploaded_total",
			Help: "Total number of files uploaded",
		},
	)

	FilesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_files_purged_total",
			Help: "Total number of rows permanently removed from the trash",
		},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_quota_rejections_total",
			Help: "Operations rejected because they would exceed the owner's storage quota",
		},
		[]string{"operation"},
	)

	// Archive metrics
	ArchivesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_archives_built_total",
			Help: "ZIP archives built, by call site",
		},
		[]string{"source"},
	)

	ArchiveBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nimbus_archive_size_bytes",
			Help:    "Size of generated ZIP archives",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	ArchiveEntriesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nimbus_archive_entries_skipped_total",
			Help: "Files left out of archives because no blob could be located",
		},
	)

	// Share metrics
	ShareVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_share_verifications_total",
			Help: "Share verification attempts by outcome",
		},
		[]string{"result"},
	)

	// Authentication metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nimbus_login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"status"},
	)
)

// RecordHTTPRequest records metrics for an HTTP request
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := httpStatusClass(status)
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

func httpStatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	}
	return "unknown"
}

// RecordArchive records a finished archive build.
func RecordArchive(source string, size int, skipped int) {
	ArchivesBuilt.WithLabelValues(source).Inc()
	ArchiveBytes.Observe(float64(size))
	ArchiveEntriesSkipped.Add(float64(skipped))
}

// RecordShareVerification increments the verification counter for result
// ("verified", "expired", "bad_code", "not_found", "limit_reached", "error").
func RecordShareVerification(result string) {
	ShareVerifications.WithLabelValues(result).Inc()
}

// RecordLogin increments login attempt counter
func RecordLogin(success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	LoginAttempts.WithLabelValues(status).Inc()
}
