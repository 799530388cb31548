// Package metrics provides Prometheus metrics for the workspace client and
// the reference server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Envelope outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeAPIError  = "api_error"
	OutcomeTransport = "transport_error"
	OutcomeTimeout   = "timeout"
)

var (
	// Client envelope metrics
	envelopesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileverse_client_envelopes_total",
			Help: "Total envelopes sent by the client",
		},
		[]string{"operation", "outcome"},
	)

	envelopeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fileverse_client_envelope_duration_seconds",
			Help:    "Round trip time of one envelope in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Session metrics
	sessionExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileverse_client_session_expired_total",
			Help: "Sessions torn down after an invalid_session reply",
		},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileverse_client_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	// Save protocol metrics
	savesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileverse_client_saves_total",
			Help: "Delete-then-create saves by result",
		},
		[]string{"result"},
	)

	saveRecoveryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fileverse_client_save_recovery_attempts_total",
			Help: "Create retries issued after the delete half of a save succeeded",
		},
	)

	// Server metrics
	serverRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fileverse_server_requests_total",
			Help: "Envelopes handled by the reference server",
		},
		[]string{"operation", "status"},
	)

	serverSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fileverse_server_sessions_active",
			Help: "Live session tokens held by the reference server",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEnvelope records one client round trip.
func RecordEnvelope(operation, outcome string, duration time.Duration) {
	envelopesTotal.WithLabelValues(operation, outcome).Inc()
	envelopeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSessionExpired records a forced logout.
func RecordSessionExpired() {
	sessionExpiredTotal.Inc()
}

// RecordLogin records a login attempt.
func RecordLogin(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	loginsTotal.WithLabelValues(result).Inc()
}

// RecordSave records the outcome of a save: "success", "error" or "partial".
func RecordSave(result string) {
	savesTotal.WithLabelValues(result).Inc()
}

// RecordSaveRecoveryAttempt records one retried create.
func RecordSaveRecoveryAttempt() {
	saveRecoveryAttempts.Inc()
}

// RecordServerRequest records an envelope handled by the reference server.
func RecordServerRequest(operation, status string) {
	serverRequestsTotal.WithLabelValues(operation, status).Inc()
}

// SetServerSessionsActive sets the number of live server sessions.
func SetServerSessionsActive(count int) {
	serverSessionsActive.Set(float64(count))
}
