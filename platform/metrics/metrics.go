// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// ConversationsTotal counts conversations by how getOrCreate resolved them.
	ConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_conversations_total",
			Help: "Conversations resolved by getOrCreate, by outcome",
		},
		[]string{"outcome"},
	)

	// CloseClaimsTotal counts close claims by result.
	CloseClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_close_claims_total",
			Help: "Close claim attempts, by result",
		},
		[]string{"result"},
	)

	// CloseRollbacksTotal counts compensations back to active.
	CloseRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_close_rollbacks_total",
			Help: "Closes reverted to active after a failure",
		},
	)

	// SummarizerDuration tracks summarizer latency.
	SummarizerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_summarizer_duration_seconds",
			Help:    "Transcript summarization latency",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)

	// LeadUpsertsTotal counts lead upserts by outcome and key kind.
	LeadUpsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_lead_upserts_total",
			Help: "Lead upserts, by outcome and dedup key",
		},
		[]string{"outcome", "key"},
	)

	// CustomerResolutionsTotal counts identity resolutions by outcome.
	CustomerResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_customer_resolutions_total",
			Help: "Customer identity resolutions, by outcome",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal counts lead notification deliveries.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_lead_notifications_total",
			Help: "Lead notification deliveries, by sink and status",
		},
		[]string{"sink", "status"},
	)

	// SweptConversationsTotal counts conversations touched by the sweeper.
	SweptConversationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_swept_conversations_total",
			Help: "Conversations recovered or scheduled for close by the sweeper",
		},
		[]string{"action"},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, path string, status int, duration time.Duration) {
	RequestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordConversation records how a conversation was obtained.
func RecordConversation(outcome string) {
	ConversationsTotal.WithLabelValues(outcome).Inc()
}

// RecordCloseClaim records whether a close claim was won.
func RecordCloseClaim(won bool) {
	result := "lost"
	if won {
		result = "won"
	}
	CloseClaimsTotal.WithLabelValues(result).Inc()
}

// RecordCloseRollback records a compensation.
func RecordCloseRollback() {
	CloseRollbacksTotal.Inc()
}

// RecordSummarizer records a summarizer call.
func RecordSummarizer(err error, duration time.Duration) {
	SummarizerDuration.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

// RecordLeadUpsert records a lead upsert.
func RecordLeadUpsert(outcome, key string) {
	LeadUpsertsTotal.WithLabelValues(outcome, key).Inc()
}

// RecordCustomerResolution records an identity resolution.
func RecordCustomerResolution(outcome string) {
	CustomerResolutionsTotal.WithLabelValues(outcome).Inc()
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(sink string, err error) {
	NotificationsTotal.WithLabelValues(sink, statusLabel(err)).Inc()
}

// RecordSweep records conversations handled by the sweeper.
func RecordSweep(action string, count int) {
	if count > 0 {
		SweptConversationsTotal.WithLabelValues(action).Add(float64(count))
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
