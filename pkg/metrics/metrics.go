package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Consumer engine
	recordsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_records_consumed_total",
			Help: "Records handled by a subscription, by outcome",
		},
		[]string{"service", "topic", "outcome"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "booking_handler_duration_seconds",
			Help:    "Time from dispatch to ack, including record-level retries",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service", "topic"},
	)

	partitionQueued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "booking_partition_queued_records",
			Help: "Records waiting in in-process partitions",
		},
		[]string{"service", "topic"},
	)

	// Dead letters
	deadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_dead_letter_total",
			Help: "Records handed to the dead-letter publisher, by reason",
		},
		[]string{"topic", "reason"},
	)

	deadLetterFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_dead_letter_failed_total",
			Help: "Dead-letter publishes that failed after their bounded attempts",
		},
		[]string{"topic"},
	)

	// Retry
	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_retry_attempts_total",
			Help: "Retry attempts beyond the first call, by policy",
		},
		[]string{"policy"},
	)

	retryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_retry_exhausted_total",
			Help: "Operations that used up every attempt, by policy",
		},
		[]string{"policy"},
	)

	// Sweeps
	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_sweep_runs_total",
			Help: "Sweep executions, by result",
		},
		[]string{"sweep", "result"},
	)

	sweepAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_sweep_affected_total",
			Help: "Rows changed by sweeps",
		},
		[]string{"sweep"},
	)

	// Outbound messages
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_messages_published_total",
			Help: "Messages published, by topic and result",
		},
		[]string{"topic", "result"},
	)

	// Email
	emailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_emails_total",
			Help: "Notification emails, by template and result",
		},
		[]string{"template", "result"},
	)
)

func RecordConsumed(service, topic, outcome string, d time.Duration) {
	recordsConsumedTotal.WithLabelValues(service, topic, outcome).Inc()
	handlerDuration.WithLabelValues(service, topic).Observe(d.Seconds())
}

func AddQueued(service, topic string, delta float64) {
	partitionQueued.WithLabelValues(service, topic).Add(delta)
}

func RecordDeadLetter(topic, reason string) {
	deadLetterTotal.WithLabelValues(topic, reason).Inc()
}

func RecordDeadLetterFailed(topic string) {
	deadLetterFailedTotal.WithLabelValues(topic).Inc()
}

func RecordRetryAttempt(policy string) {
	retryAttemptsTotal.WithLabelValues(policy).Inc()
}

func RecordRetryExhausted(policy string) {
	retryExhaustedTotal.WithLabelValues(policy).Inc()
}

func RecordSweep(sweep string, affected int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweepRunsTotal.WithLabelValues(sweep, result).Inc()
	if affected > 0 {
		sweepAffected.WithLabelValues(sweep).Add(float64(affected))
	}
}

func RecordPublished(topic string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	publishedTotal.WithLabelValues(topic, result).Inc()
}

func RecordEmail(template string, err error) {
	result := "sent"
	if err != nil {
		result = "failed"
	}
	emailsTotal.WithLabelValues(template, result).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
