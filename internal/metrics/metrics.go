// Package metrics holds the Prometheus collectors for the training service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Evaluation sources.
const (
	EvalGenerated       = "generated"
	EvalParseFallback   = "parse_fallback"
	EvalRequestFallback = "request_fallback"
)

// Turn outcomes.
const (
	TurnCompleted    = "completed"
	TurnFailed       = "failed"
	TurnDisconnected = "disconnected"
)

var (
	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrtrainer_sessions_created_total",
			Help: "Training sessions started, by whether the opener was generated or taken from the template",
		},
		[]string{"opener"},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrtrainer_turns_total",
			Help: "Turn exchanges by outcome",
		},
		[]string{"outcome"},
	)

	evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrtrainer_evaluations_total",
			Help: "Session evaluations by source",
		},
		[]string{"source"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrtrainer_generation_duration_seconds",
			Help:    "Text generation latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"operation"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hrtrainer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hrtrainer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(
			sessionsCreatedTotal,
			turnsTotal,
			evaluationsTotal,
			generationDuration,
			httpRequestsTotal,
			httpRequestDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordSessionCreated(generated bool) {
	opener := "template"
	if generated {
		opener = "generated"
	}
	sessionsCreatedTotal.WithLabelValues(opener).Inc()
}

func RecordTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func RecordEvaluation(source string) {
	evaluationsTotal.WithLabelValues(source).Inc()
}

func RecordGeneration(operation string, d time.Duration) {
	generationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func RecordHTTPRequest(route, method, status string, d time.Duration) {
	httpRequestsTotal.WithLabelValues(route, method, status).Inc()
	httpRequestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
