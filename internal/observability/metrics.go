package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	webhookNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_notifications_total",
			Help: "Inbound payment notifications by intake result",
		},
		[]string{"result"},
	)

	reconciliationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "Reconciliation attempts by outcome",
		},
		[]string{"outcome"},
	)

	reconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconciliation_duration_seconds",
			Help:    "Time spent reconciling one notification",
			Buckets: prometheus.DefBuckets,
		},
	)

	inventoryDecrementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_decrements_total",
			Help: "Conditional stock decrements by result",
		},
		[]string{"result"},
	)

	gatewayLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_lookup_duration_seconds",
			Help:    "Authoritative payment lookup latency including retries",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"result"},
	)

	dispatchQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "webhook_dispatch_queue_depth",
			Help: "Notifications waiting for a reconciliation worker",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(webhookNotificationsTotal)
	prometheus.MustRegister(reconciliationOutcomesTotal)
	prometheus.MustRegister(reconciliationDuration)
	prometheus.MustRegister(inventoryDecrementsTotal)
	prometheus.MustRegister(gatewayLookupDuration)
	prometheus.MustRegister(dispatchQueueDepth)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware labels requests by their chi route pattern so path
// parameters do not explode cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordWebhookNotification(result string) {
	webhookNotificationsTotal.WithLabelValues(result).Inc()
}

func RecordReconciliation(outcome string, elapsed time.Duration) {
	reconciliationOutcomesTotal.WithLabelValues(outcome).Inc()
	reconciliationDuration.Observe(elapsed.Seconds())
}

func RecordDecrement(result string) {
	inventoryDecrementsTotal.WithLabelValues(result).Inc()
}

func RecordGatewayLookup(result string, elapsed time.Duration) {
	gatewayLookupDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func SetDispatchQueueDepth(n int) {
	dispatchQueueDepth.Set(float64(n))
}
