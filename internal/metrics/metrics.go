package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	gatherer        prometheus.Gatherer
	rewardGrants    *prometheus.CounterVec
	attemptWrites   *prometheus.CounterVec
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		rewardGrants: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reward_grants_total",
			Help: "Reward grant calls by outcome",
		}, []string{"reason", "outcome"}),
		attemptWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "attempt_writes_total",
			Help: "Attempt mutations by operation and scope type",
		}, []string{"op", "scope"}),
		requestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "endpoint"}),
	}
}

func (m *Metrics) RewardGrant(reason, outcome string) {
	if m == nil {
		return
	}
	m.rewardGrants.WithLabelValues(reason, outcome).Inc()
}

func (m *Metrics) AttemptWrite(op string, eventScoped bool) {
	if m == nil {
		return
	}
	scope := "standalone"
	if eventScoped {
		scope = "event"
	}
	m.attemptWrites.WithLabelValues(op, scope).Inc()
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(elapsed.Seconds())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
