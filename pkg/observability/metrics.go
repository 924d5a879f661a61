package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kubelens/kubelens/pkg/aggregate"
)

// Metrics holds the Prometheus metrics of the dashboard server.
// It uses a custom registry to avoid polluting the global default.
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Cluster fan-out metrics
	ClusterFetchDuration *prometheus.HistogramVec
	ClusterFetchFailures *prometheus.CounterVec

	// Poller metrics
	PollerRefreshes *prometheus.CounterVec
	PollerQueries   prometheus.Gauge

	// Push metrics
	ToastsTotal          *prometheus.CounterVec
	WebSocketConnections prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics
// registered on a custom registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubelens_http_requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubelens_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ClusterFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kubelens_cluster_fetch_duration_seconds",
			Help:    "Duration of per-cluster list fetches in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cluster"}),
		ClusterFetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubelens_cluster_fetch_failures_total",
			Help: "Total number of failed per-cluster list fetches.",
		}, []string{"cluster", "error_type"}),

		PollerRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubelens_poller_refreshes_total",
			Help: "Total number of accepted polling results.",
		}, []string{"result"}),
		PollerQueries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubelens_poller_queries",
			Help: "Current number of active polling queries.",
		}),

		ToastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubelens_toasts_total",
			Help: "Total number of toast notifications sent.",
		}, []string{"type"}),
		WebSocketConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kubelens_websocket_connections",
			Help: "Current number of authenticated WebSocket connections.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ClusterFetchDuration,
		m.ClusterFetchFailures,
		m.PollerRefreshes,
		m.PollerQueries,
		m.ToastsTotal,
		m.WebSocketConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveClusterFetch records one cluster's fetch. It makes Metrics an
// aggregate.Observer.
func (m *Metrics) ObserveClusterFetch(cluster string, elapsed time.Duration, err error) {
	m.ClusterFetchDuration.WithLabelValues(cluster).Observe(elapsed.Seconds())
	if err != nil {
		m.ClusterFetchFailures.WithLabelValues(cluster, aggregate.ClassifyError(err.Error())).Inc()
	}
}

// ObserveRequest records one HTTP request. route is the matched route
// pattern, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObservePoll records one accepted polling result.
func (m *Metrics) ObservePoll(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PollerRefreshes.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

var _ aggregate.Observer = (*Metrics)(nil)
