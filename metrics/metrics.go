package metrics

import (
	"net/http"
	"strconv"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "permission_center"

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	handler          http.Handler
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
}

// New creates a private registry with the authorization and HTTP collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authorization_decisions_total",
		Help:      "Authorization decisions by operation and result.",
	}, []string{"operation", "result"})
	decisionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "authorization_duration_seconds",
		Help:      "Time spent resolving authorization queries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency per route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(decisions, decisionDuration, requests, requestDuration)

	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		decisionsTotal:   decisions,
		decisionDuration: decisionDuration,
		requestsTotal:    requests,
		requestDuration:  requestDuration,
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveDecision records one resolved query. err != nil is counted as result="error".
func (m *Metrics) ObserveDecision(operation string, granted bool, err error, started time.Time) {
	if m == nil {
		return
	}
	result := "denied"
	switch {
	case err != nil:
		result = "error"
	case granted:
		result = "granted"
	}
	m.decisionsTotal.WithLabelValues(operation, result).Inc()
	m.decisionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// ObserveQuery records the latency of a set-valued query such as the effective permission set.
func (m *Metrics) ObserveQuery(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.decisionDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Filter is a go-restful container filter recording per-route request counts and latency.
func (m *Metrics) Filter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	if m == nil {
		chain.ProcessFilter(req, resp)
		return
	}
	start := time.Now()
	chain.ProcessFilter(req, resp)

	route := req.SelectedRoutePath()
	if route == "" {
		route = "unknown"
	}
	status := resp.StatusCode()
	if status == 0 {
		status = http.StatusOK
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}
