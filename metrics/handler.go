package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbplane/go-dbplane-common/redis"
)

func requestsCounterMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbplane_requests_total",
			Help: "Total number of requests by service, method, resource and status.",
		},
		[]string{"service", "method", "resource", "status"},
	)
}

// bucket limits are in seconds...
func requestsLatencyMetric() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbplane_requests_latency",
			Help:    "Histogram of time to reply to request.",
			Buckets: []float64{.005, .01, .02, .04, .08, .16, .32},
		},
		[]string{"service", "method", "resource"},
	)
}

// we have to intercept the ResponseWriter in order to get the statuscode
type LoggingResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (lrw *LoggingResponseWriter) WriteHeader(code int) {
	lrw.StatusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// NewLatencyMetricsHandler wraps h with request count and latency
// instrumentation. Safe on a nil receiver: the handler is returned
// unwrapped.
func (m *Metrics) NewLatencyMetricsHandler(h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	m.log.Debugf("NewLatencyMetricsHandler")

	counter := requestsCounterMetric()
	latency := requestsLatencyMetric()
	m.Register(counter, latency)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WriteHeader(int) is not called if the response implicitly
		// returns 200 OK, so we default to that status code.
		lrw := &LoggingResponseWriter{
			ResponseWriter: w,
			StatusCode:     http.StatusOK,
		}

		start := time.Now()
		h.ServeHTTP(lrw, r)
		elapsed := time.Since(start).Seconds()

		resource := "/"
		if fields := strings.SplitN(strings.Trim(r.URL.Path, "/ "), "/", 2); fields[0] != "" {
			resource = fields[0]
		}
		counter.WithLabelValues(m.serviceName, r.Method, resource, strconv.Itoa(lrw.StatusCode)).Inc()
		latency.WithLabelValues(m.serviceName, r.Method, resource).Observe(elapsed)
	})
}

// RegisterPoolStats exposes the cache client's pool occupancy as gauges
// polled at scrape time.
func (m *Metrics) RegisterPoolStats(client *redis.CacheClient) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{"service": m.serviceName}
	m.Register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "dbplane_cache_pool_size",
			Help:        "Connections currently owned by the pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(client.Pool().Stats().Size) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "dbplane_cache_pool_in_use",
			Help:        "Connections currently borrowed from the pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(client.Pool().Stats().InUse) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "dbplane_cache_pool_idle",
			Help:        "Connections currently idle in the pool.",
			ConstLabels: labels,
		}, func() float64 { return float64(client.Pool().Stats().Idle) }),
	)
}
