package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbplane/go-dbplane-common/breaker"
	"github.com/dbplane/go-dbplane-common/redis"
)

func cacheOperationsMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbplane_cache_operations_total",
			Help: "Total cache operations by service, operation and outcome.",
		},
		[]string{"service", "operation", "outcome"},
	)
}

// bucket limits are in seconds...
func cacheLatencyMetric() *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbplane_cache_operation_latency",
			Help:    "Histogram of time to complete a cache operation.",
			Buckets: []float64{.001, .002, .005, .01, .02, .04, .08, .16, .32},
		},
		[]string{"service", "operation"},
	)
}

func breakerTransitionsMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbplane_cache_breaker_transitions_total",
			Help: "Circuit breaker state transitions by service and target state.",
		},
		[]string{"service", "to"},
	)
}

func sessionOutcomesMetric() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbplane_session_cache_outcomes_total",
			Help: "Session cache lookups by service and outcome (hit, miss, error).",
		},
		[]string{"service", "outcome"},
	)
}

// CacheObserver bridges cache client events onto prometheus collectors. It
// satisfies the client's Observer interface.
type CacheObserver struct {
	serviceName string
	log         Logger

	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	sessions    *prometheus.CounterVec
}

// NewCacheObserver registers the cache collectors and returns the observer
// to hand to the cache client.
func NewCacheObserver(m *Metrics) *CacheObserver {
	o := &CacheObserver{
		serviceName: strings.ToLower(m.serviceName),
		log:         m.log,
		operations:  cacheOperationsMetric(),
		latency:     cacheLatencyMetric(),
		transitions: breakerTransitionsMetric(),
		sessions:    sessionOutcomesMetric(),
	}
	m.Register(o.operations, o.latency, o.transitions, o.sessions)
	return o
}

func (o *CacheObserver) ObserveOperation(e redis.OperationEvent) {
	outcome := "success"
	if !e.Success {
		outcome = "failure"
	}
	o.operations.WithLabelValues(o.serviceName, e.Operation, outcome).Inc()
	o.latency.WithLabelValues(o.serviceName, e.Operation).Observe(e.Duration.Seconds())
}

func (o *CacheObserver) ObserveBreakerTransition(e breaker.Event) {
	o.log.Infof("breaker %s: %s -> %s", e.Name, e.From, e.To)
	o.transitions.WithLabelValues(o.serviceName, e.To.String()).Inc()
}

func (o *CacheObserver) ObserveSessionOutcome(outcome string) {
	o.sessions.WithLabelValues(o.serviceName, outcome).Inc()
}
