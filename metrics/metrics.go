package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbplane/go-dbplane-common/environment"
	"github.com/dbplane/go-dbplane-common/httpserver"
	"github.com/dbplane/go-dbplane-common/logger"
)

type Logger = logger.Logger

// Metrics. Only those metrics explicitly registered are returned. The
// GoCollector and ProcessCollector metrics are omitted by using our own
// registry.
type Metrics struct {
	serviceName string
	port        string
	registry    *prometheus.Registry
	log         Logger
}

type MetricsOption func(*Metrics)

func New(log Logger, serviceName string, opts ...MetricsOption) *Metrics {
	m := Metrics{
		log:         log,
		serviceName: strings.ToLower(serviceName),
		registry:    prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	return &m
}

// NewFromEnvironment returns nil when USE_METRICS is not truthy; a nil
// *Metrics is safe to use everywhere and does nothing.
func NewFromEnvironment(log Logger, serviceName string, opts ...MetricsOption) *Metrics {
	if !environment.GetTruthy("USE_METRICS") {
		return nil
	}
	m := New(log, serviceName, opts...)
	m.port = environment.GetOrFatal("METRICS_PORT")
	return m
}

func (m *Metrics) String() string {
	return m.serviceName
}

func (m *Metrics) Register(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

func (m *Metrics) Port() string {
	if m != nil {
		return m.port
	}
	return ""
}

// NewPromHandler serves the registry, usually on a port separate from the
// service itself. The default InstrumentMetricHandler is suppressed.
func (m *Metrics) NewPromHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns a listener serving the registry on the configured
// metrics port, nil when metrics are disabled.
func (m *Metrics) NewServer() *httpserver.Server {
	if m == nil || m.port == "" {
		return nil
	}
	return httpserver.New(m.log, "metrics", m.port, m.NewPromHandler())
}
