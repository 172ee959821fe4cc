package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbplane/go-dbplane-common/breaker"
	"github.com/dbplane/go-dbplane-common/logger"
	"github.com/dbplane/go-dbplane-common/redis"
)

func TestCacheObserverCounts(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	m := New(logger.Sugar, "TestService")
	o := NewCacheObserver(m)

	o.ObserveOperation(redis.OperationEvent{Operation: "GET", Duration: time.Millisecond, Success: true})
	o.ObserveOperation(redis.OperationEvent{Operation: "GET", Duration: time.Millisecond, Success: false})
	o.ObserveBreakerTransition(breaker.Event{Name: "cache", From: breaker.Closed, To: breaker.Open})
	o.ObserveSessionOutcome(redis.SessionHit)
	o.ObserveSessionOutcome(redis.SessionMiss)

	assert.Equal(t, 1.0, testutil.ToFloat64(o.operations.WithLabelValues("testservice", "GET", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.operations.WithLabelValues("testservice", "GET", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.transitions.WithLabelValues("testservice", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.sessions.WithLabelValues("testservice", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.sessions.WithLabelValues("testservice", "miss")))
}

func TestPromHandlerServesRegisteredMetrics(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	m := New(logger.Sugar, "TestService")
	o := NewCacheObserver(m)
	o.ObserveSessionOutcome(redis.SessionHit)

	rec := httptest.NewRecorder()
	m.NewPromHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dbplane_session_cache_outcomes_total")
}

func TestLatencyMetricsHandler(t *testing.T) {
	logger.New("NOOP")
	defer logger.OnExit()

	m := New(logger.Sugar, "TestService")
	wrapped := m.NewLatencyMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/validate", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	m.NewPromHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `dbplane_requests_total{method="GET",resource="sessions",service="testservice",status="418"} 1`)
}

// A nil Metrics means metrics are disabled and everything passes through.
func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics

	assert.Equal(t, "", m.Port())
	assert.Nil(t, m.NewServer())

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.NewLatencyMetricsHandler(h))
	m.RegisterPoolStats(nil)
}
