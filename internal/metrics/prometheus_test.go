package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.IntentsEmitted.Inc()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.OrdersCancelled.Inc()
	prom.Metrics.OrdersRejected.Inc()
	prom.Metrics.OrdersFailed.Inc()
	prom.Metrics.PositionsFlushed.Inc()
	prom.Metrics.GatePauses.Inc()
	prom.Metrics.GateResumes.Inc()
	prom.Metrics.TickErrors.Inc()

	assertCounter(t, prom.intentsEmitted, 1)
	assertCounter(t, prom.ordersPlaced, 1)
	assertCounter(t, prom.ordersCancelled, 1)
	assertCounter(t, prom.ordersRejected, 1)
	assertCounter(t, prom.ordersFailed, 1)
	assertCounter(t, prom.positionsFlushed, 1)
	assertCounter(t, prom.gatePauses, 1)
	assertCounter(t, prom.gateResumes, 1)
	assertCounter(t, prom.tickErrors, 1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
