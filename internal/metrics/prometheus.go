package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_grid_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	intentsEmitted   prometheus.Counter
	ordersPlaced     prometheus.Counter
	ordersCancelled  prometheus.Counter
	ordersRejected   prometheus.Counter
	ordersFailed     prometheus.Counter
	positionsFlushed prometheus.Counter
	gatePauses       prometheus.Counter
	gateResumes      prometheus.Counter
	tickErrors       prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	intentsEmitted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "intents_emitted_total",
		Help:      "Total number of order intents emitted by the decision engines.",
	})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders placed.",
	})
	ordersCancelled := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_cancelled_total",
		Help:      "Total number of orders cancelled by reconciliation.",
	})
	ordersRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_rejected_total",
		Help:      "Total number of orders the exchange rejected.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order placement failures after retries.",
	})
	positionsFlushed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "positions_flushed_total",
		Help:      "Total number of positions closed by a volatility flush.",
	})
	gatePauses := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "gate_pauses_total",
		Help:      "Total number of gatekeeper pause transitions.",
	})
	gateResumes := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "gate_resumes_total",
		Help:      "Total number of gatekeeper resume transitions.",
	})
	tickErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "tick_errors_total",
		Help:      "Total number of instrument ticks that ended in an error.",
	})

	registry.MustRegister(
		intentsEmitted, ordersPlaced, ordersCancelled, ordersRejected,
		ordersFailed, positionsFlushed, gatePauses, gateResumes, tickErrors,
	)

	m := &Metrics{
		IntentsEmitted:   promCounter{intentsEmitted},
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersCancelled:  promCounter{ordersCancelled},
		OrdersRejected:   promCounter{ordersRejected},
		OrdersFailed:     promCounter{ordersFailed},
		PositionsFlushed: promCounter{positionsFlushed},
		GatePauses:       promCounter{gatePauses},
		GateResumes:      promCounter{gateResumes},
		TickErrors:       promCounter{tickErrors},
	}

	return &Prometheus{
		Metrics:          m,
		registry:         registry,
		intentsEmitted:   intentsEmitted,
		ordersPlaced:     ordersPlaced,
		ordersCancelled:  ordersCancelled,
		ordersRejected:   ordersRejected,
		ordersFailed:     ordersFailed,
		positionsFlushed: positionsFlushed,
		gatePauses:       gatePauses,
		gateResumes:      gateResumes,
		tickErrors:       tickErrors,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
