package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	IntentsEmitted   Counter
	OrdersPlaced     Counter
	OrdersCancelled  Counter
	OrdersRejected   Counter
	OrdersFailed     Counter
	PositionsFlushed Counter
	GatePauses       Counter
	GateResumes      Counter
	TickErrors       Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		IntentsEmitted:   n,
		OrdersPlaced:     n,
		OrdersCancelled:  n,
		OrdersRejected:   n,
		OrdersFailed:     n,
		PositionsFlushed: n,
		GatePauses:       n,
		GateResumes:      n,
		TickErrors:       n,
	}
}
