package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	OrdersPlaced       Counter
	OrdersFailed       Counter
	RepriceCycles      Counter
	FallbackOrders     Counter
	CampaignsCompleted Counter
	CampaignsAbandoned Counter
	LastPrice          Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:       n,
		OrdersFailed:       n,
		RepriceCycles:      n,
		FallbackOrders:     n,
		CampaignsCompleted: n,
		CampaignsAbandoned: n,
		LastPrice:          noopGauge{},
	}
}
