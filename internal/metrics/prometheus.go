package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "cb_dca_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_placed_total",
		Help:      "Total number of orders the venue accepted.",
	})
	ordersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "orders_failed_total",
		Help:      "Total number of order submissions the venue rejected.",
	})
	repriceCycles := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "reprice_cycles_total",
		Help:      "Total number of reprice cycles run.",
	})
	fallbackOrders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "fallback_orders_total",
		Help:      "Total number of fallback market orders placed.",
	})
	campaignsCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "campaigns_completed_total",
		Help:      "Total number of campaigns that filled their notional.",
	})
	campaignsAbandoned := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "campaigns_abandoned_total",
		Help:      "Total number of campaigns abandoned with a remainder.",
	})
	lastPrice := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "last_trade_price",
		Help:      "Last trade price observed on the ticker feed.",
	})

	registry.MustRegister(ordersPlaced, ordersFailed, repriceCycles, fallbackOrders,
		campaignsCompleted, campaignsAbandoned, lastPrice)

	return &Prometheus{
		Metrics: &Metrics{
			OrdersPlaced:       promCounter{ordersPlaced},
			OrdersFailed:       promCounter{ordersFailed},
			RepriceCycles:      promCounter{repriceCycles},
			FallbackOrders:     promCounter{fallbackOrders},
			CampaignsCompleted: promCounter{campaignsCompleted},
			CampaignsAbandoned: promCounter{campaignsAbandoned},
			LastPrice:          promGauge{lastPrice},
		},
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
