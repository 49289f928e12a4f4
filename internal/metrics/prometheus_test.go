package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusCountersExposed(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.OrdersPlaced.Inc()
	prom.Metrics.RepriceCycles.Inc()
	prom.Metrics.RepriceCycles.Inc()
	prom.Metrics.LastPrice.Set(50000)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	prom.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"cb_dca_bot_orders_placed_total 1",
		"cb_dca_bot_reprice_cycles_total 2",
		"cb_dca_bot_last_trade_price 50000",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.OrdersPlaced.Inc()
	m.CampaignsAbandoned.Inc()
	m.LastPrice.Set(1)
}
