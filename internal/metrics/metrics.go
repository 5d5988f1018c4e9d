package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SpreadPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "spread_percent", Help: "Latest derivative minus spot spread in percent"},
		[]string{"symbol"},
	)
	Volatility = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "spread_volatility", Help: "Population stddev of the retained spread history"},
		[]string{"symbol"},
	)
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "exchange_requests_total", Help: "REST calls by path and outcome"},
		[]string{"path", "outcome"},
	)
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "exchange_request_seconds", Help: "REST call latency", Buckets: prometheus.DefBuckets},
		[]string{"path"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Order legs submitted"},
		[]string{"symbol", "segment", "side"},
	)
	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trades_total", Help: "Completed hedged trades"},
		[]string{"symbol", "type"},
	)
	PartialFillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "partial_fills_total", Help: "Order pairs left with one leg open"},
		[]string{"symbol"},
	)
	IterationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "loop_iteration_errors_total", Help: "Failed loop iterations by error kind"},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(SpreadPercent, Volatility, RequestsTotal, RequestLatency, OrdersTotal, TradesTotal, PartialFillsTotal, IterationErrors)
}

// Handler exposes the default registry for mounting on an existing router.
func Handler() http.Handler {
	return promhttp.Handler()
}
