// Package metrics exposes Prometheus instrumentation for the trading core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric the trading core records.
type Collector struct {
	// Order flow
	OrdersTotal  *prometheus.CounterVec
	OrdersActive *prometheus.GaugeVec

	// Matching
	MatchLatency *prometheus.HistogramVec
	StopTriggers *prometheus.CounterVec

	// Trades
	TradesTotal *prometheus.CounterVec
	TradeVolume *prometheus.CounterVec
	TradeValue  *prometheus.CounterVec

	// Book and oracle
	BookDepth   *prometheus.GaugeVec
	OraclePrice *prometheus.GaugeVec

	// Risk and notifications
	AlertsTotal        *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec

	// Transport
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
	WSConnections     prometheus.Gauge
}

// New builds the collector and registers everything with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{}

	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Orders accepted, by final placement outcome",
		},
		[]string{"commodity", "side", "type", "status"},
	)

	c.OrdersActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "enertrade",
			Subsystem: "orders",
			Name:      "active",
			Help:      "Orders currently resting or waiting on a trigger",
		},
		[]string{"commodity"},
	)

	c.MatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enertrade",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Time spent inside one matching pass in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"commodity"},
	)

	c.StopTriggers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "matching",
			Name:      "stop_triggers_total",
			Help:      "Stop orders activated by oracle price updates",
		},
		[]string{"commodity"},
	)

	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Trades executed, split by liquidity source",
		},
		[]string{"commodity", "liquidity"},
	)

	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "trades",
			Name:      "volume",
			Help:      "Traded quantity in commodity units",
		},
		[]string{"commodity"},
	)

	c.TradeValue = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "trades",
			Name:      "value",
			Help:      "Traded notional value",
		},
		[]string{"commodity"},
	)

	c.BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "enertrade",
			Subsystem: "book",
			Name:      "orders",
			Help:      "Resting orders per book side",
		},
		[]string{"commodity", "side"},
	)

	c.OraclePrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "enertrade",
			Subsystem: "oracle",
			Name:      "price",
			Help:      "Latest reference price",
		},
		[]string{"commodity"},
	)

	c.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "risk",
			Name:      "alerts_total",
			Help:      "Risk alerts raised",
		},
		[]string{"type", "severity"},
	)

	c.NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "enertrade",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests served",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "enertrade",
			Subsystem: "api",
			Name:      "request_latency_ms",
			Help:      "HTTP request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "path"},
	)

	c.WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "enertrade",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Open WebSocket stream connections",
		},
	)

	reg.MustRegister(
		c.OrdersTotal,
		c.OrdersActive,
		c.MatchLatency,
		c.StopTriggers,
		c.TradesTotal,
		c.TradeVolume,
		c.TradeValue,
		c.BookDepth,
		c.OraclePrice,
		c.AlertsTotal,
		c.NotificationsTotal,
		c.APIRequestsTotal,
		c.APIRequestLatency,
		c.WSConnections,
	)

	return c
}

// ============ Recording helpers ============

// RecordOrder counts an order by its placement outcome.
func (c *Collector) RecordOrder(commodity, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(commodity, side, orderType, status).Inc()
}

// SetActiveOrders publishes the number of working orders for one commodity.
func (c *Collector) SetActiveOrders(commodity string, n int) {
	c.OrdersActive.WithLabelValues(commodity).Set(float64(n))
}

// RecordTrade counts one execution. liquidity is "book" for fills against
// resting orders and "market" for synthetic counterparty fills.
func (c *Collector) RecordTrade(commodity, liquidity string, volume, value float64) {
	c.TradesTotal.WithLabelValues(commodity, liquidity).Inc()
	c.TradeVolume.WithLabelValues(commodity).Add(volume)
	c.TradeValue.WithLabelValues(commodity).Add(value)
}

// RecordMatchLatency observes one matching pass.
func (c *Collector) RecordMatchLatency(commodity string, elapsed time.Duration) {
	c.MatchLatency.WithLabelValues(commodity).Observe(float64(elapsed.Microseconds()) / 1000.0)
}

// RecordStopTrigger counts a stop activation.
func (c *Collector) RecordStopTrigger(commodity string) {
	c.StopTriggers.WithLabelValues(commodity).Inc()
}

// SetBookDepth publishes the resting order count for one side.
func (c *Collector) SetBookDepth(commodity, side string, orders int) {
	c.BookDepth.WithLabelValues(commodity, side).Set(float64(orders))
}

// SetOraclePrice publishes the latest reference price.
func (c *Collector) SetOraclePrice(commodity string, price float64) {
	c.OraclePrice.WithLabelValues(commodity).Set(price)
}

// RecordAlert counts a risk alert.
func (c *Collector) RecordAlert(alertType, severity string) {
	c.AlertsTotal.WithLabelValues(alertType, severity).Inc()
}

// RecordNotification counts a delivery attempt outcome.
func (c *Collector) RecordNotification(channel, outcome string) {
	c.NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordAPIRequest counts one served request.
func (c *Collector) RecordAPIRequest(method, path, status string, elapsed time.Duration) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(float64(elapsed.Microseconds()) / 1000.0)
}

// AddWSConnection tracks stream connects (+1) and disconnects (-1).
func (c *Collector) AddWSConnection(delta int) {
	c.WSConnections.Add(float64(delta))
}

// Handler serves the metrics endpoint for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
