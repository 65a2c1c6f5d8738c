// Package metrics Prometheus 指标与状态 HTTP 服务。
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/betbot/spotmm/internal/core"
	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/execution"
)

const namespace = "spotmm"

// Metrics 实现 core.Recorder 与 execution.Observer。
type Metrics struct {
	reg *prometheus.Registry

	depthEvents   prometheus.Counter
	rejects       *prometheus.CounterVec
	actions       *prometheus.CounterVec
	actionLatency *prometheus.HistogramVec
	fills         *prometheus.CounterVec
	fillQuote     *prometheus.CounterVec

	quoteBalance  prometheus.Gauge
	rateCount     prometheus.Gauge
	openOrders    *prometheus.GaugeVec
	canceledPool  prometheus.Gauge
	acquiredQty   prometheus.Gauge
	acquiredValue prometheus.Gauge
}

var (
	_ core.Recorder      = (*Metrics)(nil)
	_ execution.Observer = (*Metrics)(nil)
)

// New 创建独立 registry 的指标集合（含 Go 运行时与进程指标）
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		depthEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "depth_events_total",
			Help: "Depth snapshots processed",
		}),
		rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "buy_rejections_total",
			Help: "Buy candidates rejected, by reason",
		}, []string{"reason"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_actions_total",
			Help: "Executor actions by action, side and result",
		}, []string{"action", "side", "result"}),
		actionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "order_action_seconds",
			Help:    "REST latency of executor actions",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"action"}),
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fills_total",
			Help: "Trade executions, by side",
		}, []string{"side"}),
		fillQuote: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fill_quote_volume_total",
			Help: "Quote asset volume filled, by side",
		}, []string{"side"}),
		quoteBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "quote_balance",
			Help: "Locally tracked available quote balance",
		}),
		rateCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rate_window_count",
			Help: "Orders counted in the current rate window",
		}),
		openOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "open_orders",
			Help: "Open orders tracked locally, by side",
		}, []string{"side"}),
		canceledPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "canceled_pool_size",
			Help: "Canceled sell orders waiting for restore",
		}),
		acquiredQty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "acquired_qty",
			Help: "Base quantity bought but not yet offered for sale",
		}),
		acquiredValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "acquired_value",
			Help: "Quote cost of the acquired lot",
		}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.depthEvents, m.rejects, m.actions, m.actionLatency, m.fills, m.fillQuote,
		m.quoteBalance, m.rateCount, m.openOrders, m.canceledPool, m.acquiredQty, m.acquiredValue,
	)
	return m
}

// Registry 指标 registry
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveDepth() { m.depthEvents.Inc() }

func (m *Metrics) ObserveReject(reason string) { m.rejects.WithLabelValues(reason).Inc() }

func (m *Metrics) ObserveFill(r *domain.ExecutionReport) {
	side := sideLabel(r.Side)
	m.fills.WithLabelValues(side).Inc()
	m.fillQuote.WithLabelValues(side).Add(r.FillQuoteValue().InexactFloat64())
}

func (m *Metrics) ObserveAction(ev execution.ActionEvent) {
	m.actions.WithLabelValues(string(ev.Action), sideLabel(ev.Side), ev.Result).Inc()
	if ev.Latency > 0 {
		m.actionLatency.WithLabelValues(string(ev.Action)).Observe(ev.Latency.Seconds())
	}
}

// TrackStatus 用引擎快照刷新状态类 gauge
func (m *Metrics) TrackStatus(st core.Status) {
	m.quoteBalance.Set(parseFloat(st.QuoteBalance))
	m.rateCount.Set(float64(st.RateCount))
	m.openOrders.WithLabelValues("buy").Set(float64(len(st.BuyOrders)))
	m.openOrders.WithLabelValues("sell").Set(float64(len(st.SellOrders)))
	m.canceledPool.Set(float64(st.CanceledPool))
	m.acquiredQty.Set(parseFloat(st.AcquiredQty))
	m.acquiredValue.Set(parseFloat(st.AcquiredValue))
}

// TrackStream 注册某条流的重连/丢弃计数（按需读取）
func (m *Metrics) TrackStream(name string, reconnects, dropped func() int64) {
	if reconnects != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_reconnects_total",
			Help: "WebSocket reconnects", ConstLabels: prometheus.Labels{"stream": name},
		}, func() float64 { return float64(reconnects()) }))
	}
	if dropped != nil {
		m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_dropped_total",
			Help: "Events dropped because the consumer was busy", ConstLabels: prometheus.Labels{"stream": name},
		}, func() float64 { return float64(dropped()) }))
	}
}

func sideLabel(s domain.Side) string {
	if s == "" {
		return "none"
	}
	return strings.ToLower(string(s))
}
