package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 自定义业务指标
type AppMetrics struct {
	ReconcileTotal       *prometheus.CounterVec // labels: source, result=applied|noop|skipped|error
	LockContentionTotal  prometheus.Counter     // 订单锁竞争失败次数
	AutoStopTotal        *prometheus.CounterVec // labels: condition=time|soc|amount
	GatewayRequestTotal  *prometheus.CounterVec // labels: op, result=ok|not_found|error
	NotifyPushTotal      *prometheus.CounterVec // labels: event, result=ok|dedup|error
	ConsistencyTotal     *prometheus.CounterVec // labels: scenario, action
	ChargingOrdersGauge  prometheus.Gauge       // 当前充电中订单数（轮询时刷新）
	WebhookReceivedTotal *prometheus.CounterVec // labels: kind, result=ok|uncorrelated|error
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_reconcile_total",
			Help: "Order reconcile attempts by source and result.",
		}, []string{"source", "result"}),
		LockContentionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_lock_contention_total",
			Help: "Reconcile attempts skipped because the order lock was held.",
		}),
		AutoStopTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_auto_stop_total",
			Help: "Auto-stop commands issued by stop condition.",
		}, []string{"condition"}),
		GatewayRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_gateway_request_total",
			Help: "Energy platform gateway requests by operation and result.",
		}, []string{"op", "result"}),
		NotifyPushTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notify_push_total",
			Help: "User notification pushes by event kind and result.",
		}, []string{"event", "result"}),
		ConsistencyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "consistency_events_total",
			Help: "Consistency sweep events by scenario and action.",
		}, []string{"scenario", "action"}),
		ChargingOrdersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charging_orders_current",
			Help: "Number of orders currently in charging state.",
		}),
		WebhookReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "platform_webhook_received_total",
			Help: "Platform push notifications received by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(
		m.ReconcileTotal,
		m.LockContentionTotal,
		m.AutoStopTotal,
		m.GatewayRequestTotal,
		m.NotifyPushTotal,
		m.ConsistencyTotal,
		m.ChargingOrdersGauge,
		m.WebhookReceivedTotal,
	)
	return m
}
