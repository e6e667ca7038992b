package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindmail/backend/internal/domain"
	"remindmail/backend/internal/scheduler"
)

const namespace = "remindmail"

var _ scheduler.Metrics = (*Metrics)(nil)

// Metrics 监控指标（独立 registry，测试中可重复创建）
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 调度指标
	TicksTotal        *prometheus.CounterVec
	TickDuration      prometheus.Histogram
	DeliveriesTotal   *prometheus.CounterVec
	RemindersByState  *prometheus.GaugeVec
	RemindersPurged   prometheus.Counter
	LastTickTimestamp prometheus.Gauge

	// 系统指标
	SystemUptime     prometheus.Gauge
	WebSocketClients prometheus.Gauge
	PanicsTotal      prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		TicksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_ticks_total",
				Help:      "Total number of reminder checks by result",
			},
			[]string{"result"},
		),

		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scheduler_tick_duration_seconds",
				Help:      "Duration of a reminder check including deliveries",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_total",
				Help:      "Total number of reminder delivery attempts by result",
			},
			[]string{"result"},
		),

		RemindersByState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reminders",
				Help:      "Number of stored reminders by lifecycle state",
			},
			[]string{"state"},
		),

		RemindersPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_purged_total",
				Help:      "Total number of reminders removed after their grace period",
			},
		),

		LastTickTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_last_tick_timestamp_seconds",
				Help:      "Unix time of the last finished reminder check",
			},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Process uptime in seconds",
			},
		),

		WebSocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_clients",
				Help:      "Number of connected notification clients",
			},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// ObserveTick 记录一次调度
func (m *Metrics) ObserveTick(result string, d time.Duration) {
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(d.Seconds())
	m.LastTickTimestamp.SetToCurrentTime()
}

// ObserveDelivery 记录一次投递尝试
func (m *Metrics) ObserveDelivery(result string) {
	m.DeliveriesTotal.WithLabelValues(result).Inc()
}

// ObservePurged 记录被清除的提醒数量
func (m *Metrics) ObservePurged(n int) {
	if n > 0 {
		m.RemindersPurged.Add(float64(n))
	}
}

// SetReminderStates 更新各状态的提醒数量
func (m *Metrics) SetReminderStates(counts map[domain.ReminderState]int) {
	for state, n := range counts {
		m.RemindersByState.WithLabelValues(string(state)).Set(float64(n))
	}
}

// UpdateSystemUptime 更新运行时长
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateWebSocketClients 更新通知连接数
func (m *Metrics) UpdateWebSocketClients(count int) {
	m.WebSocketClients.Set(float64(count))
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 /metrics 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
