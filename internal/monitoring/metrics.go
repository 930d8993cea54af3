package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
//
// 所有 Record 方法对 nil 接收者安全，未启用监控的组件可以直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 网关指标
	GatewayDecisions *prometheus.CounterVec
	GatewayDuration  *prometheus.HistogramVec
	ViewsGranted     *prometheus.CounterVec
	GatewayFaults    *prometheus.CounterVec
	ActionsTotal     *prometheus.CounterVec

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	// 验证码指标
	CodesIssued         prometheus.Counter
	DeliveryFailures    prometheus.Counter
	VerificationsPurged prometheus.Counter

	// 地理位置指标
	GeoLookups *prometheus.CounterVec

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标并注册到独立的 registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return NewMetricsWithRegistry(reg)
}

// NewMetricsWithRegistry 使用指定 registry 创建监控指标（测试中每次使用新的 registry）
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		GatewayDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_gateway_decisions_total",
				Help: "Gateway resolve outcomes by link type and code",
			},
			[]string{"link_type", "code"},
		),

		GatewayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkgate_gateway_resolve_duration_seconds",
				Help:    "Time spent running the guard chain",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"link_type"},
		),

		ViewsGranted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_views_granted_total",
				Help: "Number of granted views",
			},
			[]string{"link_type"},
		),

		GatewayFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_gateway_faults_total",
				Help: "Internal faults by stage",
			},
			[]string{"stage"},
		),

		ActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_actions_total",
				Help: "Gateway actions by name and result code",
			},
			[]string{"action", "code"},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_rate_limit_blocks_total",
				Help: "Requests refused by the rate limiter",
			},
			[]string{"guard"},
		),

		CodesIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_codes_issued_total",
				Help: "Verification codes issued",
			},
		),

		DeliveryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_code_delivery_failures_total",
				Help: "Verification code deliveries that failed",
			},
		),

		VerificationsPurged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_verifications_purged_total",
				Help: "Expired verification records removed by the purge job",
			},
		),

		GeoLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkgate_geo_lookups_total",
				Help: "Geolocation lookups by resolution source",
			},
			[]string{"source"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "linkgate_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDecision 记录一次网关判定，通过时 code 为 "GRANTED"
func (m *Metrics) RecordDecision(linkType, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GatewayDecisions.WithLabelValues(linkType, code).Inc()
	m.GatewayDuration.WithLabelValues(linkType).Observe(duration.Seconds())
}

// RecordViewGranted 记录授予的访问
func (m *Metrics) RecordViewGranted(linkType string) {
	if m == nil {
		return
	}
	m.ViewsGranted.WithLabelValues(linkType).Inc()
}

// RecordFault 记录内部故障
func (m *Metrics) RecordFault(stage string) {
	if m == nil {
		return
	}
	m.GatewayFaults.WithLabelValues(stage).Inc()
}

// RecordAction 记录动作结果
func (m *Metrics) RecordAction(action, code string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, code).Inc()
}

// RecordRateLimitBlock 记录限流拒绝
func (m *Metrics) RecordRateLimitBlock(guard string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(guard).Inc()
}

// RecordCodeIssued 记录验证码签发
func (m *Metrics) RecordCodeIssued() {
	if m == nil {
		return
	}
	m.CodesIssued.Inc()
}

// RecordDeliveryFailure 记录投递失败
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// RecordPurged 记录清理数量
func (m *Metrics) RecordPurged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.VerificationsPurged.Add(float64(n))
}

// RecordGeoLookup 记录地理位置查询来源
func (m *Metrics) RecordGeoLookup(source string) {
	if m == nil {
		return
	}
	m.GeoLookups.WithLabelValues(source).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
