// Package metrics 提供风控服务的 Prometheus 指标
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// Namespace 指标命名空间
const Namespace = "trading"

// Metrics 指标集合
type Metrics struct {
	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 最新风险分
	RiskScore prometheus.Gauge
	// 熔断状态：1 为已熔断
	BreakerHalted prometheus.Gauge
	// 减仓模式：1 为开启
	PositionReduction prometheus.Gauge
	// 违规计数
	ViolationsTotal *prometheus.CounterVec
	// 交易准入决策计数
	TradeDecisionsTotal *prometheus.CounterVec
	// 信号评估耗时
	AssessmentDuration prometheus.Histogram
	// 监控周期耗时
	TickDuration prometheus.Histogram
	// 计算失败计数
	CalculationFailuresTotal *prometheus.CounterVec
	// 活跃告警数
	ActiveAlerts prometheus.Gauge
	// 告警投递计数
	AlertsDispatchedTotal *prometheus.CounterVec
}

// New 创建指标实例
func New(serviceName string) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RiskScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "risk_score",
			Help:      "Latest portfolio risk score in [0,1]",
		}),
		BreakerHalted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "circuit_breaker_halted",
			Help:      "1 when trading is halted",
		}),
		PositionReduction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "position_reduction_active",
			Help:      "1 when position reduction mode is active",
		}),
		ViolationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "violations_total",
			Help:      "Risk limit violations detected",
		}, []string{"type", "severity"}),
		TradeDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "trade_decisions_total",
			Help:      "Trade admission decisions",
		}, []string{"allowed", "reason"}),
		AssessmentDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "assessment_duration_seconds",
			Help:      "Signal risk assessment latency",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25},
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "monitoring_tick_duration_seconds",
			Help:      "Monitoring loop tick duration",
			Buckets:   prometheus.DefBuckets,
		}),
		CalculationFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "calculation_failures_total",
			Help:      "Risk calculations replaced by fail-safe snapshots",
		}, []string{"source"}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "active_alerts",
			Help:      "Alerts that are not resolved",
		}),
		AlertsDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: serviceName,
			Name:      "alerts_dispatched_total",
			Help:      "Alerts handed to the alert transport",
		}, []string{"priority", "outcome"}),
	}
}

// Register 注册所有指标
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RiskScore,
		m.BreakerHalted,
		m.PositionReduction,
		m.ViolationsTotal,
		m.TradeDecisionsTotal,
		m.AssessmentDuration,
		m.TickDuration,
		m.CalculationFailuresTotal,
		m.ActiveAlerts,
		m.AlertsDispatchedTotal,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			logger.Error(context.Background(), "Failed to register metric", "error", err)
			return err
		}
	}

	logger.Info(context.Background(), "Metrics registered successfully")
	return nil
}

// Handler 返回 Prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordViolation 记录违规
func (m *Metrics) RecordViolation(violationType, severity string) {
	m.ViolationsTotal.WithLabelValues(violationType, severity).Inc()
}

// RecordDecision 记录准入决策
func (m *Metrics) RecordDecision(allowed bool, reason string) {
	m.TradeDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed), reason).Inc()
}

// ObserveAssessment 记录评估耗时
func (m *Metrics) ObserveAssessment(d time.Duration) {
	m.AssessmentDuration.Observe(d.Seconds())
}

// ObserveTick 记录监控周期耗时
func (m *Metrics) ObserveTick(d time.Duration) {
	m.TickDuration.Observe(d.Seconds())
}

// RecordCalculationFailure 记录计算失败
func (m *Metrics) RecordCalculationFailure(source string) {
	m.CalculationFailuresTotal.WithLabelValues(source).Inc()
}

// SetRiskScore 更新风险分
func (m *Metrics) SetRiskScore(score float64) {
	m.RiskScore.Set(score)
}

// SetBreaker 更新熔断状态
func (m *Metrics) SetBreaker(halted, reduction bool) {
	m.BreakerHalted.Set(boolGauge(halted))
	m.PositionReduction.Set(boolGauge(reduction))
}

// SetActiveAlerts 更新活跃告警数
func (m *Metrics) SetActiveAlerts(n int) {
	m.ActiveAlerts.Set(float64(n))
}

// RecordAlertDispatch 记录告警投递
func (m *Metrics) RecordAlertDispatch(priority, outcome string) {
	m.AlertsDispatchedTotal.WithLabelValues(priority, outcome).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
