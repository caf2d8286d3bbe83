// Package application 风控编排层：监控循环、信号评估、仓位计算、违规处置与熔断控制。
package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/metrics"
)

// Dependencies RiskManager 的外部依赖。Repository 与 Snapshots 可为 nil。
type Dependencies struct {
	Limits        domain.RiskLimits
	Portfolio     domain.PortfolioProvider
	PortfolioRisk domain.PortfolioRiskCalculator
	MarketRisk    domain.MarketRiskCalculator
	Operational   domain.OperationalRiskMonitor
	Compliance    domain.ComplianceEngine
	Alerts        domain.AlertSystem
	Bus           domain.EventBus
	Breaker       *domain.CircuitBreaker
	Repository    domain.RiskRepository
	Snapshots     domain.SnapshotStore
	Metrics       *metrics.Metrics
	// PriceObservers 行情与成交价格的额外接收方，可为空
	PriceObservers []domain.PriceObserver
	// Clock 为 nil 时使用 time.Now
	Clock func() time.Time
}

// RiskManager 风控核心编排。
//
// 并发模型：
//   - 最新快照通过 atomic.Pointer 整体替换，交易路径读取不加锁；
//   - 限额同样整体替换，ReloadLimits 与读者互不阻塞；
//   - 告警表与违规历史各自持锁；
//   - 熔断状态由 CircuitBreaker 自己串行化。
type RiskManager struct {
	deps  Dependencies
	opts  Options
	sizer domain.PositionSizer

	aggregator *RiskMetricsAggregator
	alerts     *AlertBook
	history    *ViolationHistory
	dispatch   map[domain.Severity]violationAction

	snapshot atomic.Pointer[domain.RiskMetrics]
	limits   atomic.Pointer[domain.RiskLimits]

	failures  atomic.Int32
	fastTicks atomic.Int32
	recalc    chan struct{}

	mu      sync.Mutex
	running bool
	subs    []domain.Subscription
	cancel  context.CancelFunc
	done    chan struct{}

	now func() time.Time
}

// NewRiskManager 校验依赖与限额后创建 RiskManager
func NewRiskManager(deps Dependencies, opts Options) (*RiskManager, error) {
	required := []struct {
		name string
		ok   bool
	}{
		{"portfolio", deps.Portfolio != nil},
		{"portfolio_risk", deps.PortfolioRisk != nil},
		{"market_risk", deps.MarketRisk != nil},
		{"operational", deps.Operational != nil},
		{"compliance", deps.Compliance != nil},
		{"alerts", deps.Alerts != nil},
		{"bus", deps.Bus != nil},
	}
	for _, r := range required {
		if !r.ok {
			return nil, &domain.ConfigurationError{Field: r.name, Reason: "dependency is required"}
		}
	}
	if err := deps.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.Interval <= 0 || opts.FastInterval <= 0 {
		return nil, &domain.ConfigurationError{Field: "monitoring.interval", Reason: "must be positive"}
	}
	if opts.AssessmentTimeout <= 0 {
		return nil, &domain.ConfigurationError{Field: "timeouts.assessment", Reason: "must be positive"}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("risk")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Breaker == nil {
		var sink domain.BreakerAuditSink
		if deps.Repository != nil {
			sink = deps.Repository
		}
		deps.Breaker = domain.NewCircuitBreaker(sink, nil, nil)
	}

	m := &RiskManager{
		deps:    deps,
		opts:    opts,
		alerts:  NewAlertBook(),
		history: NewViolationHistory(opts.HistorySize),
		recalc:  make(chan struct{}, 1),
		now:     deps.Clock,
	}
	limits := deps.Limits.Clone()
	m.limits.Store(&limits)
	m.aggregator = NewRiskMetricsAggregator(deps.PortfolioRisk, deps.MarketRisk, deps.Operational, m.Limits, deps.Metrics, opts.Interval)
	m.aggregator.now = deps.Clock
	m.dispatch = m.dispatchTable()
	m.syncBreakerGauge()
	return m, nil
}

// Limits 当前生效的限额
func (m *RiskManager) Limits() domain.RiskLimits {
	return *m.limits.Load()
}

// ReloadLimits 校验并整体替换限额，下一次监控周期生效
func (m *RiskManager) ReloadLimits(ctx context.Context, limits domain.RiskLimits) error {
	limits = normalizeLimitKeys(limits)
	if err := limits.Validate(); err != nil {
		return err
	}
	cp := limits.Clone()
	m.limits.Store(&cp)
	logger.Info(ctx, "risk limits reloaded", "max_var", cp.MaxVaR, "max_leverage", cp.MaxLeverage, "max_daily_loss", cp.MaxDailyLoss)
	m.RequestRecalculation()
	return nil
}

// Breaker 返回熔断器
func (m *RiskManager) Breaker() *domain.CircuitBreaker {
	return m.deps.Breaker
}

// RestoreAlerts 从持久化恢复未解决的告警，启动时调用
func (m *RiskManager) RestoreAlerts(ctx context.Context) error {
	if m.deps.Repository == nil {
		return nil
	}
	alerts, err := m.deps.Repository.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("restore alerts: %w", err)
	}
	for _, a := range alerts {
		m.alerts.Put(a)
	}
	m.deps.Metrics.SetActiveAlerts(m.alerts.Len())
	logger.Info(ctx, "active alerts restored", "count", len(alerts))
	return nil
}

// StartMonitoring 订阅输入主题并启动监控循环。订阅全部成功才启动，否则回滚已有订阅。
// 重复调用直接返回。
func (m *RiskManager) StartMonitoring(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		logger.Warn(ctx, "risk monitoring already running")
		return nil
	}

	handlers := m.eventHandlers()
	subs := make([]domain.Subscription, 0, len(domain.SubscribedTopics))
	for _, topic := range domain.SubscribedTopics {
		sub, err := m.deps.Bus.Subscribe(topic, handlers[topic])
		if err != nil {
			for _, s := range subs {
				if uerr := s.Unsubscribe(); uerr != nil {
					logger.Error(ctx, "rollback subscription failed", "error", uerr)
				}
			}
			return &domain.StartupError{Topic: topic, Err: err}
		}
		subs = append(subs, sub)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.subs = subs
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	go m.monitorLoop(loopCtx, m.done)

	logger.Info(ctx, "risk monitoring started", "interval", m.opts.Interval, "topics", domain.SubscribedTopics)
	return nil
}

// StopMonitoring 取消订阅并停止监控循环，等待循环退出。未运行时为空操作。
func (m *RiskManager) StopMonitoring() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	subs, done := m.subs, m.done
	m.subs, m.cancel, m.done = nil, nil, nil
	m.running = false
	m.mu.Unlock()

	ctx := context.Background()
	for _, s := range subs {
		if err := s.Unsubscribe(); err != nil {
			logger.Error(ctx, "unsubscribe failed", "error", err)
		}
	}
	<-done
	logger.Info(ctx, "risk monitoring stopped")
}

// IsMonitoring 监控循环是否在运行
func (m *RiskManager) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RequestRecalculation 请求尽快执行一次监控周期，不阻塞
func (m *RiskManager) RequestRecalculation() {
	select {
	case m.recalc <- struct{}{}:
	default:
	}
}

// LatestMetrics 最新快照，尚未计算时返回 ErrNoSnapshot
func (m *RiskManager) LatestMetrics() (*domain.RiskMetrics, error) {
	s := m.snapshot.Load()
	if s == nil {
		return nil, domain.ErrNoSnapshot
	}
	return s, nil
}

// GetCurrentRiskLevel 最新快照对应的风险等级，尚无快照时为 UNKNOWN
func (m *RiskManager) GetCurrentRiskLevel() domain.RiskLevel {
	s := m.snapshot.Load()
	if s == nil {
		return domain.RiskLevelUnknown
	}
	return s.Level()
}

// CheckRiskViolations 用当前限额检查快照
func (m *RiskManager) CheckRiskViolations(metrics *domain.RiskMetrics) []domain.RiskViolation {
	return domain.CheckViolations(metrics, m.Limits())
}

// RunRiskCycle 执行一次监控周期：计算快照、检查违规、处置、发布。
// 计算失败时仍发布保守快照，并返回错误供循环退避。
func (m *RiskManager) RunRiskCycle(ctx context.Context) error {
	start := time.Now()
	defer func() { m.deps.Metrics.ObserveTick(time.Since(start)) }()

	var snapshot *domain.RiskMetrics
	portfolio, err := callWithTimeout(ctx, m.opts.Interval, m.deps.Portfolio.CurrentPortfolio)
	if err != nil {
		m.deps.Metrics.RecordCalculationFailure(SourcePortfolio)
		logger.Error(ctx, "load portfolio failed", "error", err)
		snapshot = domain.FailSafeMetrics(&domain.CalculationError{Source: SourcePortfolio, Err: err}, m.now())
	} else {
		snapshot = m.aggregator.CalculateComprehensiveRisk(ctx, portfolio)
	}

	if snapshot.Failed() {
		m.publishSnapshot(ctx, snapshot)
		n := int(m.failures.Add(1))
		if limit := m.opts.MaxConsecutiveFailures; limit > 0 && n >= limit {
			reason := fmt.Sprintf("risk calculation failed %d consecutive times: %s", n, snapshot.CalculationError)
			_ = m.emergencyHalt(ctx, reason, nil)
		}
		return errors.New(snapshot.CalculationError)
	}
	m.failures.Store(0)

	// 先处置违规再发布快照，订阅方看到快照时熔断动作已经生效
	violations := m.CheckRiskViolations(snapshot)
	var errs []error
	for _, v := range violations {
		if herr := m.HandleRiskViolation(ctx, v); herr != nil {
			errs = append(errs, herr)
		}
	}
	m.publishSnapshot(ctx, snapshot)

	if len(violations) > 0 {
		logger.Warn(ctx, "risk cycle detected violations", "count", len(violations), "risk_score", snapshot.RiskScore)
	} else {
		logger.Debug(ctx, "risk cycle completed", "risk_score", snapshot.RiskScore, "duration", time.Since(start))
	}
	if len(errs) > 0 {
		logger.Error(ctx, "violation handling incomplete", "error", errors.Join(errs...))
	}
	return nil
}

func (m *RiskManager) publishSnapshot(ctx context.Context, s *domain.RiskMetrics) {
	m.snapshot.Store(s)
	score, _ := s.RiskScore.Float64()
	m.deps.Metrics.SetRiskScore(score)

	if m.deps.Snapshots != nil {
		if err := m.deps.Snapshots.SaveSnapshot(ctx, s); err != nil {
			logger.Warn(ctx, "mirror risk snapshot failed", "error", err)
		}
	}
	if err := m.deps.Bus.Publish(ctx, domain.TopicRiskMetricsUpdated, domain.RiskMetricsUpdatedEvent{Metrics: s, Level: s.Level()}); err != nil {
		logger.Warn(ctx, "publish risk metrics failed", "error", err)
	}
}

func (m *RiskManager) syncBreakerGauge() {
	b := m.deps.Breaker
	m.deps.Metrics.SetBreaker(b.IsTradingHalted(), b.PositionReductionActive())
}
