// Package alerting 异步告警投递：队列、限流与事件总线发布
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/config"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/metrics"
	"github.com/wyfcoding/riskguard/pkg/ratelimit"
)

const (
	outcomeSent      = "sent"
	outcomeFailed    = "failed"
	outcomeThrottled = "throttled"
	outcomeDropped   = "dropped"
	outcomeClosed    = "closed"
)

// Publisher 告警发布目标
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Config 告警投递参数
type Config struct {
	QueueSize      int
	WarningLimit   ratelimit.Limit
	PublishTimeout time.Duration
}

// ConfigFromAlerts 由配置构造投递参数，warning_rate 为每秒条数
func ConfigFromAlerts(cfg config.AlertConfig) Config {
	return Config{
		QueueSize: cfg.QueueSize,
		WarningLimit: ratelimit.Limit{
			Rate:   cfg.WarningRate,
			Period: time.Second,
			Burst:  cfg.WarningBurst,
		},
	}
}

// AsyncAlertSystem 告警异步发布到 risk_alert 主题。
// CRITICAL 与 HIGH 不会被丢弃：队列满时改为独立 goroutine 投递；
// WARNING 按违规类型与资产限流，队列满时丢弃。
type AsyncAlertSystem struct {
	pub     Publisher
	limiter ratelimit.RateLimiter
	metrics *metrics.Metrics
	timeout time.Duration
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan domain.RiskAlertEvent
	wg     sync.WaitGroup
}

// NewAsyncAlertSystem 创建并启动投递协程
func NewAsyncAlertSystem(pub Publisher, m *metrics.Metrics, cfg Config) *AsyncAlertSystem {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.New("risk")
	}
	s := &AsyncAlertSystem{
		pub:     pub,
		limiter: ratelimit.NewKeyedLimiter(cfg.WarningLimit, 0),
		metrics: m,
		timeout: cfg.PublishTimeout,
		now:     time.Now,
		queue:   make(chan domain.RiskAlertEvent, cfg.QueueSize),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *AsyncAlertSystem) SendCriticalAlert(ctx context.Context, alert *domain.RiskAlert) {
	s.enqueue(ctx, domain.AlertPriorityCritical, alert)
}

func (s *AsyncAlertSystem) SendHighPriorityAlert(ctx context.Context, alert *domain.RiskAlert) {
	s.enqueue(ctx, domain.AlertPriorityHigh, alert)
}

func (s *AsyncAlertSystem) SendWarningAlert(ctx context.Context, alert *domain.RiskAlert) {
	key := string(alert.Violation.Type) + ":" + alert.Violation.AssetAffected
	if !s.limiter.Allow(key) {
		s.metrics.RecordAlertDispatch(string(domain.AlertPriorityWarning), outcomeThrottled)
		logger.Debug(ctx, "Warning alert throttled", "alert_id", alert.AlertID, "key", key)
		return
	}
	s.enqueue(ctx, domain.AlertPriorityWarning, alert)
}

func (s *AsyncAlertSystem) enqueue(ctx context.Context, priority domain.AlertPriority, alert *domain.RiskAlert) {
	ev := domain.RiskAlertEvent{
		Priority: priority,
		Alert:    *alert.Clone(),
		Message:  fmt.Sprintf("[%s] %s", priority, alert.Violation.Describe()),
		SentAt:   s.now(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.metrics.RecordAlertDispatch(string(priority), outcomeClosed)
		logger.Warn(ctx, "Alert system closed, alert not sent", "alert_id", alert.AlertID, "priority", priority)
		return
	}

	select {
	case s.queue <- ev:
		return
	default:
	}

	if priority == domain.AlertPriorityWarning {
		s.metrics.RecordAlertDispatch(string(priority), outcomeDropped)
		logger.Warn(ctx, "Alert queue full, warning dropped", "alert_id", alert.AlertID)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(ev)
	}()
}

func (s *AsyncAlertSystem) run() {
	defer s.wg.Done()
	for ev := range s.queue {
		s.deliver(ev)
	}
}

func (s *AsyncAlertSystem) deliver(ev domain.RiskAlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.pub.Publish(ctx, domain.TopicRiskAlert, ev); err != nil {
		s.metrics.RecordAlertDispatch(string(ev.Priority), outcomeFailed)
		logger.Error(ctx, "Failed to publish risk alert",
			"alert_id", ev.Alert.AlertID,
			"priority", ev.Priority,
			"error", err,
		)
		return
	}
	s.metrics.RecordAlertDispatch(string(ev.Priority), outcomeSent)
	logger.Info(ctx, "Risk alert published", "alert_id", ev.Alert.AlertID, "priority", ev.Priority)
}

// Close 停止接收新告警并等待已入队告警投递完成，可重复调用
func (s *AsyncAlertSystem) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
