package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// HaltTrading 人工熔断
func (m *RiskManager) HaltTrading(ctx context.Context, reason, by string) error {
	if by == "" {
		return domain.ErrMissingAuthorizer
	}
	return m.emergencyHalt(ctx, fmt.Sprintf("manual halt by %s: %s", by, reason), nil)
}

// ResumeTrading 人工恢复交易
func (m *RiskManager) ResumeTrading(ctx context.Context, by string) error {
	applied, err := m.deps.Breaker.ResumeTrading(ctx, by)
	if errors.Is(err, domain.ErrMissingAuthorizer) {
		return err
	}
	m.failures.Store(0)
	m.syncBreakerGauge()
	if !applied {
		logger.Info(ctx, "resume requested while trading is not halted", "by", by)
		return nil
	}
	logger.Warn(ctx, "trading resumed", "by", by)
	logBreakerSideEffects(ctx, domain.BreakerActionResume, err)
	return err
}

// ClearPositionReduction 人工解除减仓模式
func (m *RiskManager) ClearPositionReduction(ctx context.Context, by string) error {
	applied, err := m.deps.Breaker.ClearPositionReduction(ctx, by)
	if errors.Is(err, domain.ErrMissingAuthorizer) {
		return err
	}
	m.syncBreakerGauge()
	if !applied {
		logger.Info(ctx, "clear position reduction requested while inactive", "by", by)
		return nil
	}
	logger.Warn(ctx, "position reduction cleared", "by", by)
	logBreakerSideEffects(ctx, domain.BreakerActionClearReduction, err)
	return err
}

// BreakerStatus 熔断器状态
func (m *RiskManager) BreakerStatus() domain.BreakerStatus {
	return m.deps.Breaker.Status()
}

// ActiveAlerts 未解决的告警
func (m *RiskManager) ActiveAlerts() []*domain.RiskAlert {
	return m.alerts.Active()
}

// GetAlert 按 ID 查询活跃告警
func (m *RiskManager) GetAlert(id string) (*domain.RiskAlert, error) {
	return m.alerts.Get(id)
}

// AcknowledgeAlert 确认告警
func (m *RiskManager) AcknowledgeAlert(ctx context.Context, id, by string) (*domain.RiskAlert, error) {
	a, err := m.alerts.Acknowledge(id, by, m.now())
	if err != nil {
		return nil, err
	}
	m.persistAlert(ctx, a)
	logger.Info(ctx, "risk alert acknowledged", "alert_id", id, "by", by)
	return a, nil
}

// ResolveAlert 解决告警
func (m *RiskManager) ResolveAlert(ctx context.Context, id, by string) (*domain.RiskAlert, error) {
	a, err := m.alerts.Resolve(id, by, m.now())
	if err != nil {
		return nil, err
	}
	m.persistAlert(ctx, a)
	m.deps.Metrics.SetActiveAlerts(m.alerts.Len())
	logger.Info(ctx, "risk alert resolved", "alert_id", id, "by", by)
	return a, nil
}

func (m *RiskManager) persistAlert(ctx context.Context, a *domain.RiskAlert) {
	if m.deps.Repository == nil {
		return
	}
	if err := m.deps.Repository.UpdateAlert(ctx, a); err != nil {
		logger.Error(ctx, "persist alert update failed", "alert_id", a.AlertID, "error", err)
	}
}

// RecentViolations 最近 n 条违规，最新的在前。内存历史为空时回落到持久化。
func (m *RiskManager) RecentViolations(ctx context.Context, n int) ([]domain.RiskViolation, error) {
	if recent := m.history.Recent(n); len(recent) > 0 || m.deps.Repository == nil {
		return recent, nil
	}
	return m.deps.Repository.ListViolations(ctx, n)
}

// BreakerEvents 熔断审计记录，最新的在前
func (m *RiskManager) BreakerEvents(ctx context.Context, n int) ([]domain.BreakerAuditRecord, error) {
	if m.deps.Repository == nil {
		return nil, nil
	}
	return m.deps.Repository.ListBreakerEvents(ctx, n)
}
