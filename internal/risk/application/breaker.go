package application

import (
	"context"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// emergencyHalt 触发紧急熔断并记录结果，已熔断时仅告警
func (m *RiskManager) emergencyHalt(ctx context.Context, reason string, v *domain.RiskViolation) error {
	applied, err := m.deps.Breaker.TriggerEmergencyHalt(ctx, reason, v)
	m.syncBreakerGauge()
	if !applied {
		logger.Warn(ctx, "emergency halt requested while already halted",
			"reason", reason, "existing_reason", m.deps.Breaker.Status().HaltReason)
		return nil
	}
	logger.Warn(ctx, "trading halted", "reason", reason)
	logBreakerSideEffects(ctx, domain.BreakerActionHalt, err)
	return err
}

// reducePositions 开启减仓模式
func (m *RiskManager) reducePositions(ctx context.Context, v domain.RiskViolation) error {
	applied, err := m.deps.Breaker.TriggerPositionReduction(ctx, v)
	m.syncBreakerGauge()
	if !applied {
		logger.Debug(ctx, "position reduction already in effect or trading halted",
			"halted", m.deps.Breaker.IsTradingHalted(), "violation", v.Type)
		return nil
	}
	logger.Warn(ctx, "position reduction activated", "reason", v.Describe())
	logBreakerSideEffects(ctx, domain.BreakerActionReduce, err)
	return err
}

func logBreakerSideEffects(ctx context.Context, action domain.BreakerAction, err error) {
	if err != nil {
		logger.Error(ctx, "circuit breaker side effect failed", "action", action, "error", err)
	}
}
