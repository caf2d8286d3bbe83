package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// violationAction 某一严重程度对应的处置
type violationAction func(ctx context.Context, v domain.RiskViolation, alert *domain.RiskAlert) error

// dispatchTable 严重程度到处置动作的映射：
//
//	CRITICAL  紧急熔断 + 紧急告警
//	HIGH      减仓模式 + 高优先级告警
//	MEDIUM    加速监控 + 预警
//	LOW       预警
func (m *RiskManager) dispatchTable() map[domain.Severity]violationAction {
	return map[domain.Severity]violationAction{
		domain.SeverityCritical: func(ctx context.Context, v domain.RiskViolation, alert *domain.RiskAlert) error {
			err := m.emergencyHalt(ctx, v.Describe(), &v)
			m.deps.Alerts.SendCriticalAlert(ctx, alert)
			return err
		},
		domain.SeverityHigh: func(ctx context.Context, v domain.RiskViolation, alert *domain.RiskAlert) error {
			err := m.reducePositions(ctx, v)
			m.deps.Alerts.SendHighPriorityAlert(ctx, alert)
			return err
		},
		domain.SeverityMedium: func(ctx context.Context, _ domain.RiskViolation, alert *domain.RiskAlert) error {
			m.boostMonitoring()
			m.deps.Alerts.SendWarningAlert(ctx, alert)
			return nil
		},
		domain.SeverityLow: func(ctx context.Context, _ domain.RiskViolation, alert *domain.RiskAlert) error {
			m.deps.Alerts.SendWarningAlert(ctx, alert)
			return nil
		},
	}
}

// HandleRiskViolation 为违规创建告警并按严重程度处置，随后持久化并发布违规事件。
// 未知严重程度按 CRITICAL 处置。处置各步骤的失败会合并返回，但不会回滚已生效的熔断状态。
func (m *RiskManager) HandleRiskViolation(ctx context.Context, v domain.RiskViolation) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = m.now()
	}
	alert := domain.NewRiskAlert(v, m.now())
	m.alerts.Put(alert)
	m.deps.Metrics.RecordViolation(string(v.Type), string(v.Severity))

	var errs []error
	action, ok := m.dispatch[v.Severity]
	if !ok {
		logger.Error(ctx, "unknown violation severity, escalating to critical", "severity", v.Severity, "type", v.Type)
		errs = append(errs, &domain.ViolationHandlingError{
			ViolationType: v.Type,
			Step:          "dispatch",
			Err:           fmt.Errorf("unknown severity %q", v.Severity),
		})
		action = m.dispatch[domain.SeverityCritical]
	}
	if err := action(ctx, v, alert); err != nil {
		errs = append(errs, &domain.ViolationHandlingError{ViolationType: v.Type, Step: "breaker", Err: err})
	}
	m.syncBreakerGauge()

	m.history.Add(v)
	if repo := m.deps.Repository; repo != nil {
		if err := repo.SaveViolation(ctx, v); err != nil {
			errs = append(errs, &domain.ViolationHandlingError{ViolationType: v.Type, Step: "persist_violation", Err: err})
		}
		if err := repo.SaveAlert(ctx, alert.Clone()); err != nil {
			errs = append(errs, &domain.ViolationHandlingError{ViolationType: v.Type, Step: "persist_alert", Err: err})
		}
	}
	m.deps.Metrics.SetActiveAlerts(m.alerts.Len())

	handleErr := errors.Join(errs...)
	event := domain.RiskViolationEvent{
		Violation: v,
		AlertID:   alert.AlertID,
		Halted:    m.deps.Breaker.IsTradingHalted(),
	}
	if handleErr != nil {
		event.Error = handleErr.Error()
	}
	if err := m.deps.Bus.Publish(ctx, domain.TopicRiskViolation, event); err != nil {
		logger.Warn(ctx, "publish risk violation failed", "type", v.Type, "error", err)
	}

	logger.Warn(ctx, "risk violation handled",
		"type", v.Type,
		"severity", v.Severity,
		"asset", v.AssetAffected,
		"current", v.CurrentValue,
		"limit", v.LimitValue,
		"alert_id", alert.AlertID,
	)
	return handleErr
}
