// Package mysql 告警、违规历史与熔断审计的 GORM 持久化
package mysql

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

// RiskAlertModel 风险告警表映射
type RiskAlertModel struct {
	AlertID        string          `gorm:"primaryKey;type:varchar(36);column:alert_id"`
	ViolationType  string          `gorm:"column:violation_type;type:varchar(32);index;not null"`
	Severity       string          `gorm:"column:severity;type:varchar(16);not null"`
	AssetAffected  string          `gorm:"column:asset_affected;type:varchar(32)"`
	CurrentValue   decimal.Decimal `gorm:"column:current_value;type:decimal(38,12);not null"`
	LimitValue     decimal.Decimal `gorm:"column:limit_value;type:decimal(38,12);not null"`
	DetectedAt     time.Time       `gorm:"column:detected_at;not null"`
	Status         string          `gorm:"column:status;type:varchar(16);index;not null"`
	AcknowledgedBy string          `gorm:"column:acknowledged_by;type:varchar(64)"`
	AcknowledgedAt *time.Time      `gorm:"column:acknowledged_at"`
	ResolvedBy     string          `gorm:"column:resolved_by;type:varchar(64)"`
	ResolvedAt     *time.Time      `gorm:"column:resolved_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (RiskAlertModel) TableName() string { return "risk_alerts" }

// RiskViolationModel 违规历史表映射，只追加
type RiskViolationModel struct {
	ID            uint            `gorm:"primaryKey;autoIncrement"`
	ViolationType string          `gorm:"column:violation_type;type:varchar(32);index;not null"`
	Severity      string          `gorm:"column:severity;type:varchar(16);not null"`
	AssetAffected string          `gorm:"column:asset_affected;type:varchar(32)"`
	CurrentValue  decimal.Decimal `gorm:"column:current_value;type:decimal(38,12);not null"`
	LimitValue    decimal.Decimal `gorm:"column:limit_value;type:decimal(38,12);not null"`
	DetectedAt    time.Time       `gorm:"column:detected_at;index;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (RiskViolationModel) TableName() string { return "risk_violations" }

// BreakerEventModel 熔断审计表映射，只追加
type BreakerEventModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(36);column:id"`
	Action        string    `gorm:"column:action;type:varchar(32);index;not null"`
	Reason        string    `gorm:"column:reason;type:text"`
	Actor         string    `gorm:"column:actor;type:varchar(64);not null"`
	ViolationType string    `gorm:"column:violation_type;type:varchar(32)"`
	Severity      string    `gorm:"column:severity;type:varchar(16)"`
	FromState     string    `gorm:"column:from_state;type:text;not null"`
	ToState       string    `gorm:"column:to_state;type:text;not null"`
	OccurredAt    time.Time `gorm:"column:occurred_at;index;not null"`
}

func (BreakerEventModel) TableName() string { return "circuit_breaker_events" }

// Models 需要迁移的表
func Models() []any {
	return []any{&RiskAlertModel{}, &RiskViolationModel{}, &BreakerEventModel{}}
}

// --- mapping helpers ---

func toAlertModel(a *domain.RiskAlert) *RiskAlertModel {
	return &RiskAlertModel{
		AlertID:        a.AlertID,
		ViolationType:  string(a.Violation.Type),
		Severity:       string(a.Violation.Severity),
		AssetAffected:  a.Violation.AssetAffected,
		CurrentValue:   a.Violation.CurrentValue,
		LimitValue:     a.Violation.LimitValue,
		DetectedAt:     a.Violation.Timestamp,
		Status:         string(a.Status),
		AcknowledgedBy: a.AcknowledgedBy,
		AcknowledgedAt: a.AcknowledgedAt,
		ResolvedBy:     a.ResolvedBy,
		ResolvedAt:     a.ResolvedAt,
		CreatedAt:      a.CreatedAt,
	}
}

func toAlert(m *RiskAlertModel) *domain.RiskAlert {
	return &domain.RiskAlert{
		AlertID: m.AlertID,
		Violation: domain.RiskViolation{
			Type:          domain.ViolationType(m.ViolationType),
			CurrentValue:  m.CurrentValue,
			LimitValue:    m.LimitValue,
			Severity:      domain.Severity(m.Severity),
			AssetAffected: m.AssetAffected,
			Timestamp:     m.DetectedAt,
		},
		Status:         domain.AlertStatus(m.Status),
		AcknowledgedBy: m.AcknowledgedBy,
		AcknowledgedAt: m.AcknowledgedAt,
		ResolvedBy:     m.ResolvedBy,
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
	}
}

func toViolationModel(v domain.RiskViolation) *RiskViolationModel {
	return &RiskViolationModel{
		ViolationType: string(v.Type),
		Severity:      string(v.Severity),
		AssetAffected: v.AssetAffected,
		CurrentValue:  v.CurrentValue,
		LimitValue:    v.LimitValue,
		DetectedAt:    v.Timestamp,
	}
}

func toViolation(m *RiskViolationModel) domain.RiskViolation {
	return domain.RiskViolation{
		Type:          domain.ViolationType(m.ViolationType),
		CurrentValue:  m.CurrentValue,
		LimitValue:    m.LimitValue,
		Severity:      domain.Severity(m.Severity),
		AssetAffected: m.AssetAffected,
		Timestamp:     m.DetectedAt,
	}
}

func toBreakerEventModel(r domain.BreakerAuditRecord) (*BreakerEventModel, error) {
	from, err := json.Marshal(r.From)
	if err != nil {
		return nil, err
	}
	to, err := json.Marshal(r.To)
	if err != nil {
		return nil, err
	}
	return &BreakerEventModel{
		ID:            r.ID,
		Action:        string(r.Action),
		Reason:        r.Reason,
		Actor:         r.Actor,
		ViolationType: string(r.ViolationType),
		Severity:      string(r.Severity),
		FromState:     string(from),
		ToState:       string(to),
		OccurredAt:    r.Timestamp,
	}, nil
}

func toBreakerRecord(m *BreakerEventModel) (domain.BreakerAuditRecord, error) {
	r := domain.BreakerAuditRecord{
		ID:            m.ID,
		Action:        domain.BreakerAction(m.Action),
		Reason:        m.Reason,
		Actor:         m.Actor,
		ViolationType: domain.ViolationType(m.ViolationType),
		Severity:      domain.Severity(m.Severity),
		Timestamp:     m.OccurredAt,
	}
	if err := json.Unmarshal([]byte(m.FromState), &r.From); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(m.ToState), &r.To); err != nil {
		return r, err
	}
	return r, nil
}
