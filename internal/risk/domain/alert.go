package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertStatus 告警状态
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
)

// RiskAlert 违规告警，创建后只允许确认与解决两种变更
type RiskAlert struct {
	AlertID        string        `json:"alert_id"`
	Violation      RiskViolation `json:"violation"`
	Status         AlertStatus   `json:"status"`
	AcknowledgedBy string        `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedBy     string        `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// NewRiskAlert 为违规创建告警
func NewRiskAlert(v RiskViolation, at time.Time) *RiskAlert {
	return &RiskAlert{
		AlertID:   uuid.NewString(),
		Violation: v,
		Status:    AlertStatusActive,
		CreatedAt: at,
	}
}

// Acknowledge ACTIVE -> ACKNOWLEDGED
func (a *RiskAlert) Acknowledge(by string, at time.Time) error {
	if by == "" {
		return ErrMissingAuthorizer
	}
	if a.Status != AlertStatusActive {
		return fmt.Errorf("%w: acknowledge from %s", ErrInvalidAlertTransition, a.Status)
	}
	a.Status = AlertStatusAcknowledged
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	return nil
}

// Resolve ACTIVE|ACKNOWLEDGED -> RESOLVED
func (a *RiskAlert) Resolve(by string, at time.Time) error {
	if by == "" {
		return ErrMissingAuthorizer
	}
	if a.Status == AlertStatusResolved {
		return fmt.Errorf("%w: already resolved", ErrInvalidAlertTransition)
	}
	a.Status = AlertStatusResolved
	a.ResolvedBy = by
	a.ResolvedAt = &at
	return nil
}

// Clone 拷贝，供只读视图使用
func (a *RiskAlert) Clone() *RiskAlert {
	c := *a
	return &c
}
