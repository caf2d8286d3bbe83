package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/db"
	"gorm.io/gorm"
)

const defaultListLimit = 100

type riskRepository struct {
	db *db.DB
}

// NewRiskRepository 创建风控仓储
func NewRiskRepository(database *db.DB) domain.RiskRepository {
	return &riskRepository{db: database}
}

// AutoMigrate 迁移风控表
func AutoMigrate(database *db.DB) error {
	return database.AutoMigrate(Models()...)
}

func (r *riskRepository) SaveAlert(ctx context.Context, alert *domain.RiskAlert) error {
	return r.db.WithContext(ctx).Create(toAlertModel(alert)).Error
}

// UpdateAlert 更新告警状态。已解决的告警不再回退，状态以库中为准。
func (r *riskRepository) UpdateAlert(ctx context.Context, alert *domain.RiskAlert) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		var existing RiskAlertModel
		err := tx.Where("alert_id = ?", alert.AlertID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(toAlertModel(alert)).Error
		}
		if err != nil {
			return err
		}
		if existing.Status == string(domain.AlertStatusResolved) {
			return fmt.Errorf("%w: alert %s already resolved", domain.ErrInvalidAlertTransition, alert.AlertID)
		}
		return tx.Model(&existing).Updates(map[string]any{
			"status":          string(alert.Status),
			"acknowledged_by": alert.AcknowledgedBy,
			"acknowledged_at": alert.AcknowledgedAt,
			"resolved_by":     alert.ResolvedBy,
			"resolved_at":     alert.ResolvedAt,
		}).Error
	})
}

func (r *riskRepository) ListActiveAlerts(ctx context.Context) ([]*domain.RiskAlert, error) {
	var models []*RiskAlertModel
	err := r.db.WithContext(ctx).
		Where("status <> ?", string(domain.AlertStatusResolved)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.RiskAlert, 0, len(models))
	for _, m := range models {
		out = append(out, toAlert(m))
	}
	return out, nil
}

func (r *riskRepository) SaveViolation(ctx context.Context, v domain.RiskViolation) error {
	return r.db.WithContext(ctx).Create(toViolationModel(v)).Error
}

func (r *riskRepository) ListViolations(ctx context.Context, limit int) ([]domain.RiskViolation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var models []*RiskViolationModel
	err := r.db.WithContext(ctx).Order("detected_at DESC, id DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.RiskViolation, 0, len(models))
	for _, m := range models {
		out = append(out, toViolation(m))
	}
	return out, nil
}

func (r *riskRepository) RecordBreakerEvent(ctx context.Context, record domain.BreakerAuditRecord) error {
	m, err := toBreakerEventModel(record)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *riskRepository) ListBreakerEvents(ctx context.Context, limit int) ([]domain.BreakerAuditRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var models []*BreakerEventModel
	err := r.db.WithContext(ctx).Order("occurred_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.BreakerAuditRecord, 0, len(models))
	for _, m := range models {
		rec, err := toBreakerRecord(m)
		if err != nil {
			return nil, fmt.Errorf("decode breaker event %s: %w", m.ID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
