package domain

import "context"

// RiskRepository 告警、违规历史与熔断审计的持久化
type RiskRepository interface {
	BreakerAuditSink
	SaveAlert(ctx context.Context, alert *RiskAlert) error
	UpdateAlert(ctx context.Context, alert *RiskAlert) error
	ListActiveAlerts(ctx context.Context) ([]*RiskAlert, error)
	SaveViolation(ctx context.Context, v RiskViolation) error
	ListViolations(ctx context.Context, limit int) ([]RiskViolation, error)
	ListBreakerEvents(ctx context.Context, limit int) ([]BreakerAuditRecord, error)
}

// SnapshotStore 最新风险快照与熔断状态的外部镜像，供其它进程读取
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, m *RiskMetrics) error
	GetSnapshot(ctx context.Context) (*RiskMetrics, error)
	SaveBreakerStatus(ctx context.Context, s BreakerStatus) error
	GetBreakerStatus(ctx context.Context) (*BreakerStatus, error)
}
