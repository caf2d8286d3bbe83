package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// BusOrderCanceller 熔断时向执行侧发布全量撤单指令
type BusOrderCanceller struct {
	bus domain.EventBus
	now func() time.Time
}

// NewBusOrderCanceller 创建撤单指令发布器
func NewBusOrderCanceller(bus domain.EventBus) *BusOrderCanceller {
	return &BusOrderCanceller{bus: bus, now: time.Now}
}

// CancelAllOrders 发布 CancelAllOrdersCommand
func (c *BusOrderCanceller) CancelAllOrders(ctx context.Context, reason string) error {
	cmd := domain.CancelAllOrdersCommand{CommandID: uuid.NewString(), Reason: reason, IssuedAt: c.now()}
	if err := c.bus.Publish(ctx, domain.TopicOrderCommands, cmd); err != nil {
		return err
	}
	logger.Warn(ctx, "cancel-all-orders command issued", "command_id", cmd.CommandID, "reason", reason)
	return nil
}

// BusBreakerNotifier 发布熔断状态变更，并把最新状态镜像到外部存储供其它进程读取
type BusBreakerNotifier struct {
	bus    domain.EventBus
	mirror domain.SnapshotStore
}

// NewBusBreakerNotifier mirror 可为 nil
func NewBusBreakerNotifier(bus domain.EventBus, mirror domain.SnapshotStore) *BusBreakerNotifier {
	return &BusBreakerNotifier{bus: bus, mirror: mirror}
}

// BreakerChanged 发布审计记录到 circuit_breaker 主题
func (n *BusBreakerNotifier) BreakerChanged(ctx context.Context, record domain.BreakerAuditRecord) error {
	var errs []error
	if err := n.bus.Publish(ctx, domain.TopicCircuitBreaker, record); err != nil {
		errs = append(errs, err)
	}
	if n.mirror != nil {
		if err := n.mirror.SaveBreakerStatus(ctx, record.To); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
