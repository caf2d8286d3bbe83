// Package messaging 事件总线实现：Kafka 与进程内两种传输。
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// MemoryBus 进程内事件总线，发布时在调用方 goroutine 中同步投递。
// 用于单机部署与测试；处理函数的错误只记录日志，不回传给发布方。
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]domain.EventHandler
	now      func() time.Time
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string]map[string]domain.EventHandler),
		now:      time.Now,
	}
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    string
	once  sync.Once
}

func (s *memorySubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.handlers[s.topic], s.id)
	})
	return nil
}

// Subscribe 订阅主题
func (b *MemoryBus) Subscribe(topic string, handler domain.EventHandler) (domain.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler for topic %s", topic)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]domain.EventHandler)
	}
	id := uuid.NewString()
	b.handlers[topic][id] = handler
	return &memorySubscription{bus: b, topic: topic, id: id}, nil
}

// Publish 序列化后投递给当前订阅者
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	event := domain.Event{Topic: topic, Key: eventKey(payload), Payload: data, Time: b.now()}

	b.mu.RLock()
	handlers := make([]domain.EventHandler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			logger.Error(ctx, "event handler failed", "topic", topic, "error", err)
		}
	}
	return nil
}

// eventKey 消息分区键：同一违规类型、同一资产的事件保持顺序
func eventKey(payload any) string {
	switch p := payload.(type) {
	case domain.RiskViolationEvent:
		return string(p.Violation.Type) + ":" + p.Violation.AssetAffected
	case domain.BreakerAuditRecord:
		return "circuit_breaker"
	case domain.CancelAllOrdersCommand:
		return p.CommandID
	case domain.RiskMetricsUpdatedEvent:
		return "risk_metrics"
	case *domain.RiskAlert:
		return p.AlertID
	case domain.RiskAlertEvent:
		return p.Alert.AlertID
	default:
		return ""
	}
}
