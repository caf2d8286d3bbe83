package application

import (
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

// AlertBook 活跃告警表，按 alertId 索引，解决后移出
type AlertBook struct {
	mu     sync.RWMutex
	alerts map[string]*domain.RiskAlert
}

// NewAlertBook 创建告警表
func NewAlertBook() *AlertBook {
	return &AlertBook{alerts: make(map[string]*domain.RiskAlert)}
}

// Put 写入告警副本，之后对账本内告警的修改不会影响调用方持有的指针
func (b *AlertBook) Put(a *domain.RiskAlert) {
	cp := a.Clone()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts[cp.AlertID] = cp
}

// Get 返回告警副本
func (b *AlertBook) Get(id string) (*domain.RiskAlert, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.alerts[id]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	return a.Clone(), nil
}

// Acknowledge 确认告警
func (b *AlertBook) Acknowledge(id, by string, at time.Time) (*domain.RiskAlert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.alerts[id]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	if err := a.Acknowledge(by, at); err != nil {
		return nil, err
	}
	return a.Clone(), nil
}

// Resolve 解决告警并移出活跃表
func (b *AlertBook) Resolve(id, by string, at time.Time) (*domain.RiskAlert, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.alerts[id]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	if err := a.Resolve(by, at); err != nil {
		return nil, err
	}
	delete(b.alerts, id)
	return a.Clone(), nil
}

// Active 按创建时间返回活跃告警副本
func (b *AlertBook) Active() []*domain.RiskAlert {
	b.mu.RLock()
	out := make([]*domain.RiskAlert, 0, len(b.alerts))
	for _, a := range b.alerts {
		out = append(out, a.Clone())
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AlertID < out[j].AlertID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len 活跃告警数
func (b *AlertBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.alerts)
}
