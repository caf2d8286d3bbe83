// Package redis 将最新风险快照与熔断状态镜像到 Redis，供网关等其它进程读取
package redis

import (
	"context"
	"time"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

// JSONCache SnapshotStore 依赖的缓存能力，由 pkg/cache.RedisCache 实现
type JSONCache interface {
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
}

type snapshotStore struct {
	cache  JSONCache
	prefix string
	ttl    time.Duration
}

// NewSnapshotStore 创建快照镜像。快照带 TTL，风控进程停止后镜像自然过期；熔断状态不过期。
func NewSnapshotStore(cache JSONCache, prefix string, ttl time.Duration) domain.SnapshotStore {
	if prefix == "" {
		prefix = "risk:"
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &snapshotStore{cache: cache, prefix: prefix, ttl: ttl}
}

func (s *snapshotStore) snapshotKey() string { return s.prefix + "snapshot:latest" }
func (s *snapshotStore) breakerKey() string  { return s.prefix + "breaker:status" }

func (s *snapshotStore) SaveSnapshot(ctx context.Context, m *domain.RiskMetrics) error {
	return s.cache.SetJSON(ctx, s.snapshotKey(), m, s.ttl)
}

func (s *snapshotStore) GetSnapshot(ctx context.Context) (*domain.RiskMetrics, error) {
	var m domain.RiskMetrics
	found, err := s.cache.GetJSON(ctx, s.snapshotKey(), &m)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNoSnapshot
	}
	return &m, nil
}

func (s *snapshotStore) SaveBreakerStatus(ctx context.Context, status domain.BreakerStatus) error {
	return s.cache.SetJSON(ctx, s.breakerKey(), status, 0)
}

func (s *snapshotStore) GetBreakerStatus(ctx context.Context) (*domain.BreakerStatus, error) {
	var status domain.BreakerStatus
	found, err := s.cache.GetJSON(ctx, s.breakerKey(), &status)
	if err != nil || !found {
		return nil, err
	}
	return &status, nil
}
