// Package ratelimit 提供按 key 划分的进程内令牌桶限流
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limit 限流规则：每 Period 允许 Rate 次，突发 Burst
type Limit struct {
	Rate   float64
	Period time.Duration
	Burst  int
}

func (l Limit) perSecond() rate.Limit {
	if l.Period <= 0 || l.Rate <= 0 {
		return rate.Inf
	}
	return rate.Limit(l.Rate / l.Period.Seconds())
}

// RateLimiter 限流接口
type RateLimiter interface {
	Allow(key string) bool
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter 每个 key 一个令牌桶，长时间未使用的 key 会被清理
type KeyedLimiter struct {
	mu      sync.Mutex
	limit   Limit
	idleTTL time.Duration
	buckets map[string]*entry
	now     func() time.Time
	sweeps  int
}

// NewKeyedLimiter 创建限流器
func NewKeyedLimiter(limit Limit, idleTTL time.Duration) *KeyedLimiter {
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedLimiter{
		limit:   limit,
		idleTTL: idleTTL,
		buckets: make(map[string]*entry),
		now:     time.Now,
	}
}

// Allow 判断 key 当前是否允许通过
func (k *KeyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	e, ok := k.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit.perSecond(), k.limit.Burst)}
		k.buckets[key] = e
	}
	e.lastSeen = now

	k.sweeps++
	if k.sweeps >= 256 {
		k.sweeps = 0
		for key, b := range k.buckets {
			if now.Sub(b.lastSeen) > k.idleTTL {
				delete(k.buckets, key)
			}
		}
	}
	return e.limiter.AllowN(now, 1)
}

// Len 当前跟踪的 key 数
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}
