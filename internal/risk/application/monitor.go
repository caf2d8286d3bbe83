package application

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// monitorLoop 监控主循环：启动即执行一次，之后按间隔执行。
// 出错时按指数退避延长间隔；MEDIUM 违规后若干周期使用加速间隔；收到重算请求时立即执行。
func (m *RiskManager) monitorLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.ErrorBackoffInitial
	bo.MaxInterval = m.opts.ErrorBackoffMax
	bo.Multiplier = 2

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-m.recalc:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := m.runTick(ctx, bo)
		timer.Reset(next)
	}
}

// runTick 执行一个周期并返回下一次等待时间
func (m *RiskManager) runTick(ctx context.Context, bo *backoff.ExponentialBackOff) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "risk cycle panicked", "panic", r)
			next = bo.NextBackOff()
		}
	}()

	if err := m.RunRiskCycle(ctx); err != nil {
		if ctx.Err() != nil {
			return m.opts.Interval
		}
		wait := bo.NextBackOff()
		logger.Error(ctx, "risk cycle failed, backing off", "error", err, "retry_in", wait)
		return wait
	}
	bo.Reset()
	return m.nextInterval()
}

// nextInterval 加速周期未用完时返回 FastInterval
func (m *RiskManager) nextInterval() time.Duration {
	for {
		n := m.fastTicks.Load()
		if n <= 0 {
			return m.opts.Interval
		}
		if m.fastTicks.CompareAndSwap(n, n-1) {
			return m.opts.FastInterval
		}
	}
}

// boostMonitoring 进入加速监控
func (m *RiskManager) boostMonitoring() {
	m.fastTicks.Store(int32(m.opts.FastTicks))
}
