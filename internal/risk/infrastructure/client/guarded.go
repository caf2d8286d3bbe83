// Package client 外部风险计算依赖的调用保护与健康探测
package client

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// BreakerSettings 调用保护参数
type BreakerSettings struct {
	// 连续失败多少次后打开
	Failures uint32
	// 打开状态持续时间，之后放行一个探测请求
	Timeout time.Duration
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	return s
}

func newBreaker(name string, s BreakerSettings) *gobreaker.CircuitBreaker {
	s = s.withDefaults()
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.Failures
		},
		// 调用方主动取消不计入失败
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Dependency breaker state changed",
				"dependency", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// breakerProbe 将调用保护状态暴露为健康探测，打开时视为不健康
func breakerProbe(cb *gobreaker.CircuitBreaker) Probe {
	return Probe{
		Name: "breaker:" + cb.Name(),
		Check: func(context.Context) error {
			if cb.State() == gobreaker.StateOpen {
				return gobreaker.ErrOpenState
			}
			return nil
		},
	}
}

// GuardedPortfolioRisk 带调用保护的组合风险计算器
type GuardedPortfolioRisk struct {
	inner domain.PortfolioRiskCalculator
	cb    *gobreaker.CircuitBreaker
}

// NewGuardedPortfolioRisk 包装组合风险计算器
func NewGuardedPortfolioRisk(inner domain.PortfolioRiskCalculator, s BreakerSettings) *GuardedPortfolioRisk {
	return &GuardedPortfolioRisk{inner: inner, cb: newBreaker("portfolio_risk", s)}
}

func (g *GuardedPortfolioRisk) AssessSignalImpact(ctx context.Context, signal domain.TradingSignal, portfolio domain.Portfolio, potentialPosition decimal.Decimal) (domain.PortfolioRiskImpact, error) {
	return execute(g.cb, func() (domain.PortfolioRiskImpact, error) {
		return g.inner.AssessSignalImpact(ctx, signal, portfolio, potentialPosition)
	})
}

func (g *GuardedPortfolioRisk) CalculatePortfolioRisk(ctx context.Context, portfolio domain.Portfolio) (domain.PortfolioRisk, error) {
	return execute(g.cb, func() (domain.PortfolioRisk, error) {
		return g.inner.CalculatePortfolioRisk(ctx, portfolio)
	})
}

func (g *GuardedPortfolioRisk) MarginalRisk(ctx context.Context, signal domain.TradingSignal, portfolio domain.Portfolio) (domain.MarginalRisk, error) {
	return execute(g.cb, func() (domain.MarginalRisk, error) {
		return g.inner.MarginalRisk(ctx, signal, portfolio)
	})
}

// Probe 调用保护状态探测
func (g *GuardedPortfolioRisk) Probe() Probe { return breakerProbe(g.cb) }

// GuardedMarketRisk 带调用保护的市场风险计算器
type GuardedMarketRisk struct {
	inner domain.MarketRiskCalculator
	cb    *gobreaker.CircuitBreaker
}

// NewGuardedMarketRisk 包装市场风险计算器
func NewGuardedMarketRisk(inner domain.MarketRiskCalculator, s BreakerSettings) *GuardedMarketRisk {
	return &GuardedMarketRisk{inner: inner, cb: newBreaker("market_risk", s)}
}

func (g *GuardedMarketRisk) AssessSignalRisk(ctx context.Context, signal domain.TradingSignal) (domain.MarketRiskImpact, error) {
	return execute(g.cb, func() (domain.MarketRiskImpact, error) {
		return g.inner.AssessSignalRisk(ctx, signal)
	})
}

func (g *GuardedMarketRisk) CalculateMarketRisk(ctx context.Context, portfolio domain.Portfolio) (domain.MarketRisk, error) {
	return execute(g.cb, func() (domain.MarketRisk, error) {
		return g.inner.CalculateMarketRisk(ctx, portfolio)
	})
}

// Probe 调用保护状态探测
func (g *GuardedMarketRisk) Probe() Probe { return breakerProbe(g.cb) }

// GuardedCompliance 带调用保护的合规引擎
type GuardedCompliance struct {
	inner domain.ComplianceEngine
	cb    *gobreaker.CircuitBreaker
}

// NewGuardedCompliance 包装合规引擎
func NewGuardedCompliance(inner domain.ComplianceEngine, s BreakerSettings) *GuardedCompliance {
	return &GuardedCompliance{inner: inner, cb: newBreaker("compliance", s)}
}

func (g *GuardedCompliance) ValidateSignal(ctx context.Context, signal domain.TradingSignal) (domain.ComplianceResult, error) {
	return execute(g.cb, func() (domain.ComplianceResult, error) {
		return g.inner.ValidateSignal(ctx, signal)
	})
}

// Probe 调用保护状态探测
func (g *GuardedCompliance) Probe() Probe { return breakerProbe(g.cb) }
