package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// 计算来源
const (
	SourcePortfolio   = "portfolio"
	SourceMarket      = "market"
	SourceOperational = "operational"
	SourceAggregator  = "aggregator"
	SourceCompliance  = "compliance"
)

// RiskMetricsAggregator 并发调用三个风险计算器并合成快照。
// 任一计算器失败或结果不满足不变量时返回保守快照，而不是部分结果。
type RiskMetricsAggregator struct {
	portfolio   domain.PortfolioRiskCalculator
	market      domain.MarketRiskCalculator
	operational domain.OperationalRiskMonitor
	limits      func() domain.RiskLimits
	metrics     *metrics.Metrics
	timeout     time.Duration
	now         func() time.Time
}

// NewRiskMetricsAggregator 创建聚合器，timeout 为单个计算器的超时
func NewRiskMetricsAggregator(
	portfolio domain.PortfolioRiskCalculator,
	market domain.MarketRiskCalculator,
	operational domain.OperationalRiskMonitor,
	limits func() domain.RiskLimits,
	m *metrics.Metrics,
	timeout time.Duration,
) *RiskMetricsAggregator {
	return &RiskMetricsAggregator{
		portfolio:   portfolio,
		market:      market,
		operational: operational,
		limits:      limits,
		metrics:     m,
		timeout:     timeout,
		now:         time.Now,
	}
}

// CalculateComprehensiveRisk 计算组合的综合风险快照，永不返回 nil
func (a *RiskMetricsAggregator) CalculateComprehensiveRisk(ctx context.Context, portfolio domain.Portfolio) *domain.RiskMetrics {
	var (
		pr domain.PortfolioRisk
		mr domain.MarketRisk
		or domain.OperationalRisk
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pr, err = callWithTimeout(gctx, a.timeout, func(c context.Context) (domain.PortfolioRisk, error) {
			return a.portfolio.CalculatePortfolioRisk(c, portfolio)
		})
		return wrapCalc(SourcePortfolio, err)
	})
	g.Go(func() error {
		var err error
		mr, err = callWithTimeout(gctx, a.timeout, func(c context.Context) (domain.MarketRisk, error) {
			return a.market.CalculateMarketRisk(c, portfolio)
		})
		return wrapCalc(SourceMarket, err)
	})
	g.Go(func() error {
		var err error
		or, err = callWithTimeout(gctx, a.timeout, a.operational.AssessOperationalRisk)
		return wrapCalc(SourceOperational, err)
	})

	if err := g.Wait(); err != nil {
		return a.failSafe(ctx, err)
	}

	m := &domain.RiskMetrics{
		ValueAtRisk:       pr.VaR95,
		ExpectedShortfall: pr.ExpectedShortfall,
		LeverageRatio:     pr.LeverageRatio,
		AssetExposures:    pr.AssetExposures,
		MarketBeta:        mr.Beta,
		Volatility:        mr.PortfolioVolatility,
		MaxCorrelation:    mr.MaxCorrelation,
		CorrelationMatrix: mr.CorrelationMatrix,
		OperationalScore:  domain.ClampUnit(or.OverallScore),
		SystemHealthScore: domain.ClampUnit(or.SystemHealth),
		DailyPnL:          portfolio.DailyPnL,
		PortfolioValue:    portfolio.TotalValue(),
		CalculationTime:   a.now(),
	}
	if m.AssetExposures == nil {
		m.AssetExposures = map[string]decimal.Decimal{}
	}
	if err := checkInvariants(m); err != nil {
		return a.failSafe(ctx, &domain.CalculationError{Source: SourceAggregator, Err: err})
	}
	m.RiskScore = domain.CompositeScore(m, a.limits())
	return m
}

func (a *RiskMetricsAggregator) failSafe(ctx context.Context, err error) *domain.RiskMetrics {
	source := SourceAggregator
	var ce *domain.CalculationError
	if errors.As(err, &ce) {
		source = ce.Source
	}
	if a.metrics != nil {
		a.metrics.RecordCalculationFailure(source)
	}
	logger.Error(ctx, "risk calculation failed, publishing fail-safe snapshot", "source", source, "error", err)
	return domain.FailSafeMetrics(err, a.now())
}

func wrapCalc(source string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.CalculationError{Source: source, Err: err}
}

// checkInvariants 计算结果的基本约束：VaR、ES、杠杆、波动率与敞口均非负，相关系数不超过 1
func checkInvariants(m *domain.RiskMetrics) error {
	switch {
	case m.ValueAtRisk.IsNegative():
		return fmt.Errorf("negative value at risk: %s", m.ValueAtRisk)
	case m.ExpectedShortfall.IsNegative():
		return fmt.Errorf("negative expected shortfall: %s", m.ExpectedShortfall)
	case m.LeverageRatio.IsNegative():
		return fmt.Errorf("negative leverage ratio: %s", m.LeverageRatio)
	case m.Volatility.IsNegative():
		return fmt.Errorf("negative volatility: %s", m.Volatility)
	case m.MaxCorrelation.Abs().GreaterThan(decimal.NewFromInt(1)):
		return fmt.Errorf("correlation out of range: %s", m.MaxCorrelation)
	}
	for asset, e := range m.AssetExposures {
		if e.IsNegative() {
			return fmt.Errorf("negative exposure for %s: %s", asset, e)
		}
	}
	return nil
}
