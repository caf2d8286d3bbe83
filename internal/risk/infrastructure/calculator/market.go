package calculator

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"gonum.org/v1/gonum/stat"
)

// MarketConfig 市场风险参数
type MarketConfig struct {
	// 计算 beta 的基准资产，如 BTC-USD
	Benchmark string
	// 价格历史不足时使用的单期波动率
	DefaultVolatility float64
	// 单期波动率达到该值时信号市场风险分为 1
	HighVolatility float64
}

// DefaultMarketConfig 默认市场风险参数
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		DefaultVolatility: 0.02,
		HighVolatility:    0.05,
	}
}

// HistoricalMarketCalculator 基于历史收益率的 beta、波动率与相关性计算器
type HistoricalMarketCalculator struct {
	history *PriceHistory
	cfg     MarketConfig
}

// NewHistoricalMarketCalculator 创建市场风险计算器
func NewHistoricalMarketCalculator(history *PriceHistory, cfg MarketConfig) *HistoricalMarketCalculator {
	def := DefaultMarketConfig()
	if cfg.DefaultVolatility <= 0 {
		cfg.DefaultVolatility = def.DefaultVolatility
	}
	if cfg.HighVolatility <= 0 {
		cfg.HighVolatility = def.HighVolatility
	}
	if history == nil {
		history = NewPriceHistory(DefaultHistoryWindow)
	}
	return &HistoricalMarketCalculator{history: history, cfg: cfg}
}

// CalculateMarketRisk 计算组合波动率、相对基准的 beta 与持仓间相关矩阵
func (c *HistoricalMarketCalculator) CalculateMarketRisk(ctx context.Context, portfolio domain.Portfolio) (domain.MarketRisk, error) {
	out := domain.MarketRisk{CorrelationMatrix: map[string]map[string]decimal.Decimal{}}

	symbols := heldSymbols(portfolio)
	if len(symbols) == 0 {
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	gross := portfolio.GrossExposure().InexactFloat64()
	weights := make([]float64, len(symbols))
	for i, s := range symbols {
		weights[i] = portfolio.Positions[s].MarketValue().InexactFloat64() / gross
	}

	vol, rp := c.portfolioReturns(symbols, weights)
	out.PortfolioVolatility = toDecimal(vol)
	out.Beta = toDecimal(c.beta(rp))

	maxRho := 0.0
	for i, a := range symbols {
		row := make(map[string]decimal.Decimal, len(symbols))
		row[a] = decimal.NewFromInt(1)
		for j, b := range symbols {
			if i == j {
				continue
			}
			rho, _ := c.history.Correlation(a, b)
			row[b] = toDecimal(rho)
			maxRho = math.Max(maxRho, math.Abs(rho))
		}
		out.CorrelationMatrix[a] = row
	}
	out.MaxCorrelation = toDecimal(math.Min(1, maxRho))
	return out, nil
}

// AssessSignalRisk 按资产波动率评估信号的市场风险
func (c *HistoricalMarketCalculator) AssessSignalRisk(_ context.Context, signal domain.TradingSignal) (domain.MarketRiskImpact, error) {
	var out domain.MarketRiskImpact

	vol, ok := c.history.Volatility(signal.Symbol)
	if !ok {
		vol = c.cfg.DefaultVolatility
		out.Notes = append(out.Notes, fmt.Sprintf("insufficient price history for %s, assuming %.2f%% volatility",
			signal.Symbol, vol*100))
	}
	out.Volatility = toDecimal(vol)
	out.RiskScore = domain.ClampUnit(toDecimal(vol / c.cfg.HighVolatility))
	return out, nil
}

// portfolioReturns 返回组合单期波动率及加权收益率序列。
// 持仓资产都有足够历史时用组合收益率序列的标准差，否则按各资产波动率线性加总。
func (c *HistoricalMarketCalculator) portfolioReturns(symbols []string, weights []float64) (float64, []float64) {
	returns := make([][]float64, len(symbols))
	n := math.MaxInt
	for i, s := range symbols {
		returns[i] = c.history.Returns(s)
		n = min(n, len(returns[i]))
	}

	if n >= 2 {
		rp := make([]float64, n)
		for i, r := range returns {
			tail := r[len(r)-n:]
			for t := range n {
				rp[t] += weights[i] * tail[t]
			}
		}
		if v := stat.StdDev(rp, nil); !math.IsNaN(v) {
			return v, rp
		}
	}

	var vol float64
	for i, s := range symbols {
		v, ok := c.history.Volatility(s)
		if !ok {
			v = c.cfg.DefaultVolatility
		}
		vol += math.Abs(weights[i]) * v
	}
	return vol, nil
}

// beta 组合收益率对基准收益率的回归斜率，历史不足时视为与基准同向同幅
func (c *HistoricalMarketCalculator) beta(rp []float64) float64 {
	if c.cfg.Benchmark == "" || len(rp) < 2 {
		return 1
	}
	rp, rb := alignTail(rp, c.history.Returns(c.cfg.Benchmark))
	if len(rb) < 2 {
		return 1
	}
	varB := stat.Variance(rb, nil)
	if varB == 0 || math.IsNaN(varB) {
		return 1
	}
	b := stat.Covariance(rp, rb, nil) / varB
	if math.IsNaN(b) || math.IsInf(b, 0) {
		return 1
	}
	return b
}

func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v).Round(8)
}
