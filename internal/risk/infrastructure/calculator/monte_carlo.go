package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrNonPositiveEquity 组合净值不为正，比例类指标无意义
	ErrNonPositiveEquity = errors.New("portfolio equity is not positive")
	// ErrNoPrice 信号和组合都无法给出有效价格
	ErrNoPrice = errors.New("no usable price for symbol")
)

// 增量 VaR 占净值比例折算为风险分的放大系数，VaR 增加 10% 净值即为满分
var incrementalVaRScale = decimal.NewFromInt(10)

var concentrationNoteFloor = decimal.RequireFromString("0.5")

// MonteCarloConfig 蒙特卡洛参数
type MonteCarloConfig struct {
	// 模拟路径数
	Simulations int
	// VaR 置信度，如 0.95
	Confidence float64
	// 风险期限，单位为价格观测周期
	HorizonPeriods float64
	// 价格历史不足时使用的单期波动率
	DefaultVolatility float64
	// 随机种子，0 表示按启动时间生成
	Seed uint64
}

// DefaultMonteCarloConfig 默认参数：1 万条路径、95% 置信度、单期、2% 波动率
func DefaultMonteCarloConfig() MonteCarloConfig {
	return MonteCarloConfig{
		Simulations:       10000,
		Confidence:        0.95,
		HorizonPeriods:    1,
		DefaultVolatility: 0.02,
	}
}

// MonteCarloPortfolioCalculator 基于相关几何布朗运动模拟的组合风险计算器
type MonteCarloPortfolioCalculator struct {
	history *PriceHistory
	cfg     MonteCarloConfig
	seq     atomic.Uint64
}

// NewMonteCarloPortfolioCalculator 创建组合风险计算器，非法参数回落到默认值
func NewMonteCarloPortfolioCalculator(history *PriceHistory, cfg MonteCarloConfig) *MonteCarloPortfolioCalculator {
	def := DefaultMonteCarloConfig()
	if cfg.Simulations < 100 {
		cfg.Simulations = def.Simulations
	}
	if cfg.Confidence <= 0.5 || cfg.Confidence >= 1 {
		cfg.Confidence = def.Confidence
	}
	if cfg.HorizonPeriods <= 0 {
		cfg.HorizonPeriods = def.HorizonPeriods
	}
	if cfg.DefaultVolatility <= 0 {
		cfg.DefaultVolatility = def.DefaultVolatility
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if history == nil {
		history = NewPriceHistory(DefaultHistoryWindow)
	}
	return &MonteCarloPortfolioCalculator{history: history, cfg: cfg}
}

// CalculatePortfolioRisk 计算 VaR、ES、杠杆与单资产敞口
func (c *MonteCarloPortfolioCalculator) CalculatePortfolioRisk(ctx context.Context, portfolio domain.Portfolio) (domain.PortfolioRisk, error) {
	out := domain.PortfolioRisk{AssetExposures: map[string]decimal.Decimal{}}

	symbols := heldSymbols(portfolio)
	if len(symbols) == 0 {
		return out, nil
	}
	total := portfolio.TotalValue()
	if !total.IsPositive() {
		return out, fmt.Errorf("%w: %s", ErrNonPositiveEquity, total)
	}

	values := make([]float64, len(symbols))
	for i, s := range symbols {
		mv := portfolio.Positions[s].MarketValue()
		values[i] = mv.InexactFloat64()
		out.AssetExposures[s] = mv.Abs().Div(total)
	}
	out.LeverageRatio = portfolio.GrossExposure().Div(total)

	pnls, err := c.simulate(ctx, symbols, values)
	if err != nil {
		return out, err
	}
	v, es := tailLoss(pnls[0], c.cfg.Confidence)
	out.VaR95 = decimal.NewFromFloat(v).Round(8)
	out.ExpectedShortfall = decimal.NewFromFloat(es).Round(8)
	return out, nil
}

// AssessSignalImpact 估算按 potentialPosition 成交后组合 VaR 与集中度的变化。
// 成交前后两个组合共享同一组模拟路径，增量 VaR 不受抽样噪声影响。
func (c *MonteCarloPortfolioCalculator) AssessSignalImpact(ctx context.Context, signal domain.TradingSignal, portfolio domain.Portfolio, potentialPosition decimal.Decimal) (domain.PortfolioRiskImpact, error) {
	var out domain.PortfolioRiskImpact

	price, err := signalPrice(signal, portfolio)
	if err != nil {
		return out, err
	}
	total := portfolio.TotalValue()
	if !total.IsPositive() {
		return out, fmt.Errorf("%w: %s", ErrNonPositiveEquity, total)
	}

	delta := potentialPosition.Abs()
	if signal.Side == domain.SideSell {
		delta = delta.Neg()
	}

	symbols := heldSymbols(portfolio)
	if !slices.Contains(symbols, signal.Symbol) {
		symbols = append(symbols, signal.Symbol)
	}
	before := make([]float64, len(symbols))
	after := make([]float64, len(symbols))
	for i, s := range symbols {
		pos := portfolio.Positions[s]
		before[i] = pos.MarketValue().InexactFloat64()
		after[i] = before[i]
		if s == signal.Symbol {
			before[i] = pos.Quantity.Mul(price).InexactFloat64()
			after[i] = pos.Quantity.Add(delta).Mul(price).InexactFloat64()
		}
	}

	pnls, err := c.simulate(ctx, symbols, before, after)
	if err != nil {
		return out, err
	}
	varBefore, _ := tailLoss(pnls[0], c.cfg.Confidence)
	varAfter, _ := tailLoss(pnls[1], c.cfg.Confidence)

	// 现金与持仓按同一价格互换，净值只因重估该资产而变化
	pos := portfolio.Positions[signal.Symbol]
	totalAfter := total.Sub(pos.MarketValue()).Add(pos.Quantity.Mul(price))
	if !totalAfter.IsPositive() {
		return out, fmt.Errorf("%w after trade: %s", ErrNonPositiveEquity, totalAfter)
	}
	exposureAfter := pos.Quantity.Add(delta).Mul(price).Abs()

	out.IncrementalVaR = decimal.NewFromFloat(varAfter - varBefore).Round(8)
	out.ConcentrationAfter = exposureAfter.Div(totalAfter)

	score := out.ConcentrationAfter
	if out.IncrementalVaR.IsPositive() {
		if s := out.IncrementalVaR.Div(total).Mul(incrementalVaRScale); s.GreaterThan(score) {
			score = s
		}
	}
	out.RiskScore = domain.ClampUnit(score)

	if out.ConcentrationAfter.GreaterThan(concentrationNoteFloor) {
		out.Notes = append(out.Notes, fmt.Sprintf("%s would be %s%% of the portfolio",
			signal.Symbol, out.ConcentrationAfter.Mul(decimal.NewFromInt(100)).StringFixed(1)))
	}
	if out.IncrementalVaR.IsNegative() {
		out.Notes = append(out.Notes, "signal reduces portfolio VaR")
	}
	return out, nil
}

// MarginalRisk 单位仓位的参数法 VaR 与杠杆增量
func (c *MonteCarloPortfolioCalculator) MarginalRisk(_ context.Context, signal domain.TradingSignal, portfolio domain.Portfolio) (domain.MarginalRisk, error) {
	var out domain.MarginalRisk

	price, err := signalPrice(signal, portfolio)
	if err != nil {
		return out, err
	}
	total := portfolio.TotalValue()
	if !total.IsPositive() {
		return out, fmt.Errorf("%w: %s", ErrNonPositiveEquity, total)
	}

	vol := c.volatility(signal.Symbol)
	z := distuv.UnitNormal.Quantile(c.cfg.Confidence)
	perUnit := vol * math.Sqrt(c.cfg.HorizonPeriods) * z

	out.VaRPerUnit = price.Mul(decimal.NewFromFloat(perUnit)).Round(8)
	out.LeveragePerUnit = price.Div(total)
	return out, nil
}

func (c *MonteCarloPortfolioCalculator) volatility(symbol string) float64 {
	if v, ok := c.history.Volatility(symbol); ok && v > 0 {
		return v
	}
	return c.cfg.DefaultVolatility
}

// covariance 期限内对数收益率协方差 Cov(i,j) = rho(i,j) * sigma(i) * sigma(j) * T
func (c *MonteCarloPortfolioCalculator) covariance(symbols []string) *mat.SymDense {
	n := len(symbols)
	vols := make([]float64, n)
	for i, s := range symbols {
		vols[i] = c.volatility(s)
	}
	cov := mat.NewSymDense(n, nil)
	for i := range n {
		cov.SetSym(i, i, vols[i]*vols[i]*c.cfg.HorizonPeriods)
		for j := i + 1; j < n; j++ {
			rho, _ := c.history.Correlation(symbols[i], symbols[j])
			cov.SetSym(i, j, rho*vols[i]*vols[j]*c.cfg.HorizonPeriods)
		}
	}
	return cov
}

// simulate 对同一组相关随机路径计算每个价值向量的损益，结果升序排列
func (c *MonteCarloPortfolioCalculator) simulate(ctx context.Context, symbols []string, valueSets ...[]float64) ([][]float64, error) {
	n := len(symbols)
	cov := c.covariance(symbols)

	l := mat.NewTriDense(n, mat.Lower, nil)
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		chol.LTo(l)
	} else {
		// 历史相关矩阵非正定时退化为独立资产
		for i := range n {
			l.SetTri(i, i, math.Sqrt(cov.At(i, i)))
		}
	}

	drifts := make([]float64, n)
	for i := range n {
		drifts[i] = -0.5 * cov.At(i, i)
	}

	rng := rand.New(rand.NewPCG(c.cfg.Seed, c.seq.Add(1)))
	z := mat.NewVecDense(n, nil)
	x := mat.NewVecDense(n, nil)

	pnls := make([][]float64, len(valueSets))
	for k := range pnls {
		pnls[k] = make([]float64, c.cfg.Simulations)
	}
	growth := make([]float64, n)
	for s := 0; s < c.cfg.Simulations; s++ {
		if s%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for i := range n {
			z.SetVec(i, rng.NormFloat64())
		}
		x.MulVec(l, z)
		for i := range n {
			growth[i] = math.Exp(drifts[i]+x.AtVec(i)) - 1
		}
		for k, values := range valueSets {
			var pnl float64
			for i := range n {
				pnl += values[i] * growth[i]
			}
			pnls[k][s] = pnl
		}
	}
	for k := range pnls {
		slices.Sort(pnls[k])
	}
	return pnls, nil
}

// tailLoss 从升序损益中取 VaR 与 ES，均以正数表示损失
func tailLoss(sorted []float64, confidence float64) (valueAtRisk, shortfall float64) {
	if len(sorted) == 0 {
		return 0, 0
	}
	idx := max(int(math.Floor(float64(len(sorted))*(1-confidence))), 0)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	var sum float64
	for i := 0; i <= idx; i++ {
		sum += sorted[i]
	}
	return math.Max(0, -sorted[idx]), math.Max(0, -sum/float64(idx+1))
}

// heldSymbols 非零持仓的资产，按名称排序
func heldSymbols(p domain.Portfolio) []string {
	out := make([]string, 0, len(p.Positions))
	for s, pos := range p.Positions {
		if pos.Quantity.IsZero() || pos.MarketPrice.IsZero() {
			continue
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func signalPrice(signal domain.TradingSignal, p domain.Portfolio) (decimal.Decimal, error) {
	if signal.Price.IsPositive() {
		return signal.Price, nil
	}
	if pos, ok := p.Positions[signal.Symbol]; ok && pos.MarketPrice.IsPositive() {
		return pos.MarketPrice, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, signal.Symbol)
}
