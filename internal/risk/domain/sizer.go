package domain

import (
	"github.com/shopspring/decimal"
)

// sizePrecision 仓位计算保留的小数位，向下截断
const sizePrecision = 8

// BoundKind 仓位上限来源
type BoundKind string

const (
	BoundConcentration BoundKind = "concentration"
	BoundVaR           BoundKind = "var"
	BoundLeverage      BoundKind = "leverage"
	BoundDeclared      BoundKind = "declared"
	BoundDailyLoss     BoundKind = "daily_loss"
)

// Bound 单个仓位上限。Applicable 为 false 表示该维度不受此笔交易消耗，不参与取最小
type Bound struct {
	Kind       BoundKind       `json:"kind"`
	Value      decimal.Decimal `json:"value"`
	Applicable bool            `json:"applicable"`
}

// Limit 构造一个生效的上限，负值截断为 0
func Limit(kind BoundKind, v decimal.Decimal) Bound {
	if v.IsNegative() {
		v = decimal.Zero
	}
	return Bound{Kind: kind, Value: v, Applicable: true}
}

// Unbounded 构造一个不生效的上限
func Unbounded(kind BoundKind) Bound {
	return Bound{Kind: kind}
}

// SizeBounds 五个相互独立的仓位上限
type SizeBounds struct {
	Concentration Bound `json:"concentration"`
	VaR           Bound `json:"var"`
	Leverage      Bound `json:"leverage"`
	Declared      Bound `json:"declared"`
	DailyLoss     Bound `json:"daily_loss"`
}

// All 按固定顺序返回全部上限
func (b SizeBounds) All() []Bound {
	return []Bound{b.Concentration, b.VaR, b.Leverage, b.Declared, b.DailyLoss}
}

// Min 返回生效上限中的最小值及其来源；没有任何生效上限时返回 0
func (b SizeBounds) Min() (decimal.Decimal, BoundKind) {
	var (
		best  decimal.Decimal
		kind  BoundKind
		found bool
	)
	for _, bound := range b.All() {
		if !bound.Applicable {
			continue
		}
		if !found || bound.Value.LessThan(best) {
			best, kind, found = bound.Value, bound.Kind, true
		}
	}
	if !found {
		return decimal.Zero, ""
	}
	return best, kind
}

// SizingResult 仓位计算结果。仓位不可行用 Size=0、Viable=false 表达，而不是错误
type SizingResult struct {
	Size       decimal.Decimal `json:"size"`
	Viable     bool            `json:"viable"`
	Binding    BoundKind       `json:"binding,omitempty"`
	PreScaling decimal.Decimal `json:"pre_scaling"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Reduced    bool            `json:"reduced"`
	Reason     string          `json:"reason,omitempty"`
	Bounds     SizeBounds      `json:"bounds"`
}

// NotViable 构造不可行结果
func NotViable(reason string) SizingResult {
	return SizingResult{Size: decimal.Zero, Reason: reason}
}

// PositionSizer 在多重约束下计算信号可执行的最大仓位，无状态
type PositionSizer struct{}

// Bounds 计算五个上限：
//   - 集中度余量 (上限 - 当前敞口) * 组合价值 / 价格
//   - VaR 余量 / 单位边际 VaR
//   - 杠杆余量 / 单位边际杠杆
//   - 信号声明数量
//   - 日内亏损余量 / (价格 * 最坏不利变动)
func (PositionSizer) Bounds(signal TradingSignal, current *RiskMetrics, limits RiskLimits, marginal MarginalRisk) SizeBounds {
	price := signal.Price
	b := SizeBounds{Declared: Limit(BoundDeclared, signal.DeclaredSize)}

	if !price.IsPositive() || current == nil {
		b.Concentration = Limit(BoundConcentration, decimal.Zero)
		b.DailyLoss = Limit(BoundDailyLoss, decimal.Zero)
		b.VaR = Limit(BoundVaR, decimal.Zero)
		b.Leverage = Limit(BoundLeverage, decimal.Zero)
		return b
	}

	concHeadroom := limits.ConcentrationLimit(signal.Symbol).Sub(current.Exposure(signal.Symbol))
	b.Concentration = Limit(BoundConcentration, concHeadroom.Mul(current.PortfolioValue).Div(price))

	b.VaR = headroomBound(BoundVaR, limits.MaxVaR.Sub(current.ValueAtRisk), marginal.VaRPerUnit)
	b.Leverage = headroomBound(BoundLeverage, limits.MaxLeverage.Sub(current.LeverageRatio), marginal.LeveragePerUnit)

	remainingLoss := limits.MaxDailyLoss
	if current.DailyPnL.IsNegative() {
		remainingLoss = remainingLoss.Add(current.DailyPnL)
	}
	worst := limits.WorstCaseMove
	if !worst.IsPositive() {
		worst = DefaultWorstCaseMove
	}
	b.DailyLoss = Limit(BoundDailyLoss, remainingLoss.Div(price.Mul(worst)))
	return b
}

func headroomBound(kind BoundKind, headroom, perUnit decimal.Decimal) Bound {
	if !perUnit.IsPositive() {
		return Unbounded(kind)
	}
	return Limit(kind, headroom.Div(perUnit))
}

// ConfidenceMultiplier 置信度乘数，截断到 [0,1]
func ConfidenceMultiplier(confidence decimal.Decimal) decimal.Decimal {
	return ClampUnit(confidence)
}

// Resolve 将上限合成为最终仓位：
// 取生效上限最小值，减仓模式下再乘收缩系数，然后按置信度缩放；
// 缩放后低于最小下单量时，若缩放前不低于最小下单量则取最小下单量，否则不可行。
// reduction 为零值表示未处于减仓模式。
func (PositionSizer) Resolve(bounds SizeBounds, confidence, minSize, reduction decimal.Decimal) SizingResult {
	pre, kind := bounds.Min()
	res := SizingResult{Binding: kind, Bounds: bounds, Multiplier: ConfidenceMultiplier(confidence)}
	if reduction.IsPositive() {
		pre = pre.Mul(reduction)
		res.Reduced = true
	}
	res.PreScaling = pre

	if !pre.IsPositive() {
		res.Size = decimal.Zero
		res.Reason = "no headroom on " + string(kind)
		return res
	}

	size := pre.Mul(res.Multiplier).Truncate(sizePrecision)
	if size.LessThan(minSize) {
		if pre.LessThan(minSize) {
			res.Size = decimal.Zero
			res.Reason = "below minimum position size"
			return res
		}
		size = minSize
	}

	if declared := bounds.Declared.Value; size.GreaterThan(declared) {
		size = declared
	}
	res.Size = size
	res.Viable = size.IsPositive()
	if !res.Viable {
		res.Reason = "zero size"
	}
	return res
}

// CalculatePositionSize 计算信号可执行仓位，结果满足 0 <= size <= 声明数量
func (s PositionSizer) CalculatePositionSize(signal TradingSignal, current *RiskMetrics, limits RiskLimits, marginal MarginalRisk, reductionActive bool) SizingResult {
	if !signal.DeclaredSize.IsPositive() {
		return NotViable("declared size must be positive")
	}
	if current != nil && current.Failed() {
		return NotViable("risk snapshot unavailable: " + current.CalculationError)
	}
	reduction := decimal.Zero
	if reductionActive {
		reduction = limits.ReductionFactor
		if !reduction.IsPositive() {
			reduction = DefaultReductionFactor
		}
	}
	return s.Resolve(s.Bounds(signal, current, limits, marginal), signal.Confidence, limits.MinSize(signal.Symbol), reduction)
}
