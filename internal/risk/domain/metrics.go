package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailSafeValueAtRisk 计算失败时写入的哨兵 VaR，远大于任何合理限额
var FailSafeValueAtRisk = decimal.New(1, 15)

// RiskMetrics 一次监控周期计算出的风险快照。
// 发布后只读，由下一次快照整体替换，读者不得修改其中的 map。
type RiskMetrics struct {
	ValueAtRisk       decimal.Decimal                       `json:"value_at_risk"`
	ExpectedShortfall decimal.Decimal                       `json:"expected_shortfall"`
	LeverageRatio     decimal.Decimal                       `json:"leverage_ratio"`
	AssetExposures    map[string]decimal.Decimal            `json:"asset_exposures"`
	MarketBeta        decimal.Decimal                       `json:"market_beta"`
	Volatility        decimal.Decimal                       `json:"volatility"`
	MaxCorrelation    decimal.Decimal                       `json:"max_correlation"`
	CorrelationMatrix map[string]map[string]decimal.Decimal `json:"correlation_matrix,omitempty"`
	OperationalScore  decimal.Decimal                       `json:"operational_score"`
	SystemHealthScore decimal.Decimal                       `json:"system_health_score"`
	RiskScore         decimal.Decimal                       `json:"risk_score"`
	DailyPnL          decimal.Decimal                       `json:"daily_pnl"`
	PortfolioValue    decimal.Decimal                       `json:"portfolio_value"`
	CalculationTime   time.Time                             `json:"calculation_time"`
	// CalculationError 非空表示这是计算失败后生成的保守快照
	CalculationError string `json:"calculation_error,omitempty"`
}

// Failed 是否为失败替代快照
func (m *RiskMetrics) Failed() bool {
	return m.CalculationError != ""
}

// Exposure 返回资产当前敞口，未持仓为 0
func (m *RiskMetrics) Exposure(asset string) decimal.Decimal {
	if v, ok := m.AssetExposures[asset]; ok {
		return v
	}
	return decimal.Zero
}

// Level 快照对应的风险等级
func (m *RiskMetrics) Level() RiskLevel {
	return LevelForScore(m.RiskScore)
}

// FailSafeMetrics 构造计算失败时的保守快照：VaR 为哨兵值、风险分为 1
func FailSafeMetrics(err error, at time.Time) *RiskMetrics {
	msg := "unknown calculation failure"
	if err != nil {
		msg = err.Error()
	}
	return &RiskMetrics{
		ValueAtRisk:       FailSafeValueAtRisk,
		ExpectedShortfall: FailSafeValueAtRisk,
		AssetExposures:    map[string]decimal.Decimal{},
		OperationalScore:  decimalOne,
		RiskScore:         decimalOne,
		CalculationTime:   at,
		CalculationError:  msg,
	}
}

var (
	utilizationWeight = decimal.RequireFromString("0.75")
)

// CompositeScore 计算综合风险分：各限额利用率的最大值乘以权重，与运营风险分取大，再截断到 [0,1]。
// 任一限额恰好用满对应 0.75（HIGH），超出约 7% 进入 CRITICAL。
func CompositeScore(m *RiskMetrics, l RiskLimits) decimal.Decimal {
	util := decimal.Zero
	consider := func(current, limit decimal.Decimal) {
		if !limit.IsPositive() {
			return
		}
		if r := current.Div(limit); r.GreaterThan(util) {
			util = r
		}
	}

	consider(m.ValueAtRisk, l.MaxVaR)
	consider(m.LeverageRatio, l.MaxLeverage)
	consider(m.MaxCorrelation.Abs(), l.MaxCorrelation)
	for asset, exposure := range m.AssetExposures {
		consider(exposure, l.ConcentrationLimit(asset))
	}
	if m.DailyPnL.IsNegative() {
		consider(m.DailyPnL.Neg(), l.MaxDailyLoss)
	}

	score := util.Mul(utilizationWeight)
	if m.OperationalScore.GreaterThan(score) {
		score = m.OperationalScore
	}
	return ClampUnit(score)
}
