package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradingSignal 上游策略产生的交易信号
type TradingSignal struct {
	SignalID     string          `json:"signal_id" binding:"required"`
	Symbol       string          `json:"symbol" binding:"required"`
	Side         Side            `json:"side" binding:"required,oneof=BUY SELL"`
	Price        decimal.Decimal `json:"price"`
	DeclaredSize decimal.Decimal `json:"declared_size"`
	// Confidence 策略置信度，约定在 [0,1]
	Confidence  decimal.Decimal `json:"confidence"`
	StrategyID  string          `json:"strategy_id,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Notional 按声明数量计算的名义价值
func (s TradingSignal) Notional() decimal.Decimal {
	return s.Price.Mul(s.DeclaredSize)
}

// Position 单资产持仓
type Position struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	MarketPrice decimal.Decimal `json:"market_price"`
}

// MarketValue 按市价计算的持仓价值，空头为负
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.MarketPrice)
}

// Portfolio 组合视图
type Portfolio struct {
	AccountID string              `json:"account_id"`
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[string]Position `json:"positions"`
	// DailyPnL 当日已实现加未实现盈亏
	DailyPnL  decimal.Decimal `json:"daily_pnl"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TotalValue 组合净值 = 现金 + 持仓市值
func (p Portfolio) TotalValue() decimal.Decimal {
	total := p.Cash
	for _, pos := range p.Positions {
		total = total.Add(pos.MarketValue())
	}
	return total
}

// GrossExposure 持仓市值绝对值之和
func (p Portfolio) GrossExposure() decimal.Decimal {
	gross := decimal.Zero
	for _, pos := range p.Positions {
		gross = gross.Add(pos.MarketValue().Abs())
	}
	return gross
}

// Symbols 持仓资产列表
func (p Portfolio) Symbols() []string {
	out := make([]string, 0, len(p.Positions))
	for s := range p.Positions {
		out = append(out, s)
	}
	return out
}

// PortfolioRiskImpact 信号对组合风险的影响
type PortfolioRiskImpact struct {
	RiskScore          decimal.Decimal `json:"risk_score"`
	IncrementalVaR     decimal.Decimal `json:"incremental_var"`
	ConcentrationAfter decimal.Decimal `json:"concentration_after"`
	Notes              []string        `json:"notes,omitempty"`
}

// MarketRiskImpact 信号所在市场的风险
type MarketRiskImpact struct {
	RiskScore  decimal.Decimal `json:"risk_score"`
	Volatility decimal.Decimal `json:"volatility"`
	Notes      []string        `json:"notes,omitempty"`
}

// ComplianceResult 合规校验结果
type ComplianceResult struct {
	IsCompliant bool     `json:"is_compliant"`
	Violations  []string `json:"violations,omitempty"`
}

// ComplianceImpact 合规维度的风险分：合规为 0，不合规为 1
func (c ComplianceResult) ComplianceImpact() decimal.Decimal {
	if c.IsCompliant {
		return decimal.Zero
	}
	return decimalOne
}

// PortfolioRisk 组合风险计算结果
type PortfolioRisk struct {
	VaR95             decimal.Decimal            `json:"var95"`
	ExpectedShortfall decimal.Decimal            `json:"expected_shortfall"`
	LeverageRatio     decimal.Decimal            `json:"leverage_ratio"`
	AssetExposures    map[string]decimal.Decimal `json:"asset_exposures"`
}

// MarketRisk 市场风险计算结果
type MarketRisk struct {
	Beta                decimal.Decimal                       `json:"beta"`
	PortfolioVolatility decimal.Decimal                       `json:"portfolio_volatility"`
	MaxCorrelation      decimal.Decimal                       `json:"max_correlation"`
	CorrelationMatrix   map[string]map[string]decimal.Decimal `json:"correlation_matrix,omitempty"`
}

// OperationalRisk 运营风险：OverallScore 越高越危险，SystemHealth 越高越健康
type OperationalRisk struct {
	OverallScore decimal.Decimal `json:"overall_score"`
	SystemHealth decimal.Decimal `json:"system_health"`
}

// MarginalRisk 单位仓位对 VaR 和杠杆的边际贡献
type MarginalRisk struct {
	VaRPerUnit      decimal.Decimal `json:"var_per_unit"`
	LeveragePerUnit decimal.Decimal `json:"leverage_per_unit"`
}
