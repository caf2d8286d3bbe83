package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FailSafeAssessmentScore 评估失败时返回的风险分
var FailSafeAssessmentScore = decimal.RequireFromString("0.9")

var (
	portfolioImpactWeight  = decimal.RequireFromString("0.4")
	marketImpactWeight     = decimal.RequireFromString("0.35")
	complianceImpactWeight = decimal.RequireFromString("0.25")
	recommendReduceFloor   = decimal.RequireFromString("0.6")
)

// RiskAssessment 单个信号的风险评估结果，不落库
type RiskAssessment struct {
	SignalID         string              `json:"signal_id"`
	OverallRiskLevel RiskLevel           `json:"overall_risk_level"`
	RiskScore        decimal.Decimal     `json:"risk_score"`
	PortfolioImpact  PortfolioRiskImpact `json:"portfolio_impact"`
	MarketImpact     MarketRiskImpact    `json:"market_impact"`
	Compliance       ComplianceResult    `json:"compliance"`
	Recommendations  []string            `json:"recommendations,omitempty"`
	AssessmentTime   time.Time           `json:"assessment_time"`
	ErrorMessage     string              `json:"error_message,omitempty"`
}

// FailSafeAssessment 评估失败时的保守结果：CRITICAL，风险分 0.9
func FailSafeAssessment(signalID string, err error, at time.Time) RiskAssessment {
	msg := "risk assessment failed"
	if err != nil {
		msg = err.Error()
	}
	return RiskAssessment{
		SignalID:         signalID,
		OverallRiskLevel: RiskLevelCritical,
		RiskScore:        FailSafeAssessmentScore,
		Compliance:       ComplianceResult{IsCompliant: false, Violations: []string{"assessment unavailable"}},
		Recommendations:  []string{"do not execute: risk assessment unavailable"},
		AssessmentTime:   at,
		ErrorMessage:     msg,
	}
}

// AggregateAssessment 将最新快照与信号维度影响合成为一个评估。
// 信号维度加权分与快照基线分取大，快照本身是失败替代时直接为 CRITICAL。
func AggregateAssessment(signal TradingSignal, baseline *RiskMetrics, p PortfolioRiskImpact, mk MarketRiskImpact, c ComplianceResult, at time.Time) RiskAssessment {
	if baseline == nil {
		return FailSafeAssessment(signal.SignalID, ErrNoSnapshot, at)
	}
	weighted := ClampUnit(p.RiskScore).Mul(portfolioImpactWeight).
		Add(ClampUnit(mk.RiskScore).Mul(marketImpactWeight)).
		Add(c.ComplianceImpact().Mul(complianceImpactWeight))

	score := weighted
	if baseline.RiskScore.GreaterThan(score) {
		score = baseline.RiskScore
	}
	score = ClampUnit(score)
	level := LevelForScore(score)
	if baseline.Failed() {
		level = RiskLevelCritical
	}

	var recs []string
	if !c.IsCompliant {
		recs = append(recs, "reject: signal fails compliance checks")
	}
	switch level {
	case RiskLevelCritical:
		recs = append(recs, "do not execute: portfolio risk is critical")
	case RiskLevelHigh:
		recs = append(recs, "reduce size: portfolio risk is elevated")
	default:
		if p.RiskScore.GreaterThanOrEqual(recommendReduceFloor) {
			recs = append(recs, "reduce size: signal materially increases portfolio risk")
		}
		if mk.RiskScore.GreaterThanOrEqual(recommendReduceFloor) {
			recs = append(recs, "consider limit orders: market for "+signal.Symbol+" is volatile")
		}
	}

	return RiskAssessment{
		SignalID:         signal.SignalID,
		OverallRiskLevel: level,
		RiskScore:        score,
		PortfolioImpact:  p,
		MarketImpact:     mk,
		Compliance:       c,
		Recommendations:  recs,
		AssessmentTime:   at,
	}
}
