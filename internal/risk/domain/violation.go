package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ViolationType 违规类型
type ViolationType string

const (
	ViolationVaRExceeded           ViolationType = "VAR_EXCEEDED"
	ViolationLeverageExceeded      ViolationType = "LEVERAGE_EXCEEDED"
	ViolationConcentrationExceeded ViolationType = "CONCENTRATION_EXCEEDED"
	ViolationCorrelationExceeded   ViolationType = "CORRELATION_EXCEEDED"
	ViolationDailyLossExceeded     ViolationType = "DAILY_LOSS_EXCEEDED"
)

// Severity 违规严重程度，取值封闭
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities 全部严重程度，按从低到高排列
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Valid 是否为已知严重程度
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// RiskViolation 单条限额违规，由 ViolationDetector 生成后不可变
type RiskViolation struct {
	Type          ViolationType   `json:"violation_type"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	LimitValue    decimal.Decimal `json:"limit_value"`
	Severity      Severity        `json:"severity"`
	AssetAffected string          `json:"asset_affected,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Describe 人类可读描述，用于熔断原因与告警文案
func (v RiskViolation) Describe() string {
	if v.AssetAffected != "" {
		return fmt.Sprintf("%s on %s: current %s, limit %s", v.Type, v.AssetAffected, v.CurrentValue, v.LimitValue)
	}
	return fmt.Sprintf("%s: current %s, limit %s", v.Type, v.CurrentValue, v.LimitValue)
}

var (
	varBandMedium   = decimal.RequireFromString("1.1")
	varBandHigh     = decimal.RequireFromString("1.25")
	varBandCritical = decimal.RequireFromString("1.5")
)

// SeverityForRatio 根据超限倍数 r = current/limit 划分严重程度（仅用于 VaR）
func SeverityForRatio(current, limit decimal.Decimal) Severity {
	if !limit.IsPositive() {
		return SeverityCritical
	}
	r := current.Div(limit)
	switch {
	case r.LessThan(varBandMedium):
		return SeverityLow
	case r.LessThan(varBandHigh):
		return SeverityMedium
	case r.LessThan(varBandCritical):
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// CheckViolations 将快照与限额比对，按固定顺序返回违规列表：
// VaR、杠杆、各资产集中度（按资产名排序）、相关性、日内亏损。
// 纯函数，相同输入总是返回相同的有序结果，时间戳取快照计算时间。
func CheckViolations(m *RiskMetrics, l RiskLimits) []RiskViolation {
	if m == nil {
		return nil
	}
	at := m.CalculationTime
	var out []RiskViolation

	if m.ValueAtRisk.GreaterThan(l.MaxVaR) {
		out = append(out, RiskViolation{
			Type:         ViolationVaRExceeded,
			CurrentValue: m.ValueAtRisk,
			LimitValue:   l.MaxVaR,
			Severity:     SeverityForRatio(m.ValueAtRisk, l.MaxVaR),
			Timestamp:    at,
		})
	}

	if m.LeverageRatio.GreaterThan(l.MaxLeverage) {
		out = append(out, RiskViolation{
			Type:         ViolationLeverageExceeded,
			CurrentValue: m.LeverageRatio,
			LimitValue:   l.MaxLeverage,
			Severity:     SeverityHigh,
			Timestamp:    at,
		})
	}

	assets := make([]string, 0, len(m.AssetExposures))
	for asset := range m.AssetExposures {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		exposure := m.AssetExposures[asset]
		limit := l.ConcentrationLimit(asset)
		if exposure.GreaterThan(limit) {
			out = append(out, RiskViolation{
				Type:          ViolationConcentrationExceeded,
				CurrentValue:  exposure,
				LimitValue:    limit,
				Severity:      SeverityMedium,
				AssetAffected: asset,
				Timestamp:     at,
			})
		}
	}

	if m.MaxCorrelation.GreaterThan(l.MaxCorrelation) {
		out = append(out, RiskViolation{
			Type:         ViolationCorrelationExceeded,
			CurrentValue: m.MaxCorrelation,
			LimitValue:   l.MaxCorrelation,
			Severity:     SeverityMedium,
			Timestamp:    at,
		})
	}

	if m.DailyPnL.LessThan(l.MaxDailyLoss.Neg()) {
		out = append(out, RiskViolation{
			Type:         ViolationDailyLossExceeded,
			CurrentValue: m.DailyPnL,
			LimitValue:   l.MaxDailyLoss.Neg(),
			Severity:     SeverityCritical,
			Timestamp:    at,
		})
	}

	return out
}
