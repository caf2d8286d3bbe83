package domain

import "github.com/shopspring/decimal"

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
	// RiskLevelUnknown 尚无风险快照时返回
	RiskLevelUnknown RiskLevel = "UNKNOWN"
)

var (
	levelMediumFloor   = decimal.RequireFromString("0.4")
	levelHighFloor     = decimal.RequireFromString("0.6")
	levelCriticalFloor = decimal.RequireFromString("0.8")
)

// LevelForScore 将 [0,1] 风险分映射为风险等级：<0.4 LOW，<0.6 MEDIUM，<0.8 HIGH，其余 CRITICAL
func LevelForScore(score decimal.Decimal) RiskLevel {
	switch {
	case score.LessThan(levelMediumFloor):
		return RiskLevelLow
	case score.LessThan(levelHighFloor):
		return RiskLevelMedium
	case score.LessThan(levelCriticalFloor):
		return RiskLevelHigh
	default:
		return RiskLevelCritical
	}
}

// ClampUnit 将数值限制在 [0,1]
func ClampUnit(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	if v.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return v
}
