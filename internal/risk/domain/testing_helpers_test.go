package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func testLimits() RiskLimits {
	return RiskLimits{
		MaxVaR:                       d("100"),
		MaxLeverage:                  d("3"),
		DefaultMaxAssetConcentration: d("0.25"),
		MaxAssetConcentration:        map[string]decimal.Decimal{"BTC-USD": d("0.4")},
		MaxCorrelation:               d("0.8"),
		MaxDailyLoss:                 d("500"),
		DefaultMinPositionSize:       d("50"),
		WorstCaseMove:                d("0.05"),
		ReductionFactor:              d("0.5"),
	}
}

func calmMetrics() *RiskMetrics {
	return &RiskMetrics{
		ValueAtRisk:     d("95"),
		LeverageRatio:   d("1.2"),
		AssetExposures:  map[string]decimal.Decimal{"AAPL": d("0.1")},
		MaxCorrelation:  d("0.3"),
		DailyPnL:        d("-20"),
		PortfolioValue:  d("100000"),
		CalculationTime: fixedTime,
	}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	if !got.Equal(d(want)) {
		t.Fatalf("want %s, got %s", want, got)
	}
}
