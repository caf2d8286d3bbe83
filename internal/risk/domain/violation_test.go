package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckViolations_VaRBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  string
		want     bool
		severity Severity
	}{
		{"within limit", "95", false, ""},
		{"at limit", "100", false, ""},
		{"slightly over", "105", true, SeverityLow},
		{"ratio 1.15", "115", true, SeverityMedium},
		{"ratio 1.25 boundary", "125", true, SeverityHigh},
		{"ratio 1.49", "149", true, SeverityHigh},
		{"ratio 1.5 boundary", "150", true, SeverityCritical},
		{"far over", "400", true, SeverityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := calmMetrics()
			m.ValueAtRisk = d(tt.current)
			got := CheckViolations(m, testLimits())
			if !tt.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, ViolationVaRExceeded, got[0].Type)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.True(t, got[0].LimitValue.Equal(d("100")))
		})
	}
}

func TestCheckViolations_DailyLossIsAlwaysCritical(t *testing.T) {
	t.Parallel()

	m := calmMetrics()
	m.DailyPnL = d("-600")

	got := CheckViolations(m, testLimits())
	require.Len(t, got, 1)
	assert.Equal(t, ViolationDailyLossExceeded, got[0].Type)
	assert.Equal(t, SeverityCritical, got[0].Severity)
	assert.True(t, got[0].CurrentValue.Equal(d("-600")))

	m.DailyPnL = d("-500")
	assert.Empty(t, CheckViolations(m, testLimits()))
}

func TestCheckViolations_FixedOrderAndDeterminism(t *testing.T) {
	t.Parallel()

	m := &RiskMetrics{
		ValueAtRisk:   d("130"),
		LeverageRatio: d("4"),
		AssetExposures: map[string]decimal.Decimal{
			"TSLA":    d("0.3"),
			"AAPL":    d("0.26"),
			"BTC-USD": d("0.35"),
			"MSFT":    d("0.1"),
		},
		MaxCorrelation:  d("0.9"),
		DailyPnL:        d("-900"),
		CalculationTime: fixedTime,
	}

	first := CheckViolations(m, testLimits())
	types := make([]ViolationType, 0, len(first))
	assets := make([]string, 0)
	for _, v := range first {
		types = append(types, v.Type)
		if v.AssetAffected != "" {
			assets = append(assets, v.AssetAffected)
		}
	}
	assert.Equal(t, []ViolationType{
		ViolationVaRExceeded,
		ViolationLeverageExceeded,
		ViolationConcentrationExceeded,
		ViolationConcentrationExceeded,
		ViolationCorrelationExceeded,
		ViolationDailyLossExceeded,
	}, types)
	// BTC-USD 有单独的 0.4 上限，不算超限
	assert.Equal(t, []string{"AAPL", "TSLA"}, assets)

	for i := 0; i < 20; i++ {
		assert.Equal(t, first, CheckViolations(m, testLimits()))
	}
}

func TestCheckViolations_FixedSeverities(t *testing.T) {
	t.Parallel()

	m := calmMetrics()
	m.LeverageRatio = d("3.01")
	m.MaxCorrelation = d("0.95")
	m.AssetExposures = map[string]decimal.Decimal{"AAPL": d("0.9")}

	got := CheckViolations(m, testLimits())
	require.Len(t, got, 3)
	assert.Equal(t, SeverityHigh, got[0].Severity)
	assert.Equal(t, SeverityMedium, got[1].Severity)
	assert.Equal(t, "AAPL", got[1].AssetAffected)
	assert.Equal(t, SeverityMedium, got[2].Severity)
	for _, v := range got {
		assert.Equal(t, fixedTime, v.Timestamp)
	}
}

func TestCheckViolations_NilMetrics(t *testing.T) {
	t.Parallel()
	assert.Nil(t, CheckViolations(nil, testLimits()))
}

func TestSeverityValid(t *testing.T) {
	t.Parallel()
	for _, s := range Severities {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Severity("SEVERE").Valid())
}
