package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskAlertLifecycle(t *testing.T) {
	t.Parallel()

	a := NewRiskAlert(RiskViolation{Type: ViolationVaRExceeded, Severity: SeverityLow}, fixedTime)
	require.NotEmpty(t, a.AlertID)
	assert.Equal(t, AlertStatusActive, a.Status)

	assert.ErrorIs(t, a.Acknowledge("", fixedTime), ErrMissingAuthorizer)
	require.NoError(t, a.Acknowledge("alice", fixedTime))
	assert.Equal(t, AlertStatusAcknowledged, a.Status)
	assert.Equal(t, "alice", a.AcknowledgedBy)
	assert.ErrorIs(t, a.Acknowledge("bob", fixedTime), ErrInvalidAlertTransition)

	require.NoError(t, a.Resolve("bob", fixedTime))
	assert.Equal(t, AlertStatusResolved, a.Status)
	assert.ErrorIs(t, a.Resolve("bob", fixedTime), ErrInvalidAlertTransition)
}

func TestAggregateAssessment(t *testing.T) {
	t.Parallel()

	signal := TradingSignal{SignalID: "sig-1", Symbol: "AAPL"}
	baseline := calmMetrics()
	baseline.RiskScore = d("0.2")

	a := AggregateAssessment(signal, baseline,
		PortfolioRiskImpact{RiskScore: d("0.5")},
		MarketRiskImpact{RiskScore: d("0.4")},
		ComplianceResult{IsCompliant: true}, fixedTime)
	// 0.5*0.4 + 0.4*0.35 + 0
	assertDecimal(t, "0.34", a.RiskScore)
	assert.Equal(t, RiskLevelLow, a.OverallRiskLevel)

	a = AggregateAssessment(signal, baseline,
		PortfolioRiskImpact{RiskScore: d("0.5")},
		MarketRiskImpact{RiskScore: d("0.4")},
		ComplianceResult{IsCompliant: false, Violations: []string{"restricted"}}, fixedTime)
	assertDecimal(t, "0.59", a.RiskScore)
	assert.Equal(t, RiskLevelMedium, a.OverallRiskLevel)
	assert.Contains(t, a.Recommendations, "reject: signal fails compliance checks")

	baseline.RiskScore = d("0.85")
	a = AggregateAssessment(signal, baseline, PortfolioRiskImpact{}, MarketRiskImpact{}, ComplianceResult{IsCompliant: true}, fixedTime)
	assert.Equal(t, RiskLevelCritical, a.OverallRiskLevel)

	a = AggregateAssessment(signal, FailSafeMetrics(assert.AnError, fixedTime), PortfolioRiskImpact{}, MarketRiskImpact{}, ComplianceResult{IsCompliant: true}, fixedTime)
	assert.Equal(t, RiskLevelCritical, a.OverallRiskLevel)

	a = AggregateAssessment(signal, nil, PortfolioRiskImpact{}, MarketRiskImpact{}, ComplianceResult{IsCompliant: true}, fixedTime)
	assert.Equal(t, RiskLevelCritical, a.OverallRiskLevel)
	assertDecimal(t, "0.9", a.RiskScore)
}
