package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRecord(t *testing.T) {
	t.Parallel()

	m := New("risk_test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg), "double registration must fail")

	m.RecordViolation("VAR_EXCEEDED", "MEDIUM")
	m.RecordViolation("VAR_EXCEEDED", "MEDIUM")
	m.RecordDecision(false, "halted")
	m.SetBreaker(true, false)
	m.SetRiskScore(0.42)
	m.ObserveAssessment(3 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ViolationsTotal.WithLabelValues("VAR_EXCEEDED", "MEDIUM")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradeDecisionsTotal.WithLabelValues("false", "halted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerHalted))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PositionReduction))
	assert.Equal(t, 0.42, testutil.ToFloat64(m.RiskScore))
}
