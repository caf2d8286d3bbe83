package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskguard/internal/risk/application"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/alerting"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/calculator"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/client"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/compliance"
	"github.com/wyfcoding/riskguard/internal/risk/infrastructure/messaging"
	"github.com/wyfcoding/riskguard/pkg/metrics"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router  *gin.Engine
	manager *application.RiskManager
}

// newTestServer 使用内置计算器与内存总线组装完整的风控服务
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	book := application.NewPortfolioBook("acc-1", d("10000"))
	book.Replace(domain.Portfolio{
		AccountID: "acc-1",
		Cash:      d("10000"),
		Positions: map[string]domain.Position{
			"BTC-USD": {Symbol: "BTC-USD", Quantity: d("0.05"), AvgPrice: d("40000"), MarketPrice: d("40000")},
		},
	})

	history := calculator.NewPriceHistory(64)
	bus := messaging.NewMemoryBus()
	m := metrics.New("http_test")
	alerts := alerting.NewAsyncAlertSystem(bus, m, alerting.Config{})
	t.Cleanup(func() { _ = alerts.Close() })

	opts := application.DefaultOptions()
	opts.AssessmentTimeout = 2 * time.Second
	opts.CalculatorTimeout = 2 * time.Second
	opts.ComplianceTimeout = 2 * time.Second

	manager, err := application.NewRiskManager(application.Dependencies{
		Limits: domain.RiskLimits{
			MaxVaR:                       d("100"),
			MaxLeverage:                  d("3"),
			DefaultMaxAssetConcentration: d("0.25"),
			MaxAssetConcentration:        map[string]decimal.Decimal{"BTC-USD": d("0.4")},
			MaxCorrelation:               d("0.8"),
			MaxDailyLoss:                 d("500"),
			DefaultMinPositionSize:       d("1"),
			WorstCaseMove:                d("0.05"),
			ReductionFactor:              d("0.5"),
		},
		Portfolio:      book,
		PortfolioRisk:  calculator.NewMonteCarloPortfolioCalculator(history, calculator.MonteCarloConfig{Simulations: 2000, Seed: 7}),
		MarketRisk:     calculator.NewHistoricalMarketCalculator(history, calculator.DefaultMarketConfig()),
		Operational:    client.NewHealthOperationalMonitor(nil, nil, 0),
		Compliance:     compliance.NewRuleComplianceEngine(compliance.Rules{}, nil),
		Alerts:         alerts,
		Bus:            bus,
		Metrics:        m,
		PriceObservers: []domain.PriceObserver{history},
	}, opts)
	require.NoError(t, err)

	r := gin.New()
	NewRiskHandler(manager).RegisterRoutes(&r.RouterGroup)
	return &testServer{router: r, manager: manager}
}

func (s *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func signalBody() map[string]any {
	return map[string]any{
		"signal_id":     "sig-1",
		"symbol":        "ETH-USD",
		"side":          "BUY",
		"price":         "10",
		"declared_size": "100",
		"confidence":    "0.8",
	}
}

func TestRiskLevelAndMetricsBeforeFirstCycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, env := s.do(t, http.MethodGet, "/api/v1/risk/level", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"level":"UNKNOWN"}`, string(env.Data))

	code, env = s.do(t, http.MethodGet, "/api/v1/risk/metrics", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.ErrNoSnapshot.Error(), env.Message)

	code, env = s.do(t, http.MethodPost, "/api/v1/risk/can-execute", signalBody())
	require.Equal(t, http.StatusOK, code)
	var decision application.TradeDecision
	require.NoError(t, json.Unmarshal(env.Data, &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, application.ReasonCriticalRisk, decision.Reason)
}

func TestTradingFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	require.NoError(t, s.manager.RunRiskCycle(context.Background()))

	code, env := s.do(t, http.MethodGet, "/api/v1/risk/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	var snap domain.RiskMetrics
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.True(t, snap.PortfolioValue.Equal(d("12000")))
	assert.True(t, snap.ValueAtRisk.IsPositive())

	code, env = s.do(t, http.MethodPost, "/api/v1/risk/assess", signalBody())
	require.Equal(t, http.StatusOK, code)
	var assessment domain.RiskAssessment
	require.NoError(t, json.Unmarshal(env.Data, &assessment))
	assert.Equal(t, "sig-1", assessment.SignalID)
	assert.True(t, assessment.Compliance.IsCompliant)
	assert.Empty(t, assessment.ErrorMessage)

	code, env = s.do(t, http.MethodPost, "/api/v1/risk/position-size", signalBody())
	require.Equal(t, http.StatusOK, code)
	var sizing domain.SizingResult
	require.NoError(t, json.Unmarshal(env.Data, &sizing))
	assert.True(t, sizing.Viable)
	assert.True(t, sizing.Size.LessThanOrEqual(d("100")))

	code, env = s.do(t, http.MethodPost, "/api/v1/risk/can-execute", signalBody())
	require.Equal(t, http.StatusOK, code)
	var decision application.TradeDecision
	require.NoError(t, json.Unmarshal(env.Data, &decision))
	assert.True(t, decision.Allowed, decision.Reason)
}

func TestHaltAndResume(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	require.NoError(t, s.manager.RunRiskCycle(context.Background()))

	code, _ := s.do(t, http.MethodPost, "/api/v1/risk/breaker/halt", map[string]string{"reason": "exchange outage"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodPost, "/api/v1/risk/breaker/halt", map[string]string{"by": "ops", "reason": "exchange outage"})
	require.Equal(t, http.StatusOK, code)
	var status domain.BreakerStatus
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.IsHalted)
	assert.Equal(t, "manual halt by ops: exchange outage", status.HaltReason)

	_, env = s.do(t, http.MethodPost, "/api/v1/risk/can-execute", signalBody())
	var decision application.TradeDecision
	require.NoError(t, json.Unmarshal(env.Data, &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, application.ReasonTradingHalted, decision.Reason)

	code, env = s.do(t, http.MethodPost, "/api/v1/risk/breaker/resume", map[string]string{"by": "ops"})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.IsHalted)
	assert.Equal(t, domain.BreakerNormal, status.State)
}

func TestAlertEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	code, env := s.do(t, http.MethodPost, "/api/v1/risk/alerts/missing/ack", map[string]string{"by": "ops"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.ErrAlertNotFound.Error(), env.Message)

	v := domain.RiskViolation{
		Type:         domain.ViolationCorrelationExceeded,
		CurrentValue: d("0.82"),
		LimitValue:   d("0.8"),
		Severity:     domain.SeverityLow,
	}
	require.NoError(t, s.manager.HandleRiskViolation(context.Background(), v))

	code, env = s.do(t, http.MethodGet, "/api/v1/risk/alerts", nil)
	require.Equal(t, http.StatusOK, code)
	var alerts []domain.RiskAlert
	require.NoError(t, json.Unmarshal(env.Data, &alerts))
	require.Len(t, alerts, 1)
	id := alerts[0].AlertID

	code, _ = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/ack", map[string]string{"by": "ops"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/ack", map[string]string{"by": "ops"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = s.do(t, http.MethodPost, "/api/v1/risk/alerts/"+id+"/resolve", map[string]string{"by": "ops"})
	assert.Equal(t, http.StatusOK, code)

	code, env = s.do(t, http.MethodGet, "/api/v1/risk/violations?limit=5", nil)
	require.Equal(t, http.StatusOK, code)
	var recent []domain.RiskViolation
	require.NoError(t, json.Unmarshal(env.Data, &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, domain.ViolationCorrelationExceeded, recent[0].Type)

	code, _ = s.do(t, http.MethodGet, "/api/v1/risk/violations?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReloadLimits(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	limits := s.manager.Limits()
	limits.MaxVaR = decimal.Zero
	code, env := s.do(t, http.MethodPut, "/api/v1/risk/limits", limits)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Message, "max_var")

	limits.MaxVaR = d("250")
	limits.MaxAssetConcentration = map[string]decimal.Decimal{"eth-usd": d("0.3")}
	code, _ = s.do(t, http.MethodPut, "/api/v1/risk/limits", limits)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, s.manager.Limits().MaxVaR.Equal(d("250")))
	assert.True(t, s.manager.Limits().ConcentrationLimit("ETH-USD").Equal(d("0.3")))
}

func TestInvalidSignalRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := signalBody()
	body["side"] = "HOLD"
	code, env := s.do(t, http.MethodPost, "/api/v1/risk/assess", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid signal", env.Message)
}
