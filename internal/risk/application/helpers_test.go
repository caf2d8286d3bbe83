package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var fixedTime = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func testLimits() domain.RiskLimits {
	return domain.RiskLimits{
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

// testPortfolio 净值 12000：现金 10000 + 0.05 BTC @ 40000
func testPortfolio() domain.Portfolio {
	return domain.Portfolio{
		AccountID: "acc-1",
		Cash:      d("10000"),
		Positions: map[string]domain.Position{
			"BTC-USD": {Symbol: "BTC-USD", Quantity: d("0.05"), AvgPrice: d("38000"), MarketPrice: d("40000")},
		},
		UpdatedAt: fixedTime,
	}
}

func testSignal() domain.TradingSignal {
	return domain.TradingSignal{
		SignalID:     "sig-1",
		Symbol:       "ETH-USD",
		Side:         domain.SideBuy,
		Price:        d("10"),
		DeclaredSize: d("100"),
		Confidence:   d("0.8"),
		GeneratedAt:  fixedTime,
	}
}

// stubPortfolioCalc 组合风险计算器桩
type stubPortfolioCalc struct {
	mu       sync.Mutex
	risk     domain.PortfolioRisk
	impact   domain.PortfolioRiskImpact
	marginal domain.MarginalRisk
	err      error
	delay    time.Duration
}

func calmPortfolioCalc() *stubPortfolioCalc {
	return &stubPortfolioCalc{
		risk: domain.PortfolioRisk{
			VaR95:             d("50"),
			ExpectedShortfall: d("65"),
			LeverageRatio:     d("1"),
			AssetExposures:    map[string]decimal.Decimal{"BTC-USD": d("0.2")},
		},
		impact:   domain.PortfolioRiskImpact{RiskScore: d("0.2")},
		marginal: domain.MarginalRisk{VaRPerUnit: d("0.1"), LeveragePerUnit: d("0.001")},
	}
}

func (s *stubPortfolioCalc) set(fn func(s *stubPortfolioCalc)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stubPortfolioCalc) wait(ctx context.Context) error {
	s.mu.Lock()
	delay, err := s.delay, s.err
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *stubPortfolioCalc) AssessSignalImpact(ctx context.Context, _ domain.TradingSignal, _ domain.Portfolio, _ decimal.Decimal) (domain.PortfolioRiskImpact, error) {
	if err := s.wait(ctx); err != nil {
		return domain.PortfolioRiskImpact{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.impact, nil
}

func (s *stubPortfolioCalc) CalculatePortfolioRisk(ctx context.Context, _ domain.Portfolio) (domain.PortfolioRisk, error) {
	if err := s.wait(ctx); err != nil {
		return domain.PortfolioRisk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.risk, nil
}

func (s *stubPortfolioCalc) MarginalRisk(ctx context.Context, _ domain.TradingSignal, _ domain.Portfolio) (domain.MarginalRisk, error) {
	if err := s.wait(ctx); err != nil {
		return domain.MarginalRisk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marginal, nil
}

type stubMarketCalc struct {
	risk   domain.MarketRisk
	impact domain.MarketRiskImpact
	err    error
}

func calmMarketCalc() *stubMarketCalc {
	return &stubMarketCalc{
		risk:   domain.MarketRisk{Beta: d("1.1"), PortfolioVolatility: d("0.02"), MaxCorrelation: d("0.3")},
		impact: domain.MarketRiskImpact{RiskScore: d("0.2"), Volatility: d("0.02")},
	}
}

func (s *stubMarketCalc) AssessSignalRisk(context.Context, domain.TradingSignal) (domain.MarketRiskImpact, error) {
	return s.impact, s.err
}

func (s *stubMarketCalc) CalculateMarketRisk(context.Context, domain.Portfolio) (domain.MarketRisk, error) {
	return s.risk, s.err
}

type stubOperational struct {
	risk domain.OperationalRisk
	err  error
}

func (s *stubOperational) AssessOperationalRisk(context.Context) (domain.OperationalRisk, error) {
	return s.risk, s.err
}

// mockCompliance 合规引擎 mock，用于断言调用次数
type mockCompliance struct {
	mock.Mock
}

func (m *mockCompliance) ValidateSignal(ctx context.Context, signal domain.TradingSignal) (domain.ComplianceResult, error) {
	args := m.Called(ctx, signal)
	return args.Get(0).(domain.ComplianceResult), args.Error(1)
}

// mockAlerts 告警通道 mock
type mockAlerts struct {
	mock.Mock
}

func (m *mockAlerts) SendCriticalAlert(ctx context.Context, alert *domain.RiskAlert) {
	m.Called(ctx, alert)
}

func (m *mockAlerts) SendHighPriorityAlert(ctx context.Context, alert *domain.RiskAlert) {
	m.Called(ctx, alert)
}

func (m *mockAlerts) SendWarningAlert(ctx context.Context, alert *domain.RiskAlert) {
	m.Called(ctx, alert)
}

// fakeBus 记录发布的消息，可按主题注入订阅失败
type fakeBus struct {
	mu            sync.Mutex
	handlers      map[string]domain.EventHandler
	published     []publishedEvent
	failSubscribe map[string]error
	unsubscribed  []string
	// onPublish 发布时回调，用于断言发布时刻的外部状态
	onPublish func(topic string)
}

type publishedEvent struct {
	topic   string
	payload any
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]domain.EventHandler{}, failSubscribe: map[string]error{}}
}

type fakeSub struct {
	bus   *fakeBus
	topic string
}

func (s *fakeSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.handlers, s.topic)
	s.bus.unsubscribed = append(s.bus.unsubscribed, s.topic)
	return nil
}

func (b *fakeBus) Subscribe(topic string, h domain.EventHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failSubscribe[topic]; err != nil {
		return nil, err
	}
	b.handlers[topic] = h
	return &fakeSub{bus: b, topic: topic}, nil
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload any) error {
	b.mu.Lock()
	b.published = append(b.published, publishedEvent{topic: topic, payload: payload})
	cb := b.onPublish
	b.mu.Unlock()
	if cb != nil {
		cb(topic)
	}
	return nil
}

func (b *fakeBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.published))
	for _, p := range b.published {
		out = append(out, p.topic)
	}
	return out
}

func (b *fakeBus) byTopic(topic string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, p := range b.published {
		if p.topic == topic {
			out = append(out, p.payload)
		}
	}
	return out
}

// deliver 模拟总线投递一条 JSON 消息
func (b *fakeBus) deliver(t *testing.T, topic string, payload any) error {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	b.mu.Lock()
	h, ok := b.handlers[topic]
	b.mu.Unlock()
	if !ok {
		return errors.New("no subscriber for " + topic)
	}
	return h(context.Background(), domain.Event{Topic: topic, Payload: raw, Time: fixedTime})
}

// harness 组装好的 RiskManager 及其协作者
type harness struct {
	manager    *RiskManager
	book       *PortfolioBook
	portfolio  *stubPortfolioCalc
	market     *stubMarketCalc
	ops        *stubOperational
	compliance *mockCompliance
	alerts     *mockAlerts
	bus        *fakeBus
	breaker    *domain.CircuitBreaker
	prices     *recordingObserver
}

type observedPrice struct {
	symbol string
	price  decimal.Decimal
	at     time.Time
}

// recordingObserver 记录收到的行情
type recordingObserver struct {
	mu  sync.Mutex
	got []observedPrice
}

func (r *recordingObserver) ObservePrice(symbol string, price decimal.Decimal, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, observedPrice{symbol: symbol, price: price, at: at})
}

func (r *recordingObserver) observed() []observedPrice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observedPrice(nil), r.got...)
}

func newHarness(t *testing.T, tweak func(*Options)) *harness {
	t.Helper()
	h := &harness{
		book:       NewPortfolioBook("acc-1", decimal.Zero),
		portfolio:  calmPortfolioCalc(),
		market:     calmMarketCalc(),
		ops:        &stubOperational{risk: domain.OperationalRisk{OverallScore: d("0.1"), SystemHealth: d("0.95")}},
		compliance: new(mockCompliance),
		alerts:     new(mockAlerts),
		bus:        newFakeBus(),
		breaker:    domain.NewCircuitBreaker(nil, nil, nil),
		prices:     &recordingObserver{},
	}
	h.book.Replace(testPortfolio())
	h.breaker.SetClock(func() time.Time { return fixedTime })
	h.alerts.On("SendCriticalAlert", mock.Anything, mock.Anything).Maybe()
	h.alerts.On("SendHighPriorityAlert", mock.Anything, mock.Anything).Maybe()
	h.alerts.On("SendWarningAlert", mock.Anything, mock.Anything).Maybe()

	opts := DefaultOptions()
	opts.Interval = 50 * time.Millisecond
	opts.FastInterval = 10 * time.Millisecond
	opts.ErrorBackoffInitial = 20 * time.Millisecond
	opts.ErrorBackoffMax = 50 * time.Millisecond
	opts.MaxConsecutiveFailures = 3
	opts.AssessmentTimeout = 200 * time.Millisecond
	opts.CalculatorTimeout = 150 * time.Millisecond
	opts.ComplianceTimeout = 150 * time.Millisecond
	if tweak != nil {
		tweak(&opts)
	}

	m, err := NewRiskManager(Dependencies{
		Limits:         testLimits(),
		Portfolio:      h.book,
		PortfolioRisk:  h.portfolio,
		MarketRisk:     h.market,
		Operational:    h.ops,
		Compliance:     h.compliance,
		Alerts:         h.alerts,
		Bus:            h.bus,
		Breaker:        h.breaker,
		Clock:          func() time.Time { return fixedTime },
		PriceObservers: []domain.PriceObserver{h.prices},
	}, opts)
	require.NoError(t, err)
	h.manager = m
	return h
}

func (h *harness) compliant() {
	h.compliance.On("ValidateSignal", mock.Anything, mock.Anything).Return(domain.ComplianceResult{IsCompliant: true}, nil)
}
