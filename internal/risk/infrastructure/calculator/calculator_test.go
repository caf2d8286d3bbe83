package calculator

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// feed 写入按给定收益率生成的价格路径
func feed(h *PriceHistory, symbol string, start float64, returns []float64) {
	p := start
	h.ObservePrice(symbol, decimal.NewFromFloat(p), t0)
	for i, r := range returns {
		p *= math.Exp(r)
		h.ObservePrice(symbol, decimal.NewFromFloat(p), t0.Add(time.Duration(i+1)*time.Minute))
	}
}

var wave = []float64{0.01, -0.02, 0.015, -0.005, 0.02, -0.01, 0.005, -0.015, 0.01, -0.01}

func portfolio(cash string, positions ...domain.Position) domain.Portfolio {
	p := domain.Portfolio{AccountID: "acc-1", Cash: d(cash), Positions: map[string]domain.Position{}}
	for _, pos := range positions {
		p.Positions[pos.Symbol] = pos
	}
	return p
}

func pos(symbol, qty, price string) domain.Position {
	return domain.Position{Symbol: symbol, Quantity: d(qty), AvgPrice: d(price), MarketPrice: d(price)}
}

func TestPriceHistory(t *testing.T) {
	t.Parallel()
	h := NewPriceHistory(4)

	h.ObservePrice("BTC-USD", d("100"), t0)
	h.ObservePrice("BTC-USD", d("0"), t0.Add(time.Second))
	h.ObservePrice("BTC-USD", d("101"), t0.Add(2*time.Second))
	h.ObservePrice("BTC-USD", d("99"), t0.Add(time.Second))
	assert.Equal(t, 2, h.Len("BTC-USD"), "non-positive and out-of-order prices are dropped")

	for i := 3; i < 10; i++ {
		h.ObservePrice("BTC-USD", decimal.NewFromInt(int64(100+i)), t0.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 4, h.Len("BTC-USD"))
	assert.Len(t, h.Returns("BTC-USD"), 3)

	_, ok := h.Volatility("ETH-USD")
	assert.False(t, ok)
}

func TestPriceHistoryCorrelation(t *testing.T) {
	t.Parallel()
	h := NewPriceHistory(64)
	inverse := make([]float64, len(wave))
	for i, r := range wave {
		inverse[i] = -r
	}
	feed(h, "A", 100, wave)
	feed(h, "B", 50, wave)
	feed(h, "C", 20, inverse)

	rho, ok := h.Correlation("A", "B")
	require.True(t, ok)
	assert.InDelta(t, 1.0, rho, 1e-9)

	rho, ok = h.Correlation("A", "C")
	require.True(t, ok)
	assert.InDelta(t, -1.0, rho, 1e-9)

	_, ok = h.Correlation("A", "MISSING")
	assert.False(t, ok)
}

func newMC(h *PriceHistory) *MonteCarloPortfolioCalculator {
	return NewMonteCarloPortfolioCalculator(h, MonteCarloConfig{Simulations: 20000, Confidence: 0.95, Seed: 42})
}

func TestCalculatePortfolioRiskEmpty(t *testing.T) {
	t.Parallel()
	c := newMC(nil)

	got, err := c.CalculatePortfolioRisk(context.Background(), portfolio("10000"))
	require.NoError(t, err)
	assert.True(t, got.VaR95.IsZero())
	assert.True(t, got.LeverageRatio.IsZero())
	assert.Empty(t, got.AssetExposures)
}

func TestCalculatePortfolioRiskSingleAsset(t *testing.T) {
	t.Parallel()
	c := newMC(nil)
	p := portfolio("8000", pos("BTC-USD", "0.05", "40000"))

	got, err := c.CalculatePortfolioRisk(context.Background(), p)
	require.NoError(t, err)

	// 2000 持仓，2% 波动率，95% 分位约 65
	assert.InDelta(t, 65.1, got.VaR95.InexactFloat64(), 3)
	assert.True(t, got.ExpectedShortfall.GreaterThanOrEqual(got.VaR95))
	assert.True(t, got.LeverageRatio.Equal(d("0.2")), got.LeverageRatio.String())
	assert.True(t, got.AssetExposures["BTC-USD"].Equal(d("0.2")))
}

func TestCalculatePortfolioRiskDiversification(t *testing.T) {
	t.Parallel()
	// 扰动使相关系数接近但不等于 ±1，协方差矩阵保持正定
	noise := []float64{0.002, -0.001, 0, 0.001, -0.002, 0.001, 0, -0.001, 0.002, 0}
	inverse := make([]float64, len(wave))
	follow := make([]float64, len(wave))
	for i, r := range wave {
		inverse[i] = -r + noise[i]
		follow[i] = r + noise[i]
	}
	hedged := NewPriceHistory(64)
	feed(hedged, "A", 100, wave)
	feed(hedged, "B", 100, inverse)
	together := NewPriceHistory(64)
	feed(together, "A", 100, wave)
	feed(together, "B", 100, follow)

	p := portfolio("0", pos("A", "10", "100"), pos("B", "10", "100"))
	hv, err := newMC(hedged).CalculatePortfolioRisk(context.Background(), p)
	require.NoError(t, err)
	tv, err := newMC(together).CalculatePortfolioRisk(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, hv.VaR95.LessThan(tv.VaR95), "hedged %s vs correlated %s", hv.VaR95, tv.VaR95)
}

func TestCalculatePortfolioRiskNegativeEquity(t *testing.T) {
	t.Parallel()
	c := newMC(nil)
	p := portfolio("-5000", pos("BTC-USD", "0.05", "40000"))

	_, err := c.CalculatePortfolioRisk(context.Background(), p)
	assert.ErrorIs(t, err, ErrNonPositiveEquity)
}

func TestCalculatePortfolioRiskCancelled(t *testing.T) {
	t.Parallel()
	c := newMC(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CalculatePortfolioRisk(ctx, portfolio("8000", pos("BTC-USD", "0.05", "40000")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssessSignalImpact(t *testing.T) {
	t.Parallel()
	c := newMC(nil)
	p := portfolio("10000", pos("BTC-USD", "0.05", "40000"))

	t.Run("new position adds risk", func(t *testing.T) {
		sig := domain.TradingSignal{SignalID: "s1", Symbol: "ETH-USD", Side: domain.SideBuy, Price: d("10"), DeclaredSize: d("100")}
		got, err := c.AssessSignalImpact(context.Background(), sig, p, sig.DeclaredSize)
		require.NoError(t, err)
		assert.True(t, got.IncrementalVaR.IsPositive())
		assert.True(t, got.ConcentrationAfter.Equal(d("1000").Div(d("12000"))), got.ConcentrationAfter.String())
		assert.True(t, got.RiskScore.GreaterThanOrEqual(got.ConcentrationAfter))
	})

	t.Run("selling the holding reduces risk", func(t *testing.T) {
		sig := domain.TradingSignal{SignalID: "s2", Symbol: "BTC-USD", Side: domain.SideSell, Price: d("40000"), DeclaredSize: d("0.05")}
		got, err := c.AssessSignalImpact(context.Background(), sig, p, sig.DeclaredSize)
		require.NoError(t, err)
		assert.True(t, got.IncrementalVaR.IsNegative())
		assert.True(t, got.ConcentrationAfter.IsZero())
		assert.Contains(t, got.Notes, "signal reduces portfolio VaR")
	})

	t.Run("dominant position is noted", func(t *testing.T) {
		sig := domain.TradingSignal{SignalID: "s3", Symbol: "ETH-USD", Side: domain.SideBuy, Price: d("10"), DeclaredSize: d("900")}
		got, err := c.AssessSignalImpact(context.Background(), sig, p, sig.DeclaredSize)
		require.NoError(t, err)
		assert.True(t, got.RiskScore.Equal(d("0.75")), got.RiskScore.String())
		assert.Contains(t, got.Notes, "ETH-USD would be 75.0% of the portfolio")
	})

	t.Run("missing price", func(t *testing.T) {
		sig := domain.TradingSignal{SignalID: "s4", Symbol: "SOL-USD", Side: domain.SideBuy, DeclaredSize: d("1")}
		_, err := c.AssessSignalImpact(context.Background(), sig, p, sig.DeclaredSize)
		assert.ErrorIs(t, err, ErrNoPrice)
	})
}

func TestMarginalRisk(t *testing.T) {
	t.Parallel()
	c := newMC(nil)
	p := portfolio("10000", pos("BTC-USD", "0.05", "40000"))
	sig := domain.TradingSignal{SignalID: "s1", Symbol: "ETH-USD", Side: domain.SideBuy, Price: d("10")}

	got, err := c.MarginalRisk(context.Background(), sig, p)
	require.NoError(t, err)
	assert.InDelta(t, 10*0.02*1.6448536, got.VaRPerUnit.InexactFloat64(), 1e-6)
	assert.True(t, got.LeveragePerUnit.Equal(d("10").Div(d("12000"))))

	_, err = c.MarginalRisk(context.Background(), sig, portfolio("0"))
	assert.ErrorIs(t, err, ErrNonPositiveEquity)
}

func TestMarketRisk(t *testing.T) {
	t.Parallel()
	h := NewPriceHistory(64)
	feed(h, "BTC-USD", 40000, wave)
	feed(h, "ETH-USD", 2000, wave)
	c := NewHistoricalMarketCalculator(h, MarketConfig{Benchmark: "BTC-USD"})

	p := portfolio("10000", pos("BTC-USD", "0.05", "40000"), pos("ETH-USD", "1", "2000"))
	got, err := c.CalculateMarketRisk(context.Background(), p)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, got.Beta.InexactFloat64(), 1e-6)
	assert.InDelta(t, 1.0, got.MaxCorrelation.InexactFloat64(), 1e-6)
	assert.True(t, got.PortfolioVolatility.IsPositive())
	assert.True(t, got.CorrelationMatrix["BTC-USD"]["BTC-USD"].Equal(decimal.NewFromInt(1)))
	assert.Contains(t, got.CorrelationMatrix["ETH-USD"], "BTC-USD")
}

func TestMarketRiskWithoutHistory(t *testing.T) {
	t.Parallel()
	c := NewHistoricalMarketCalculator(nil, MarketConfig{Benchmark: "BTC-USD"})
	p := portfolio("10000", pos("BTC-USD", "0.05", "40000"))

	got, err := c.CalculateMarketRisk(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, got.Beta.Equal(decimal.NewFromInt(1)))
	assert.True(t, got.PortfolioVolatility.Equal(d("0.02")))
	assert.True(t, got.MaxCorrelation.IsZero())
}

func TestAssessSignalRisk(t *testing.T) {
	t.Parallel()
	c := NewHistoricalMarketCalculator(nil, DefaultMarketConfig())

	got, err := c.AssessSignalRisk(context.Background(), domain.TradingSignal{Symbol: "ETH-USD"})
	require.NoError(t, err)
	assert.True(t, got.RiskScore.Equal(d("0.4")), got.RiskScore.String())
	assert.Len(t, got.Notes, 1)
}
