// Package calculator 基于本地价格历史的组合风险与市场风险计算器
package calculator

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// DefaultHistoryWindow 每个资产保留的价格点数
const DefaultHistoryWindow = 256

type series struct {
	prices []float64
	last   time.Time
}

// PriceHistory 按资产维护滚动价格窗口，并发安全
type PriceHistory struct {
	mu     sync.RWMutex
	window int
	data   map[string]*series
}

// NewPriceHistory 创建价格历史，window 为保留的价格点数
func NewPriceHistory(window int) *PriceHistory {
	if window < 3 {
		window = DefaultHistoryWindow
	}
	return &PriceHistory{
		window: window,
		data:   make(map[string]*series),
	}
}

// ObservePrice 记录一个价格点。非正价格与早于最后一个点的乱序价格被忽略。
func (h *PriceHistory) ObservePrice(symbol string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.data[symbol]
	if !ok {
		s = &series{prices: make([]float64, 0, h.window)}
		h.data[symbol] = s
	}
	if !s.last.IsZero() && at.Before(s.last) {
		return
	}
	s.last = at
	s.prices = append(s.prices, price.InexactFloat64())
	if len(s.prices) > h.window {
		s.prices = append(s.prices[:0], s.prices[len(s.prices)-h.window:]...)
	}
}

// Len 资产的价格点数
func (h *PriceHistory) Len(symbol string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if s, ok := h.data[symbol]; ok {
		return len(s.prices)
	}
	return 0
}

// Returns 对数收益率序列，最旧的在前
func (h *PriceHistory) Returns(symbol string) []float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.data[symbol]
	if !ok || len(s.prices) < 2 {
		return nil
	}
	out := make([]float64, len(s.prices)-1)
	for i := 1; i < len(s.prices); i++ {
		out[i-1] = math.Log(s.prices[i] / s.prices[i-1])
	}
	return out
}

// Volatility 单期对数收益率的样本标准差，少于两个收益率时 ok 为 false
func (h *PriceHistory) Volatility(symbol string) (vol float64, ok bool) {
	r := h.Returns(symbol)
	if len(r) < 2 {
		return 0, false
	}
	vol = stat.StdDev(r, nil)
	if math.IsNaN(vol) {
		return 0, false
	}
	return vol, true
}

// Correlation 两个资产尾部对齐后的收益率相关系数
func (h *PriceHistory) Correlation(a, b string) (rho float64, ok bool) {
	ra, rb := alignTail(h.Returns(a), h.Returns(b))
	if len(ra) < 3 {
		return 0, false
	}
	rho = stat.Correlation(ra, rb, nil)
	if math.IsNaN(rho) || math.IsInf(rho, 0) {
		return 0, false
	}
	return math.Max(-1, math.Min(1, rho)), true
}

// alignTail 截取两个序列等长的尾部
func alignTail(a, b []float64) ([]float64, []float64) {
	n := min(len(a), len(b))
	return a[len(a)-n:], b[len(b)-n:]
}
