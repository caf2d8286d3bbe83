package application

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
)

// PortfolioBook 本地组合账本，由成交、行情和组合快照事件驱动。
// 实现 domain.PortfolioProvider 与 domain.PortfolioUpdater。
type PortfolioBook struct {
	mu  sync.RWMutex
	p   domain.Portfolio
	now func() time.Time
}

// NewPortfolioBook 创建空仓组合
func NewPortfolioBook(accountID string, cash decimal.Decimal) *PortfolioBook {
	return &PortfolioBook{
		p: domain.Portfolio{
			AccountID: accountID,
			Cash:      cash,
			Positions: make(map[string]domain.Position),
			UpdatedAt: time.Now(),
		},
		now: time.Now,
	}
}

// CurrentPortfolio 返回组合的深拷贝
func (b *PortfolioBook) CurrentPortfolio(_ context.Context) (domain.Portfolio, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return clonePortfolio(b.p), nil
}

// ApplyTrade 按成交更新持仓、现金与当日盈亏。
// 已有持仓先按成交价盯市，当日盈亏只计盯市价差与手续费；
// 平仓盈亏已体现在此前的盯市中，事件携带的 RealizedPnL 不再重复计入。
func (b *PortfolioBook) ApplyTrade(e domain.TradeExecutedEvent) {
	at := e.ExecutedAt
	if at.IsZero() {
		at = b.now()
	}
	symbol := normalizeSymbol(e.Symbol)
	signed := e.Quantity
	if e.Side == domain.SideSell {
		signed = signed.Neg()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollDayLocked(at)

	pos := b.p.Positions[symbol]
	pos.Symbol = symbol
	if !pos.Quantity.IsZero() && pos.MarketPrice.IsPositive() {
		b.p.DailyPnL = b.p.DailyPnL.Add(pos.Quantity.Mul(e.Price.Sub(pos.MarketPrice)))
	}
	newQty := pos.Quantity.Add(signed)
	switch {
	case pos.Quantity.IsZero() || pos.Quantity.Sign() == signed.Sign():
		// 同向加仓，按数量加权平均成本
		if !newQty.IsZero() {
			pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(e.Price.Mul(signed)).Div(newQty)
		}
	case !newQty.IsZero() && newQty.Sign() != pos.Quantity.Sign():
		// 反手，剩余部分以成交价为成本
		pos.AvgPrice = e.Price
	}
	pos.Quantity = newQty
	pos.MarketPrice = e.Price

	b.p.Cash = b.p.Cash.Sub(signed.Mul(e.Price)).Sub(e.Fee)
	b.p.DailyPnL = b.p.DailyPnL.Sub(e.Fee)
	if pos.Quantity.IsZero() {
		delete(b.p.Positions, symbol)
	} else {
		b.p.Positions[symbol] = pos
	}
	b.touchLocked(at)
}

// UpdatePrice 按最新价格重估持仓，价差计入当日盈亏
func (b *PortfolioBook) UpdatePrice(symbol string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	if at.IsZero() {
		at = b.now()
	}
	symbol = normalizeSymbol(symbol)

	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.p.Positions[symbol]
	if !ok {
		return
	}
	b.rollDayLocked(at)
	if pos.MarketPrice.IsPositive() {
		b.p.DailyPnL = b.p.DailyPnL.Add(pos.Quantity.Mul(price.Sub(pos.MarketPrice)))
	}
	pos.MarketPrice = price
	b.p.Positions[symbol] = pos
	b.touchLocked(at)
}

// Replace 用外部快照整体替换组合
func (b *PortfolioBook) Replace(p domain.Portfolio) {
	cp := clonePortfolio(p)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p = cp
}

// rollDayLocked 跨 UTC 自然日时清零当日盈亏，乱序到达的旧事件不触发
func (b *PortfolioBook) rollDayLocked(at time.Time) {
	if !at.After(b.p.UpdatedAt) {
		return
	}
	y1, m1, d1 := b.p.UpdatedAt.UTC().Date()
	y2, m2, d2 := at.UTC().Date()
	if y1 != y2 || m1 != m2 || d1 != d2 {
		b.p.DailyPnL = decimal.Zero
	}
}

func (b *PortfolioBook) touchLocked(at time.Time) {
	if at.After(b.p.UpdatedAt) {
		b.p.UpdatedAt = at
	}
}

func clonePortfolio(p domain.Portfolio) domain.Portfolio {
	cp := p
	cp.Positions = make(map[string]domain.Position, len(p.Positions))
	for k, v := range p.Positions {
		cp.Positions[k] = v
	}
	return cp
}
