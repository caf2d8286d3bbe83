package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// eventHandlers 订阅主题到处理函数的映射
func (m *RiskManager) eventHandlers() map[string]domain.EventHandler {
	return map[string]domain.EventHandler{
		domain.TopicTradeExecuted:    m.handleTradeExecuted,
		domain.TopicMarketDataUpdate: m.handleMarketData,
		domain.TopicPortfolioUpdate:  m.handlePortfolioUpdate,
		domain.TopicSystemAlert:      m.handleSystemAlert,
	}
}

func decodeEvent(e domain.Event, dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Topic, err)
	}
	return nil
}

func (m *RiskManager) updater() (domain.PortfolioUpdater, bool) {
	u, ok := m.deps.Portfolio.(domain.PortfolioUpdater)
	return u, ok
}

func (m *RiskManager) handleTradeExecuted(ctx context.Context, e domain.Event) error {
	var ev domain.TradeExecutedEvent
	if err := decodeEvent(e, &ev); err != nil {
		return err
	}
	if u, ok := m.updater(); ok {
		u.ApplyTrade(ev)
	}
	m.observePrice(ev.Symbol, ev.Price, ev.ExecutedAt)
	logger.Debug(ctx, "trade executed event applied", "trade_id", ev.TradeID, "symbol", ev.Symbol)
	m.RequestRecalculation()
	return nil
}

func (m *RiskManager) handleMarketData(_ context.Context, e domain.Event) error {
	var ev domain.MarketDataUpdateEvent
	if err := decodeEvent(e, &ev); err != nil {
		return err
	}
	if u, ok := m.updater(); ok {
		u.UpdatePrice(ev.Symbol, ev.Price, ev.Timestamp)
	}
	m.observePrice(ev.Symbol, ev.Price, ev.Timestamp)
	return nil
}

func (m *RiskManager) observePrice(symbol string, price decimal.Decimal, at time.Time) {
	if !price.IsPositive() {
		return
	}
	symbol = normalizeSymbol(symbol)
	for _, o := range m.deps.PriceObservers {
		o.ObservePrice(symbol, price, at)
	}
}

func (m *RiskManager) handlePortfolioUpdate(ctx context.Context, e domain.Event) error {
	var ev domain.PortfolioUpdateEvent
	if err := decodeEvent(e, &ev); err != nil {
		return err
	}
	if u, ok := m.updater(); ok {
		u.Replace(ev.Portfolio)
	}
	logger.Debug(ctx, "portfolio snapshot replaced", "account_id", ev.Portfolio.AccountID)
	m.RequestRecalculation()
	return nil
}

// handleSystemAlert CRITICAL 级别（以及无法识别的级别）的系统告警直接熔断，其余只触发重算
func (m *RiskManager) handleSystemAlert(ctx context.Context, e domain.Event) error {
	var ev domain.SystemAlertEvent
	if err := decodeEvent(e, &ev); err != nil {
		return err
	}
	if ev.Severity == domain.SeverityCritical || !ev.Severity.Valid() {
		reason := fmt.Sprintf("system alert from %s: %s", ev.Source, ev.Message)
		return m.emergencyHalt(ctx, reason, nil)
	}
	logger.Warn(ctx, "system alert received", "source", ev.Source, "severity", ev.Severity, "message", ev.Message)
	m.RequestRecalculation()
	return nil
}
