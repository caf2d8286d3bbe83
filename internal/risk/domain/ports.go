package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioRiskCalculator 组合风险计算器
type PortfolioRiskCalculator interface {
	AssessSignalImpact(ctx context.Context, signal TradingSignal, portfolio Portfolio, potentialPosition decimal.Decimal) (PortfolioRiskImpact, error)
	CalculatePortfolioRisk(ctx context.Context, portfolio Portfolio) (PortfolioRisk, error)
	MarginalRisk(ctx context.Context, signal TradingSignal, portfolio Portfolio) (MarginalRisk, error)
}

// MarketRiskCalculator 市场风险计算器
type MarketRiskCalculator interface {
	AssessSignalRisk(ctx context.Context, signal TradingSignal) (MarketRiskImpact, error)
	CalculateMarketRisk(ctx context.Context, portfolio Portfolio) (MarketRisk, error)
}

// OperationalRiskMonitor 运营风险监控
type OperationalRiskMonitor interface {
	AssessOperationalRisk(ctx context.Context) (OperationalRisk, error)
}

// ComplianceEngine 合规规则引擎
type ComplianceEngine interface {
	ValidateSignal(ctx context.Context, signal TradingSignal) (ComplianceResult, error)
}

// AlertSystem 告警通道，调用方不等待投递结果
type AlertSystem interface {
	SendCriticalAlert(ctx context.Context, alert *RiskAlert)
	SendHighPriorityAlert(ctx context.Context, alert *RiskAlert)
	SendWarningAlert(ctx context.Context, alert *RiskAlert)
}

// Event 总线上的一条消息，Payload 为 JSON
type Event struct {
	Topic   string
	Key     string
	Payload []byte
	Time    time.Time
}

// EventHandler 事件处理函数
type EventHandler func(ctx context.Context, event Event) error

// Subscription 订阅句柄
type Subscription interface {
	Unsubscribe() error
}

// EventBus 事件总线
type EventBus interface {
	Subscribe(topic string, handler EventHandler) (Subscription, error)
	Publish(ctx context.Context, topic string, payload any) error
}

// PortfolioProvider 提供当前组合
type PortfolioProvider interface {
	CurrentPortfolio(ctx context.Context) (Portfolio, error)
}

// PortfolioUpdater 可由事件驱动更新的组合来源
type PortfolioUpdater interface {
	ApplyTrade(event TradeExecutedEvent)
	UpdatePrice(symbol string, price decimal.Decimal, at time.Time)
	Replace(portfolio Portfolio)
}

// PriceObserver 接收成交与行情价格，用于维护波动率与相关性所需的价格历史
type PriceObserver interface {
	ObservePrice(symbol string, price decimal.Decimal, at time.Time)
}
