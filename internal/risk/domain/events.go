package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// 订阅的主题
const (
	TopicTradeExecuted    = "trade_executed"
	TopicMarketDataUpdate = "market_data_update"
	TopicPortfolioUpdate  = "portfolio_update"
	TopicSystemAlert      = "system_alert"
)

// 发布的主题
const (
	TopicRiskMetricsUpdated = "risk_metrics_updated"
	TopicRiskViolation      = "risk_violation"
	TopicCircuitBreaker     = "circuit_breaker"
	TopicRiskAlert          = "risk_alert"
	TopicOrderCommands      = "order_commands"
)

// SubscribedTopics 监控启动时订阅的主题，按订阅顺序排列
var SubscribedTopics = []string{
	TopicTradeExecuted,
	TopicMarketDataUpdate,
	TopicPortfolioUpdate,
	TopicSystemAlert,
}

// TradeExecutedEvent 成交事件
type TradeExecutedEvent struct {
	TradeID     string          `json:"trade_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // 执行侧口径，仅供审计，盈亏以本地盯市为准
	ExecutedAt  time.Time       `json:"executed_at"`
}

// MarketDataUpdateEvent 行情事件
type MarketDataUpdateEvent struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PortfolioUpdateEvent 组合快照事件，整体替换本地组合
type PortfolioUpdateEvent struct {
	Portfolio Portfolio `json:"portfolio"`
}

// SystemAlertEvent 其它组件上报的系统告警
type SystemAlertEvent struct {
	Source    string    `json:"source"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RiskMetricsUpdatedEvent 风险快照发布事件
type RiskMetricsUpdatedEvent struct {
	Metrics *RiskMetrics `json:"metrics"`
	Level   RiskLevel    `json:"level"`
}

// RiskViolationEvent 违规已处置事件，发布时熔断动作已生效
type RiskViolationEvent struct {
	Violation RiskViolation `json:"violation"`
	AlertID   string        `json:"alert_id"`
	Halted    bool          `json:"halted"`
	Error     string        `json:"error,omitempty"`
}

// CancelAllOrdersCommand 熔断时下发给执行侧的撤单指令
type CancelAllOrdersCommand struct {
	CommandID string    `json:"command_id"`
	Reason    string    `json:"reason"`
	IssuedAt  time.Time `json:"issued_at"`
}

// AlertPriority 告警投递优先级
type AlertPriority string

const (
	AlertPriorityCritical AlertPriority = "CRITICAL"
	AlertPriorityHigh     AlertPriority = "HIGH"
	AlertPriorityWarning  AlertPriority = "WARNING"
)

// RiskAlertEvent 告警投递事件
type RiskAlertEvent struct {
	Priority AlertPriority `json:"priority"`
	Alert    RiskAlert     `json:"alert"`
	Message  string        `json:"message"`
	SentAt   time.Time     `json:"sent_at"`
}
