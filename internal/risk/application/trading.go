package application

import (
	"context"
	"time"

	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// 准入拒绝原因
const (
	ReasonAllowed           = "allowed"
	ReasonTradingHalted     = "trading_halted"
	ReasonCriticalRisk      = "critical_risk"
	ReasonPositionNotViable = "position_not_viable"
	ReasonNonCompliant      = "non_compliant"
)

// TradeDecision 交易准入结论
type TradeDecision struct {
	Allowed    bool                   `json:"allowed"`
	Reason     string                 `json:"reason"`
	Assessment *domain.RiskAssessment `json:"assessment,omitempty"`
	Sizing     *domain.SizingResult   `json:"sizing,omitempty"`
}

// AssessTradingSignalRisk 评估信号风险。三个维度并发计算，任一失败或超出评估预算时返回 CRITICAL 的保守结果。
func (m *RiskManager) AssessTradingSignalRisk(ctx context.Context, signal domain.TradingSignal) domain.RiskAssessment {
	start := time.Now()
	defer func() { m.deps.Metrics.ObserveAssessment(time.Since(start)) }()

	baseline := m.snapshot.Load()
	if baseline == nil {
		return domain.FailSafeAssessment(signal.SignalID, domain.ErrNoSnapshot, m.now())
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.AssessmentTimeout)
	defer cancel()

	var (
		portfolioImpact domain.PortfolioRiskImpact
		marketImpact    domain.MarketRiskImpact
		compliance      domain.ComplianceResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		portfolioImpact, err = callWithTimeout(gctx, m.opts.CalculatorTimeout, func(c context.Context) (domain.PortfolioRiskImpact, error) {
			p, perr := m.deps.Portfolio.CurrentPortfolio(c)
			if perr != nil {
				return domain.PortfolioRiskImpact{}, perr
			}
			return m.deps.PortfolioRisk.AssessSignalImpact(c, signal, p, signal.DeclaredSize)
		})
		return wrapCalc(SourcePortfolio, err)
	})
	g.Go(func() error {
		var err error
		marketImpact, err = callWithTimeout(gctx, m.opts.CalculatorTimeout, func(c context.Context) (domain.MarketRiskImpact, error) {
			return m.deps.MarketRisk.AssessSignalRisk(c, signal)
		})
		return wrapCalc(SourceMarket, err)
	})
	g.Go(func() error {
		var err error
		compliance, err = callWithTimeout(gctx, m.opts.ComplianceTimeout, func(c context.Context) (domain.ComplianceResult, error) {
			return m.deps.Compliance.ValidateSignal(c, signal)
		})
		return wrapCalc(SourceCompliance, err)
	})
	if err := g.Wait(); err != nil {
		logger.Warn(ctx, "signal assessment failed, returning fail-safe result", "signal_id", signal.SignalID, "error", err)
		return domain.FailSafeAssessment(signal.SignalID, err, m.now())
	}

	return domain.AggregateAssessment(signal, baseline, portfolioImpact, marketImpact, compliance, m.now())
}

// CalculatePositionSize 计算信号允许的仓位。current 为 nil 时使用最新快照。
func (m *RiskManager) CalculatePositionSize(ctx context.Context, signal domain.TradingSignal, current *domain.RiskMetrics) domain.SizingResult {
	if current == nil {
		current = m.snapshot.Load()
	}
	if current == nil {
		return domain.NotViable("no risk snapshot available")
	}

	marginal, err := callWithTimeout(ctx, m.opts.CalculatorTimeout, func(c context.Context) (domain.MarginalRisk, error) {
		p, perr := m.deps.Portfolio.CurrentPortfolio(c)
		if perr != nil {
			return domain.MarginalRisk{}, perr
		}
		return m.deps.PortfolioRisk.MarginalRisk(c, signal, p)
	})
	if err != nil {
		logger.Warn(ctx, "marginal risk unavailable, position not viable", "signal_id", signal.SignalID, "error", err)
		return domain.NotViable("marginal risk unavailable: " + err.Error())
	}

	return m.sizer.CalculatePositionSize(signal, current, m.Limits(), marginal, m.deps.Breaker.PositionReductionActive())
}

// EvaluateTrade 交易准入：熔断、风险等级、仓位、合规依次判定，返回首个拒绝原因。
// 熔断时不调用任何计算器或合规引擎。
func (m *RiskManager) EvaluateTrade(ctx context.Context, signal domain.TradingSignal, current *domain.RiskMetrics) TradeDecision {
	decision := m.evaluate(ctx, signal, current)
	m.deps.Metrics.RecordDecision(decision.Allowed, decision.Reason)
	if !decision.Allowed {
		logger.Info(ctx, "trade rejected", "signal_id", signal.SignalID, "symbol", signal.Symbol, "reason", decision.Reason)
	}
	return decision
}

// CanExecuteTrade EvaluateTrade 的布尔形式
func (m *RiskManager) CanExecuteTrade(ctx context.Context, signal domain.TradingSignal, current *domain.RiskMetrics) bool {
	return m.EvaluateTrade(ctx, signal, current).Allowed
}

func (m *RiskManager) evaluate(ctx context.Context, signal domain.TradingSignal, current *domain.RiskMetrics) TradeDecision {
	if m.deps.Breaker.IsTradingHalted() {
		return TradeDecision{Reason: ReasonTradingHalted}
	}

	assessment := m.AssessTradingSignalRisk(ctx, signal)
	if assessment.OverallRiskLevel == domain.RiskLevelCritical {
		return TradeDecision{Reason: ReasonCriticalRisk, Assessment: &assessment}
	}

	sizing := m.CalculatePositionSize(ctx, signal, current)
	if !sizing.Size.IsPositive() {
		return TradeDecision{Reason: ReasonPositionNotViable, Assessment: &assessment, Sizing: &sizing}
	}

	if !assessment.Compliance.IsCompliant {
		return TradeDecision{Reason: ReasonNonCompliant, Assessment: &assessment, Sizing: &sizing}
	}
	return TradeDecision{Allowed: true, Reason: ReasonAllowed, Assessment: &assessment, Sizing: &sizing}
}
