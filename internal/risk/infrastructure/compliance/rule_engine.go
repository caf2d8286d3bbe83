// Package compliance 基于静态规则的信号合规校验
package compliance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/config"
)

// Rules 合规规则，零值字段表示不启用对应检查
type Rules struct {
	RestrictedSymbols []string
	MaxOrderNotional  decimal.Decimal
	MinConfidence     decimal.Decimal
	MaxSignalAge      time.Duration
}

// RulesFromConfig 解析配置中的合规规则
func RulesFromConfig(cfg config.ComplianceConfig) (Rules, error) {
	r := Rules{
		RestrictedSymbols: cfg.RestrictedSymbols,
		MaxSignalAge:      cfg.MaxSignalAge,
	}
	var err error
	if r.MaxOrderNotional, err = parseOptional("max_order_notional", cfg.MaxOrderNotional); err != nil {
		return r, err
	}
	if r.MinConfidence, err = parseOptional("min_confidence", cfg.MinConfidence); err != nil {
		return r, err
	}
	return r, nil
}

func parseOptional(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &domain.ConfigurationError{Field: "compliance." + field, Reason: err.Error()}
	}
	if v.IsNegative() {
		return decimal.Zero, &domain.ConfigurationError{Field: "compliance." + field, Reason: "must be >= 0, got " + raw}
	}
	return v, nil
}

// RuleComplianceEngine 规则合规引擎，所有检查都在内存中完成
type RuleComplianceEngine struct {
	rules      Rules
	restricted map[string]struct{}
	now        func() time.Time
}

// NewRuleComplianceEngine 创建规则引擎，now 为 nil 时使用 time.Now
func NewRuleComplianceEngine(rules Rules, now func() time.Time) *RuleComplianceEngine {
	if now == nil {
		now = time.Now
	}
	restricted := make(map[string]struct{}, len(rules.RestrictedSymbols))
	for _, s := range rules.RestrictedSymbols {
		restricted[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &RuleComplianceEngine{rules: rules, restricted: restricted, now: now}
}

// ValidateSignal 校验信号，返回全部不满足的规则
func (e *RuleComplianceEngine) ValidateSignal(ctx context.Context, signal domain.TradingSignal) (domain.ComplianceResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ComplianceResult{}, err
	}

	var violations []string
	symbol := strings.ToUpper(strings.TrimSpace(signal.Symbol))
	if symbol == "" {
		violations = append(violations, "symbol is required")
	}
	if _, ok := e.restricted[symbol]; ok {
		violations = append(violations, fmt.Sprintf("symbol %s is restricted", symbol))
	}
	if signal.Side != domain.SideBuy && signal.Side != domain.SideSell {
		violations = append(violations, fmt.Sprintf("unsupported side %q", signal.Side))
	}
	if !signal.Price.IsPositive() {
		violations = append(violations, "price must be positive")
	}
	if !signal.DeclaredSize.IsPositive() {
		violations = append(violations, "declared size must be positive")
	}
	if e.rules.MaxOrderNotional.IsPositive() {
		if n := signal.Notional(); n.GreaterThan(e.rules.MaxOrderNotional) {
			violations = append(violations, fmt.Sprintf("notional %s exceeds limit %s", n, e.rules.MaxOrderNotional))
		}
	}
	if e.rules.MinConfidence.IsPositive() && signal.Confidence.LessThan(e.rules.MinConfidence) {
		violations = append(violations, fmt.Sprintf("confidence %s below minimum %s", signal.Confidence, e.rules.MinConfidence))
	}
	if e.rules.MaxSignalAge > 0 && !signal.GeneratedAt.IsZero() {
		if age := e.now().Sub(signal.GeneratedAt); age > e.rules.MaxSignalAge {
			violations = append(violations, fmt.Sprintf("signal is stale: age %s exceeds %s", age.Truncate(time.Millisecond), e.rules.MaxSignalAge))
		}
	}

	return domain.ComplianceResult{IsCompliant: len(violations) == 0, Violations: violations}, nil
}
