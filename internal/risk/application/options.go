package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/config"
)

// Options 风控编排参数
type Options struct {
	// 监控循环
	Interval               time.Duration
	FastInterval           time.Duration
	FastTicks              int
	ErrorBackoffInitial    time.Duration
	ErrorBackoffMax        time.Duration
	MaxConsecutiveFailures int
	HistorySize            int

	// 交易路径超时
	AssessmentTimeout time.Duration
	CalculatorTimeout time.Duration
	ComplianceTimeout time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Interval:               5 * time.Second,
		FastInterval:           time.Second,
		FastTicks:              10,
		ErrorBackoffInitial:    10 * time.Second,
		ErrorBackoffMax:        2 * time.Minute,
		MaxConsecutiveFailures: 5,
		HistorySize:            500,
		AssessmentTimeout:      100 * time.Millisecond,
		CalculatorTimeout:      80 * time.Millisecond,
		ComplianceTimeout:      80 * time.Millisecond,
	}
}

// OptionsFromConfig 从配置构造参数，未配置项使用默认值
func OptionsFromConfig(cfg config.RiskConfig) Options {
	o := DefaultOptions()
	m := cfg.Monitoring
	setDuration(&o.Interval, m.Interval)
	setDuration(&o.FastInterval, m.FastInterval)
	setDuration(&o.ErrorBackoffInitial, m.ErrorBackoffInitial)
	setDuration(&o.ErrorBackoffMax, m.ErrorBackoffMax)
	if m.FastTicks > 0 {
		o.FastTicks = m.FastTicks
	}
	if m.MaxConsecutiveFailures >= 0 {
		o.MaxConsecutiveFailures = m.MaxConsecutiveFailures
	}
	if m.HistorySize > 0 {
		o.HistorySize = m.HistorySize
	}
	setDuration(&o.AssessmentTimeout, cfg.Timeouts.Assessment)
	setDuration(&o.CalculatorTimeout, cfg.Timeouts.Calculator)
	setDuration(&o.ComplianceTimeout, cfg.Timeouts.Compliance)
	return o
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// LimitsFromConfig 解析并校验限额配置
func LimitsFromConfig(cfg config.RiskLimitsConfig) (domain.RiskLimits, error) {
	var (
		l   domain.RiskLimits
		err error
	)
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
		def  decimal.Decimal
	}{
		{"max_var", cfg.MaxVaR, &l.MaxVaR, decimal.Zero},
		{"max_leverage", cfg.MaxLeverage, &l.MaxLeverage, decimal.Zero},
		{"max_asset_concentration", cfg.DefaultMaxAssetConcentration, &l.DefaultMaxAssetConcentration, decimal.Zero},
		{"max_correlation", cfg.MaxCorrelation, &l.MaxCorrelation, decimal.Zero},
		{"max_daily_loss", cfg.MaxDailyLoss, &l.MaxDailyLoss, decimal.Zero},
		{"min_position_size", cfg.DefaultMinPositionSize, &l.DefaultMinPositionSize, decimal.Zero},
		{"worst_case_move", cfg.WorstCaseMove, &l.WorstCaseMove, domain.DefaultWorstCaseMove},
		{"reduction_factor", cfg.ReductionFactor, &l.ReductionFactor, domain.DefaultReductionFactor},
	}
	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return domain.RiskLimits{}, &domain.ConfigurationError{Field: f.name, Reason: fmt.Sprintf("not a decimal: %q", f.raw)}
		}
	}

	if l.MaxAssetConcentration, err = parseDecimalMap("asset_concentration", cfg.AssetConcentration); err != nil {
		return domain.RiskLimits{}, err
	}
	if l.MinPositionSize, err = parseDecimalMap("asset_min_position_size", cfg.AssetMinPositionSize); err != nil {
		return domain.RiskLimits{}, err
	}
	if err := l.Validate(); err != nil {
		return domain.RiskLimits{}, err
	}
	return l, nil
}

func parseDecimalMap(field string, raw map[string]string) (map[string]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: field + "." + k, Reason: fmt.Sprintf("not a decimal: %q", v)}
		}
		// viper 会将 key 转为小写，资产代码统一按大写匹配
		out[normalizeSymbol(k)] = d
	}
	return out, nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// normalizeLimitKeys 资产维度限额的 key 统一为大写
func normalizeLimitKeys(l domain.RiskLimits) domain.RiskLimits {
	upper := func(in map[string]decimal.Decimal) map[string]decimal.Decimal {
		if in == nil {
			return nil
		}
		out := make(map[string]decimal.Decimal, len(in))
		for k, v := range in {
			out[normalizeSymbol(k)] = v
		}
		return out
	}
	l.MaxAssetConcentration = upper(l.MaxAssetConcentration)
	l.MinPositionSize = upper(l.MinPositionSize)
	return l
}
