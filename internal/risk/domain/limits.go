package domain

import (
	"github.com/shopspring/decimal"
)

var (
	decimalOne = decimal.NewFromInt(1)

	// DefaultWorstCaseMove 计算日内亏损余量时假设的最坏不利价格变动比例
	DefaultWorstCaseMove = decimal.RequireFromString("0.05")
	// DefaultReductionFactor 减仓模式下对仓位上限的收缩系数
	DefaultReductionFactor = decimal.RequireFromString("0.5")
)

// RiskLimits 风控限额，一个版本内不可变，通过 RiskManager.ReloadLimits 整体替换
type RiskLimits struct {
	MaxVaR      decimal.Decimal `json:"max_var"`
	MaxLeverage decimal.Decimal `json:"max_leverage"`
	// MaxAssetConcentration 单资产集中度上限（占组合价值比例），未配置的资产使用默认值
	MaxAssetConcentration        map[string]decimal.Decimal `json:"max_asset_concentration,omitempty"`
	DefaultMaxAssetConcentration decimal.Decimal            `json:"default_max_asset_concentration"`
	MaxCorrelation               decimal.Decimal            `json:"max_correlation"`
	MaxDailyLoss                 decimal.Decimal            `json:"max_daily_loss"`
	MinPositionSize              map[string]decimal.Decimal `json:"min_position_size,omitempty"`
	DefaultMinPositionSize       decimal.Decimal            `json:"default_min_position_size"`
	WorstCaseMove                decimal.Decimal            `json:"worst_case_move"`
	ReductionFactor              decimal.Decimal            `json:"reduction_factor"`
}

// Validate 校验限额：全部为正，集中度与相关性落在 (0,1]
func (l RiskLimits) Validate() error {
	positive := []struct {
		field string
		v     decimal.Decimal
	}{
		{"max_var", l.MaxVaR},
		{"max_leverage", l.MaxLeverage},
		{"max_daily_loss", l.MaxDailyLoss},
		{"default_min_position_size", l.DefaultMinPositionSize},
	}
	for _, p := range positive {
		if !p.v.IsPositive() {
			return &ConfigurationError{Field: p.field, Reason: "must be > 0, got " + p.v.String()}
		}
	}

	if err := unitInterval("default_max_asset_concentration", l.DefaultMaxAssetConcentration); err != nil {
		return err
	}
	for asset, v := range l.MaxAssetConcentration {
		if err := unitInterval("max_asset_concentration."+asset, v); err != nil {
			return err
		}
	}
	for asset, v := range l.MinPositionSize {
		if !v.IsPositive() {
			return &ConfigurationError{Field: "min_position_size." + asset, Reason: "must be > 0, got " + v.String()}
		}
	}
	if err := unitInterval("max_correlation", l.MaxCorrelation); err != nil {
		return err
	}
	if err := unitInterval("worst_case_move", l.WorstCaseMove); err != nil {
		return err
	}
	return unitInterval("reduction_factor", l.ReductionFactor)
}

func unitInterval(field string, v decimal.Decimal) error {
	if !v.IsPositive() || v.GreaterThan(decimalOne) {
		return &ConfigurationError{Field: field, Reason: "must be in (0,1], got " + v.String()}
	}
	return nil
}

// ConcentrationLimit 返回资产的集中度上限
func (l RiskLimits) ConcentrationLimit(asset string) decimal.Decimal {
	if v, ok := l.MaxAssetConcentration[asset]; ok {
		return v
	}
	return l.DefaultMaxAssetConcentration
}

// MinSize 返回资产的最小下单量
func (l RiskLimits) MinSize(asset string) decimal.Decimal {
	if v, ok := l.MinPositionSize[asset]; ok {
		return v
	}
	return l.DefaultMinPositionSize
}

// Clone 深拷贝，避免调用方修改已发布的限额版本
func (l RiskLimits) Clone() RiskLimits {
	out := l
	out.MaxAssetConcentration = cloneDecimalMap(l.MaxAssetConcentration)
	out.MinPositionSize = cloneDecimalMap(l.MinPositionSize)
	return out
}

func cloneDecimalMap(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	if in == nil {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
