package domain

import "math"

// Price 价格值对象（固定精度：1e-4）
//
// 交易所的 tick size 可能为 0.1 / 0.01 / 0.001 / 0.0001。
// 为了让策略/执行层不丢精度，这里使用 1e-4 作为内部最小单位（pips）：
//   - 1 pip  = 0.0001
//   - 100 pips = 0.01（策略阈值口径的 1 cent）
//   - 10000 pips = 1.0
type Price struct {
	// Pips: 价格 * 10000（合法区间通常 1..9999）
	Pips int
}

// ToDecimal 转换为小数（例如 4500 pips = 0.4500）
func (p Price) ToDecimal() float64 {
	return float64(p.Pips) / 10000.0
}

// ToCents 返回"分（0.01）口径"的整数（策略阈值/日志用，非内部精度）。
func (p Price) ToCents() int {
	return int(math.Round(float64(p.Pips) / 100.0))
}

// IsValid 检查价格是否落在开区间 (0, 1)。
func (p Price) IsValid() bool {
	return p.Pips > 0 && p.Pips < 10000
}

// PriceFromDecimal 从小数创建价格（四舍五入到 1e-4）
func PriceFromDecimal(decimal float64) Price {
	if math.IsNaN(decimal) || math.IsInf(decimal, 0) {
		return Price{}
	}
	return Price{Pips: int(math.Round(decimal * 10000))}
}

// PriceFromCents 从 cents 创建价格（1 cent = 100 pips）
func PriceFromCents(cents int) Price {
	return Price{Pips: cents * 100}
}

// Add 价格相加
func (p Price) Add(other Price) Price {
	return Price{Pips: p.Pips + other.Pips}
}

// Subtract 价格相减
func (p Price) Subtract(other Price) Price {
	return Price{Pips: p.Pips - other.Pips}
}

// GreaterThan 检查是否大于
func (p Price) GreaterThan(other Price) bool {
	return p.Pips > other.Pips
}

// LessThan 检查是否小于
func (p Price) LessThan(other Price) bool {
	return p.Pips < other.Pips
}

// GreaterThanOrEqual 检查是否大于等于
func (p Price) GreaterThanOrEqual(other Price) bool {
	return p.Pips >= other.Pips
}

// LessThanOrEqual 检查是否小于等于
func (p Price) LessThanOrEqual(other Price) bool {
	return p.Pips <= other.Pips
}
