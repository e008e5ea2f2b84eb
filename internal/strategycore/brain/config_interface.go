package brain

import "time"

// ConfigInterface 决策引擎所需配置（getter 形式，便于测试桩与热加载）
type ConfigInterface interface {
	// 入场 sizing
	GetTradeFraction() float64 // 每笔占 bankroll 的比例
	GetMinTradeUsd() float64
	GetMaxTradeUsd() float64

	// 入场 gate
	GetRequireBias() bool       // 是否要求偏向许可
	GetMaxOpenPositions() int   // 并发仓位上限
	GetMaxExposureUsd() float64 // 总敞口上限

	// 硬入场带与偏好子带（cents 口径）
	GetEntryBandMinCents() int
	GetEntryBandMaxCents() int
	GetPreferredBandMinCents() int
	GetPreferredBandMaxCents() int
	// 子带外（硬带内）入场所需的更强信号
	GetStrongBiasNetFlowUsd() float64
	GetStrongEvCents() float64

	// 出场阈值（cents 口径）
	GetHardStopCents() int     // 不利变动 ≥ 该值 → 强制止损
	GetTakeProfitCents() int   // 有利变动 ≥ 该值 → 止盈
	GetHedgeTriggerCents() int // 不利变动 ≥ 该值 → 触发对冲
	GetHedgeRatio() float64    // 单次对冲占当前仓位价值的比例
	GetHedgeRatioCeiling() float64
	GetMaxHoldDuration() time.Duration // 超时离场
}
