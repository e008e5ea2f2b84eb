package engine

import "time"

// ConfigInterface 主控循环所需配置
type ConfigInterface interface {
	GetFastCycleInterval() time.Duration    // 有持仓时的周期
	GetSlowCycleInterval() time.Duration    // 空仓时的周期
	GetCycleTimeout() time.Duration         // 单周期硬超时
	GetBalanceRefreshInterval() time.Duration // 余额刷新节流
	GetMaxEntriesPerCycle() int             // 单周期新开仓上限
	GetRedeemInterval() time.Duration       // 已结算仓位赎回的巡检间隔
}
