package oms

import "time"

// ConfigInterface 订单/仓位管理所需配置
type ConfigInterface interface {
	// 入场频控
	GetMinEntryInterval() time.Duration // 两次入场之间的最小间隔
	GetMaxEntriesPerHour() int          // 滚动一小时内的入场上限
	GetTransientCooldown() time.Duration // TRANSIENT 失败后的 market 冷静期

	// 执行安全
	GetBalanceSafetyBufferUsd() float64 // 下单前余额复核的安全垫
	GetAllowanceCeilingUsd() float64    // 自动提升授权的上限
	GetMaxOrderActionsPerCycle() int    // 单周期写操作上限

	// 限流桶参数（按 market 维度）
	GetOrderBucketCapacity() int
	GetOrderBucketRefillPerMinute() int
}
