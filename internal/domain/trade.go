package domain

import "time"

// PeerTrade 跟踪钱包（leaderboard 名单）的成交事件
type PeerTrade struct {
	Trader    string // 钱包地址
	AssetID   string
	Side      Side
	SizeUsd   float64
	Price     Price
	Timestamp time.Time
}

// IsValid 基本字段校验
func (t *PeerTrade) IsValid() bool {
	return t != nil && t.Trader != "" && t.AssetID != "" && t.SizeUsd > 0 &&
		(t.Side == SideBuy || t.Side == SideSell)
}

// TradeResult 已平仓交易结果（不可变，进入 EV 滚动窗口）
type TradeResult struct {
	PnlCents  float64
	Won       bool
	Timestamp time.Time
}

// OrderStatus 订单提交结果状态
type OrderStatus string

const (
	OrderSubmitted OrderStatus = "submitted"
	OrderSkipped   OrderStatus = "skipped"
	OrderFailed    OrderStatus = "failed"
)

// OrderType 订单类型
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC"
	OrderTypeFAK OrderType = "FAK"
	OrderTypeFOK OrderType = "FOK"
)

// OrderRequest 下单请求（价格已由执行引擎做过安全处理）
type OrderRequest struct {
	AssetID    string
	Side       Side
	SizeUsd    float64
	LimitPrice Price
	OrderType  OrderType
}

// OrderResult 订单提交的类型化结果。
//
// 提交失败以结果值表达而不是 error：单笔失败绝不中断整个周期。
type OrderResult struct {
	Status    OrderStatus
	OrderID   string
	AvgPrice  Price   // 成交均价（成交时有效）
	FilledUsd float64 // 实际成交名义金额
	Reason    string  // skipped/failed 的原因码
}

// Filled 检查是否有成交
func (r *OrderResult) Filled() bool {
	return r != nil && r.Status == OrderSubmitted && r.FilledUsd > 0
}
