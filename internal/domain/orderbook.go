package domain

import "time"

// BookSnapshot 一档盘口快照（每次轮询刷新，绝不落盘）。
//
// BidDepthUsd/AskDepthUsd 为一档可成交名义金额（可选，0 表示未知）。
type BookSnapshot struct {
	AssetID     string
	BestBid     Price
	BestAsk     Price
	BidDepthUsd float64
	AskDepthUsd float64
	ObservedAt  time.Time
}

// HasBothSides 检查双边报价是否都存在
func (b *BookSnapshot) HasBothSides() bool {
	return b != nil && b.BestBid.Pips > 0 && b.BestAsk.Pips > 0
}

// IsCrossed 检查盘口是否交叉（bid > ask，脏快照/断档）
func (b *BookSnapshot) IsCrossed() bool {
	if b == nil || !b.HasBothSides() {
		return false
	}
	return b.BestBid.GreaterThan(b.BestAsk)
}

// SpreadPips 一档价差（pips）；缺边返回 -1。
func (b *BookSnapshot) SpreadPips() int {
	if !b.HasBothSides() {
		return -1
	}
	return b.BestAsk.Pips - b.BestBid.Pips
}

// Mid 中间价；缺边返回零值。
func (b *BookSnapshot) Mid() Price {
	if !b.HasBothSides() {
		return Price{}
	}
	return Price{Pips: (b.BestBid.Pips + b.BestAsk.Pips) / 2}
}

// Age 快照年龄
func (b *BookSnapshot) Age(now time.Time) time.Duration {
	if b == nil || b.ObservedAt.IsZero() {
		return 0
	}
	return now.Sub(b.ObservedAt)
}
