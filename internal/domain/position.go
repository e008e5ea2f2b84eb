package domain

import "time"

// PositionState 仓位生命周期状态
//
// 状态机：OPENING → OPEN → HEDGED → EXITING → CLOSED
// 任意非终态都可进入 FAILED（不可恢复的订单错误，如市场中途结算）。
type PositionState string

const (
	PositionOpening PositionState = "OPENING" // 入场订单已提交，等待成交确认
	PositionOpen    PositionState = "OPEN"    // 入场成交确认
	PositionHedged  PositionState = "HEDGED"  // 已挂对冲腿（可多次递增）
	PositionExiting PositionState = "EXITING" // 出场订单已提交
	PositionClosed  PositionState = "CLOSED"  // 出场成交，PnL 已结算（终态）
	PositionFailed  PositionState = "FAILED"  // 不可恢复错误，以交易所持仓为准对账（终态）
)

// IsTerminal 检查是否为终态
func (s PositionState) IsTerminal() bool {
	return s == PositionClosed || s == PositionFailed
}

// HedgeLeg 对冲腿：在对侧 token 上开的子仓位，用于给亏损仓位封底。
type HedgeLeg struct {
	AssetID    string    // 对侧 token 资产 ID
	Size       float64   // shares
	EntryPrice Price     // 对冲腿入场价
	OpenedAt   time.Time // 开腿时间
}

// ManagedPosition 受管仓位。
//
// 只能由 Position Manager 修改；终态仓位归档而不删除。
// 不变式：同一 token 任意时刻至多一个非终态仓位；
// 累计对冲比例不超过配置上限。
type ManagedPosition struct {
	ID          string // uuid
	MarketSlug  string
	AssetID     string // 主腿 token
	ConditionID string
	Side        Side
	Size        float64 // 主腿 shares
	EntryPrice  Price   // 主腿入场价（成交均价）
	State       PositionState
	HedgeLegs   []HedgeLeg

	OpenedAt time.Time
	ClosedAt *time.Time

	RealizedPnlUsd   float64
	UnrealizedPnlUsd float64
}

// IsOpenState 是否处于持仓中（可被出场评估）
func (p *ManagedPosition) IsOpenState() bool {
	if p == nil {
		return false
	}
	return p.State == PositionOpen || p.State == PositionHedged
}

// EntryValueUsd 主腿名义金额（入场口径）
func (p *ManagedPosition) EntryValueUsd() float64 {
	if p == nil {
		return 0
	}
	return p.Size * p.EntryPrice.ToDecimal()
}

// HedgedValueUsd 所有对冲腿的名义金额合计（入场口径）
func (p *ManagedPosition) HedgedValueUsd() float64 {
	if p == nil {
		return 0
	}
	total := 0.0
	for _, leg := range p.HedgeLegs {
		total += leg.Size * leg.EntryPrice.ToDecimal()
	}
	return total
}

// HedgeRatio 累计对冲比例 = 对冲名义 / 主腿名义。
// 主腿名义为 0 时返回 0。
func (p *ManagedPosition) HedgeRatio() float64 {
	ev := p.EntryValueUsd()
	if ev <= 0 {
		return 0
	}
	return p.HedgedValueUsd() / ev
}

// AdverseMoveCents 相对入场价的不利变动（cents，正数表示亏损方向）。
// mark 为当前可退出价（主腿的 bestBid）。
func (p *ManagedPosition) AdverseMoveCents(mark Price) int {
	if p == nil {
		return 0
	}
	return p.EntryPrice.ToCents() - mark.ToCents()
}

// FavorableMoveCents 相对入场价的有利变动（cents，正数表示盈利方向）。
func (p *ManagedPosition) FavorableMoveCents(mark Price) int {
	return -p.AdverseMoveCents(mark)
}
