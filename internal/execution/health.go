package execution

import (
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// 盘口健康原因码（机器可读，用于观测/策略 gate）
const (
	ReasonMissingBook = "MISSING_BOOK"
	ReasonCrossedBook = "CROSSED_BOOK"
	ReasonEmptyBook   = "EMPTY_BOOK"
	ReasonStaleBook   = "STALE_BOOK"
)

// HealthOptions 盘口健康检查参数。
//
// Dead/empty 的定义：bid 贴地且 ask 顶天同时成立（接近结算或完全无流动性），
// 单独一边极端不算 dead，因为另一边仍可能可交易。
type HealthOptions struct {
	// DeadBidCents: bid 低于等于该值视为"贴地"（默认 1c）
	DeadBidCents int
	// DeadAskCents: ask 高于等于该值视为"顶天"（默认 99c）
	DeadAskCents int
	// MaxBookAge: 快照超过该年龄视为 stale；<=0 表示不检查
	MaxBookAge time.Duration
}

func (o HealthOptions) normalized() HealthOptions {
	if o.DeadBidCents <= 0 {
		o.DeadBidCents = 1
	}
	if o.DeadAskCents <= 0 {
		o.DeadAskCents = 99
	}
	return o
}

// CheckBookHealth 检查盘口是否可交易。
// 返回 (true, "") 或 (false, 原因码)。
//
// 不健康盘口属于 PERMANENT 市场条件：跳过候选，不设冷却。
func CheckBookHealth(book *domain.BookSnapshot, opt HealthOptions, now time.Time) (bool, string) {
	opt = opt.normalized()

	if book == nil || !book.HasBothSides() {
		return false, ReasonMissingBook
	}
	if !book.BestBid.IsValid() || !book.BestAsk.IsValid() {
		return false, ReasonMissingBook
	}
	if book.IsCrossed() {
		return false, ReasonCrossedBook
	}
	if book.BestBid.ToCents() <= opt.DeadBidCents && book.BestAsk.ToCents() >= opt.DeadAskCents {
		return false, ReasonEmptyBook
	}
	if opt.MaxBookAge > 0 && !book.ObservedAt.IsZero() && book.Age(now) > opt.MaxBookAge {
		return false, ReasonStaleBook
	}
	return true, ""
}
