package brain

import (
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// ExitReason 出场判定结果码。
//
// 同一仓位多个条件同时命中时的优先级（严格）：
// HARD_STOP ≻ TAKE_PROFIT ≻ HEDGE_TRIGGER ≻ TIME_STOP ≻ NONE。
type ExitReason string

const (
	ExitHardStop     ExitReason = "HARD_STOP"
	ExitTakeProfit   ExitReason = "TAKE_PROFIT"
	ExitHedgeTrigger ExitReason = "HEDGE_TRIGGER"
	ExitTimeStop     ExitReason = "TIME_STOP"
	ExitNone         ExitReason = "NONE"
)

// IsClose 该结果是否要求平掉主腿（HEDGE_TRIGGER 是加腿不是平仓）。
func (r ExitReason) IsClose() bool {
	return r == ExitHardStop || r == ExitTakeProfit || r == ExitTimeStop
}

// ExitVerdict 出场判定
type ExitVerdict struct {
	Reason ExitReason
	// HedgeSizeUsd 仅在 HEDGE_TRIGGER 时有效：本次对冲腿名义金额
	HedgeSizeUsd float64
	// MoveCents：判定依据的价格变动（正=有利，负=不利），观测用
	MoveCents int
}

// EvaluateExit 出场判定（纯函数）。
//
// mark 口径：主腿的可退出价（bestBid）。盘口缺 bid 时仅评估 TIME_STOP，
// 价格触发器不在脏数据上动作。
func (e *Engine) EvaluateExit(pos *domain.ManagedPosition, book *domain.BookSnapshot, now time.Time) ExitVerdict {
	cfg := e.config
	if pos == nil || !pos.IsOpenState() {
		return ExitVerdict{Reason: ExitNone}
	}

	timeStop := cfg.GetMaxHoldDuration() > 0 && now.Sub(pos.OpenedAt) >= cfg.GetMaxHoldDuration()

	if book == nil || book.BestBid.Pips <= 0 {
		if timeStop {
			return ExitVerdict{Reason: ExitTimeStop}
		}
		return ExitVerdict{Reason: ExitNone}
	}

	mark := book.BestBid
	adverse := pos.AdverseMoveCents(mark)
	favorable := -adverse

	// HARD_STOP 压倒一切
	if hs := cfg.GetHardStopCents(); hs > 0 && adverse >= hs {
		return ExitVerdict{Reason: ExitHardStop, MoveCents: -adverse}
	}
	if tp := cfg.GetTakeProfitCents(); tp > 0 && favorable >= tp {
		return ExitVerdict{Reason: ExitTakeProfit, MoveCents: favorable}
	}
	if ht := cfg.GetHedgeTriggerCents(); ht > 0 && adverse >= ht {
		if size := e.hedgeSizeUsd(pos, mark); size > 0 {
			return ExitVerdict{Reason: ExitHedgeTrigger, HedgeSizeUsd: size, MoveCents: -adverse}
		}
		// 对冲额度已满：不加腿，继续等其他触发器
	}
	if timeStop {
		return ExitVerdict{Reason: ExitTimeStop, MoveCents: favorable}
	}
	return ExitVerdict{Reason: ExitNone, MoveCents: favorable}
}

// hedgeSizeUsd 单次对冲腿额度：hedgeRatio·当前仓位价值，
// 受累计上限约束（多次触发的累计比例不得超过 ceiling）。
func (e *Engine) hedgeSizeUsd(pos *domain.ManagedPosition, mark domain.Price) float64 {
	cfg := e.config
	ceiling := cfg.GetHedgeRatioCeiling()
	if ceiling <= 0 {
		return 0
	}
	entryValue := pos.EntryValueUsd()
	if entryValue <= 0 {
		return 0
	}

	remaining := ceiling - pos.HedgeRatio()
	if remaining <= 1e-9 {
		return 0
	}

	currentValue := pos.Size * mark.ToDecimal()
	want := cfg.GetHedgeRatio() * currentValue
	// 累计上限以入场名义为基数，保证比例不随 mark 波动漂移
	maxAllowed := remaining * entryValue
	if want > maxAllowed {
		want = maxAllowed
	}
	if want <= 0 {
		return 0
	}
	return want
}
