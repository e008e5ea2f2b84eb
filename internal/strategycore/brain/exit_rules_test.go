package brain

import (
	"math"
	"testing"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

func openPosition(entryCents int, sizeShares float64, openedAt time.Time) *domain.ManagedPosition {
	return &domain.ManagedPosition{
		ID:         "pos-1",
		MarketSlug: "will-x-happen",
		AssetID:    "tok-1",
		Side:       domain.SideBuy,
		Size:       sizeShares,
		EntryPrice: domain.PriceFromCents(entryCents),
		State:      domain.PositionOpen,
		OpenedAt:   openedAt,
	}
}

// 入场 0.50，标记 0.33：不利 17c ≥ 触发阈值 16c，对冲腿 = 40% 当前仓位价值。
func TestEvaluateExit_HedgeTrigger(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-time.Hour)) // 入场名义 $50
	book := healthyBook(33, 35, now)

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitHedgeTrigger {
		t.Fatalf("expected HEDGE_TRIGGER, got %s", v.Reason)
	}
	// 当前仓位价值 100·0.33 = $33，比例 0.40 → $13.20
	if math.Abs(v.HedgeSizeUsd-13.2) > 1e-9 {
		t.Fatalf("expected hedge size 13.20, got %.4f", v.HedgeSizeUsd)
	}
	if v.Reason.IsClose() {
		t.Fatal("hedge trigger must not close the primary leg")
	}
}

func TestEvaluateExit_HardStopPreemptsHedge(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	// 不利 30c：同时越过 hedgeTrigger(16) 和 hardStop(25)
	pos := openPosition(50, 100, now.Add(-time.Hour))
	book := healthyBook(20, 22, now)

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitHardStop {
		t.Fatalf("expected HARD_STOP to preempt, got %s", v.Reason)
	}
}

func TestEvaluateExit_TakeProfit(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-time.Hour))
	book := healthyBook(61, 63, now)

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitTakeProfit {
		t.Fatalf("expected TAKE_PROFIT, got %s", v.Reason)
	}
	if v.MoveCents != 11 {
		t.Fatalf("expected favorable move 11c, got %d", v.MoveCents)
	}
}

func TestEvaluateExit_TimeStop(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-7*time.Hour))
	book := healthyBook(48, 52, now) // 价格触发器都不命中

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitTimeStop {
		t.Fatalf("expected TIME_STOP, got %s", v.Reason)
	}
}

// 价格触发优先于超时：两者同时成立时报价格触发。
func TestEvaluateExit_PriceTriggerBeatsTimeStop(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-8*time.Hour))
	book := healthyBook(61, 63, now)

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitTakeProfit {
		t.Fatalf("expected TAKE_PROFIT over TIME_STOP, got %s", v.Reason)
	}
}

func TestEvaluateExit_NoTrigger(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-time.Hour))
	book := healthyBook(45, 47, now)

	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitNone {
		t.Fatalf("expected NONE, got %s", v.Reason)
	}
}

// 累计对冲比例封顶：剩余额度不足一整腿时按剩余额度裁剪，打满后不再加腿。
func TestEvaluateExit_HedgeCeilingClipsAndStops(t *testing.T) {
	now := time.Now()
	cfg := defaultBrainCfg()
	cfg.hedgeRatio = 0.50
	cfg.hedgeCeiling = 0.80
	e := NewEngine(cfg)

	pos := openPosition(50, 100, now.Add(-time.Hour)) // 入场名义 $50
	pos.State = domain.PositionHedged
	pos.HedgeLegs = []domain.HedgeLeg{
		{AssetID: "tok-2", Size: 50, EntryPrice: domain.PriceFromCents(50), OpenedAt: now.Add(-30 * time.Minute)},
	} // 已对冲 $25，比例 0.50

	book := healthyBook(33, 35, now)
	v := e.EvaluateExit(pos, book, now)
	if v.Reason != ExitHedgeTrigger {
		t.Fatalf("expected HEDGE_TRIGGER, got %s", v.Reason)
	}
	// 想要 0.50·$33 = $16.50，但剩余额度 (0.80−0.50)·$50 = $15
	if math.Abs(v.HedgeSizeUsd-15) > 1e-9 {
		t.Fatalf("expected clipped hedge size 15, got %.4f", v.HedgeSizeUsd)
	}

	// 打满上限后不再加腿
	pos.HedgeLegs = append(pos.HedgeLegs, domain.HedgeLeg{
		AssetID: "tok-2", Size: 30, EntryPrice: domain.PriceFromCents(50), OpenedAt: now,
	}) // 累计 $40 = 0.80
	v = e.EvaluateExit(pos, book, now)
	if v.Reason == ExitHedgeTrigger {
		t.Fatal("ceiling reached, must not hedge again")
	}
}

func TestEvaluateExit_MissingBidOnlyTimeStop(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	pos := openPosition(50, 100, now.Add(-time.Hour))
	book := &domain.BookSnapshot{AssetID: "tok-1", BestAsk: domain.PriceFromCents(52), ObservedAt: now}

	if v := e.EvaluateExit(pos, book, now); v.Reason != ExitNone {
		t.Fatalf("no bid and not timed out: expected NONE, got %s", v.Reason)
	}

	pos.OpenedAt = now.Add(-7 * time.Hour)
	if v := e.EvaluateExit(pos, book, now); v.Reason != ExitTimeStop {
		t.Fatalf("no bid but timed out: expected TIME_STOP, got %s", v.Reason)
	}
}

func TestEvaluateExit_TerminalStatesIgnored(t *testing.T) {
	now := time.Now()
	e := NewEngine(defaultBrainCfg())

	for _, st := range []domain.PositionState{domain.PositionOpening, domain.PositionExiting, domain.PositionClosed, domain.PositionFailed} {
		pos := openPosition(50, 100, now.Add(-24*time.Hour))
		pos.State = st
		if v := e.EvaluateExit(pos, healthyBook(10, 12, now), now); v.Reason != ExitNone {
			t.Fatalf("state %s: expected NONE, got %s", st, v.Reason)
		}
	}
}
