package oms

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ ports.Clock = (*fakeClock)(nil)

func TestPositionManager_PerTokenUniqueness(t *testing.T) {
	pm := NewPositionManager(newFakeClock())

	_, err := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if _, err := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy); !errors.Is(err, ErrDuplicatePosition) {
		t.Fatalf("expected ErrDuplicatePosition, got %v", err)
	}
	// 其他 token 不受影响
	if _, err := pm.Open("m1", "tok-2", "cond-1", domain.SideBuy); err != nil {
		t.Fatalf("different token should open: %v", err)
	}
}

func TestPositionManager_Lifecycle(t *testing.T) {
	clock := newFakeClock()
	pm := NewPositionManager(clock)

	pos, err := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy)
	if err != nil {
		t.Fatal(err)
	}
	if pos.State != domain.PositionOpening {
		t.Fatalf("expected OPENING, got %s", pos.State)
	}

	if err := pm.ConfirmOpen(pos.ID, 100, domain.PriceFromCents(50)); err != nil {
		t.Fatal(err)
	}
	if pos.State != domain.PositionOpen {
		t.Fatalf("expected OPEN, got %s", pos.State)
	}

	pm.BeginCycle()
	if err := pm.AddHedgeLeg(pos.ID, domain.HedgeLeg{AssetID: "tok-2", Size: 40, EntryPrice: domain.PriceFromCents(67)}); err != nil {
		t.Fatal(err)
	}
	if pos.State != domain.PositionHedged {
		t.Fatalf("expected HEDGED, got %s", pos.State)
	}

	pm.BeginCycle()
	if err := pm.BeginExit(pos.ID); err != nil {
		t.Fatal(err)
	}

	pm.BeginCycle()
	trade, err := pm.ConfirmClose(pos.ID, domain.PriceFromCents(40), domain.PriceFromCents(72))
	if err != nil {
		t.Fatal(err)
	}
	// 主腿 100·(0.40−0.50) = −10；对冲腿 40·(0.72−0.67) = +2 → −8
	if math.Abs(pos.RealizedPnlUsd-(-8)) > 1e-9 {
		t.Fatalf("expected realized −8, got %.4f", pos.RealizedPnlUsd)
	}
	// 加权 cents：−8 / 140 shares · 100
	want := -8.0 / 140 * 100
	if math.Abs(trade.PnlCents-want) > 1e-9 {
		t.Fatalf("expected pnlCents %.4f, got %.4f", want, trade.PnlCents)
	}
	if trade.Won {
		t.Fatal("losing trade marked as win")
	}

	// 终态归档：token 释放，可再开
	if pm.ActiveForAsset("tok-1") != nil {
		t.Fatal("closed position still active")
	}
	if len(pm.Archived()) != 1 {
		t.Fatalf("expected 1 archived, got %d", len(pm.Archived()))
	}
	if _, err := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy); err != nil {
		t.Fatalf("token should be reusable after close: %v", err)
	}
}

func TestPositionManager_OneTransitionPerCycle(t *testing.T) {
	pm := NewPositionManager(newFakeClock())
	pos, _ := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy)
	if err := pm.ConfirmOpen(pos.ID, 100, domain.PriceFromCents(50)); err != nil {
		t.Fatal(err)
	}

	// 同周期内第二次转移被拒
	if err := pm.BeginExit(pos.ID); !errors.Is(err, ErrTransitionThisCycle) {
		t.Fatalf("expected ErrTransitionThisCycle, got %v", err)
	}
	pm.BeginCycle()
	if err := pm.BeginExit(pos.ID); err != nil {
		t.Fatalf("next cycle should allow transition: %v", err)
	}
}

func TestPositionManager_InvalidTransitions(t *testing.T) {
	pm := NewPositionManager(newFakeClock())
	pos, _ := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy)

	// OPENING 不能直接出场或对冲
	if err := pm.BeginExit(pos.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	pm.BeginCycle()
	if err := pm.AddHedgeLeg(pos.ID, domain.HedgeLeg{AssetID: "tok-2", Size: 1, EntryPrice: domain.PriceFromCents(50)}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	pm.BeginCycle()
	if _, err := pm.ConfirmClose(pos.ID, domain.PriceFromCents(40), domain.Price{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestPositionManager_FailedBypassesCycleLimit(t *testing.T) {
	pm := NewPositionManager(newFakeClock())
	pos, _ := pm.Open("m1", "tok-1", "cond-1", domain.SideBuy)
	if err := pm.ConfirmOpen(pos.ID, 100, domain.PriceFromCents(50)); err != nil {
		t.Fatal(err)
	}
	// 同周期：FAILED 是错误路径，不受单周期限制
	if err := pm.MarkFailed(pos.ID, "MARKET_RESOLVED"); err != nil {
		t.Fatal(err)
	}
	if pm.ActiveForAsset("tok-1") != nil {
		t.Fatal("failed position still active")
	}
	// 终态不能再 FAILED
	if err := pm.MarkFailed(pos.ID, "again"); !errors.Is(err, ErrPositionNotFound) {
		t.Fatalf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestPositionManager_Rebuild(t *testing.T) {
	pm := NewPositionManager(newFakeClock())
	n := pm.Rebuild([]ports.ExchangePosition{
		{AssetID: "tok-1", ConditionID: "cond-1", Size: 50, AvgPrice: domain.PriceFromCents(44)},
		{AssetID: "tok-2", ConditionID: "cond-2", Size: 0},  // 空仓跳过
		{AssetID: "", ConditionID: "cond-3", Size: 10},      // 畸形跳过
	})
	if n != 1 {
		t.Fatalf("expected 1 rebuilt, got %d", n)
	}
	pos := pm.ActiveForAsset("tok-1")
	if pos == nil || pos.State != domain.PositionOpen {
		t.Fatalf("rebuilt position missing or wrong state: %+v", pos)
	}
	if pos.EntryPrice.ToCents() != 44 {
		t.Fatalf("expected entry 44c, got %dc", pos.EntryPrice.ToCents())
	}
	// 已有仓位的 token 不重复重建
	if n := pm.Rebuild([]ports.ExchangePosition{{AssetID: "tok-1", Size: 50, AvgPrice: domain.PriceFromCents(44)}}); n != 0 {
		t.Fatalf("expected 0 on duplicate rebuild, got %d", n)
	}
}

func TestPositionManager_ExposureAndCount(t *testing.T) {
	pm := NewPositionManager(newFakeClock())
	p1, _ := pm.Open("m1", "tok-1", "c1", domain.SideBuy)
	_ = pm.ConfirmOpen(p1.ID, 100, domain.PriceFromCents(50)) // $50
	p2, _ := pm.Open("m2", "tok-3", "c2", domain.SideBuy)     // OPENING，不计 open
	_ = p2

	if pm.OpenCount() != 1 {
		t.Fatalf("expected 1 open, got %d", pm.OpenCount())
	}
	if math.Abs(pm.ExposureUsd()-50) > 1e-9 {
		t.Fatalf("expected exposure 50, got %.2f", pm.ExposureUsd())
	}
}
