package oms

import (
	"testing"
	"time"
)

type omsCfg struct {
	minInterval  time.Duration
	maxPerHour   int
	cooldown     time.Duration
	balanceBuf   float64
	allowanceCap float64
	maxActions   int
	bucketCap    int
	bucketRefill int
}

func (c omsCfg) GetMinEntryInterval() time.Duration   { return c.minInterval }
func (c omsCfg) GetMaxEntriesPerHour() int            { return c.maxPerHour }
func (c omsCfg) GetTransientCooldown() time.Duration  { return c.cooldown }
func (c omsCfg) GetBalanceSafetyBufferUsd() float64   { return c.balanceBuf }
func (c omsCfg) GetAllowanceCeilingUsd() float64      { return c.allowanceCap }
func (c omsCfg) GetMaxOrderActionsPerCycle() int      { return c.maxActions }
func (c omsCfg) GetOrderBucketCapacity() int          { return c.bucketCap }
func (c omsCfg) GetOrderBucketRefillPerMinute() int   { return c.bucketRefill }

func defaultOmsCfg() omsCfg {
	return omsCfg{
		minInterval:  30 * time.Second,
		maxPerHour:   10,
		cooldown:     time.Minute,
		balanceBuf:   2,
		allowanceCap: 1000,
		maxActions:   8,
		bucketCap:    5,
		bucketRefill: 5,
	}
}

func TestEntryGuard_MinInterval(t *testing.T) {
	clock := newFakeClock()
	g := NewEntryGuard(defaultOmsCfg(), clock)

	if ok, _ := g.CanEnter("m1"); !ok {
		t.Fatal("fresh guard should allow")
	}
	g.RecordEntry()
	if ok, why := g.CanEnter("m1"); ok {
		t.Fatal("within min interval should block")
	} else if why == "" {
		t.Fatal("block must carry a reason")
	}
	clock.Advance(31 * time.Second)
	if ok, _ := g.CanEnter("m1"); !ok {
		t.Fatal("after min interval should allow")
	}
}

func TestEntryGuard_HourlyCap(t *testing.T) {
	clock := newFakeClock()
	cfg := defaultOmsCfg()
	cfg.minInterval = 0
	cfg.maxPerHour = 3
	g := NewEntryGuard(cfg, clock)

	for i := 0; i < 3; i++ {
		g.RecordEntry()
		clock.Advance(time.Minute)
	}
	if ok, _ := g.CanEnter("m1"); ok {
		t.Fatal("hourly cap reached, should block")
	}
	// 窗口滚动后释放
	clock.Advance(time.Hour)
	if ok, _ := g.CanEnter("m1"); !ok {
		t.Fatal("window rolled, should allow")
	}
}

func TestEntryGuard_CooldownExtendsNotShrinks(t *testing.T) {
	clock := newFakeClock()
	g := NewEntryGuard(defaultOmsCfg(), clock)

	g.SetCooldown("m1", "timeout")
	clock.Advance(30 * time.Second)
	g.SetCooldown("m1", "timeout") // 续期到 now+60s

	clock.Advance(45 * time.Second) // 第一次的 60s 已过，续期未过
	if ok, _ := g.CanEnter("m1"); ok {
		t.Fatal("extended cooldown should still block")
	}
	if !g.InCooldown("m1") {
		t.Fatal("InCooldown should report true")
	}
	clock.Advance(20 * time.Second)
	if ok, _ := g.CanEnter("m1"); !ok {
		t.Fatal("cooldown expired, should allow")
	}
	// 冷静期只作用于指定 market
	g.SetCooldown("m1", "timeout")
	if ok, _ := g.CanEnter("m2"); !ok {
		t.Fatal("cooldown must be per-market")
	}
}
