package oms

import (
	"fmt"
	"sync"
	"time"

	"github.com/betbot/copyflow/internal/ports"
)

type cooldownInfo struct {
	until  time.Time
	reason string
}

// EntryGuard 入场频控：最小间隔、滚动一小时上限、按 market 的冷静期。
//
// 冷静期只挡"新开仓"；风险处理（对冲/止损/平仓）不受影响。
// PERMANENT 市场条件（盘口差、价格带外）不设冷静期——条件本身就是闸。
type EntryGuard struct {
	config ConfigInterface
	clock  ports.Clock

	mu        sync.Mutex
	lastEntry time.Time
	entries   []time.Time // 滚动一小时窗口
	cooldowns map[string]cooldownInfo
}

func NewEntryGuard(cfg ConfigInterface, clock ports.Clock) *EntryGuard {
	return &EntryGuard{
		config:    cfg,
		clock:     clock,
		cooldowns: make(map[string]cooldownInfo),
	}
}

// CanEnter 新开仓总闸。返回 (false, 原因) 时调用方记原因码后跳过候选。
func (g *EntryGuard) CanEnter(marketSlug string) (bool, string) {
	if g == nil {
		return true, ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()

	if cd, ok := g.cooldowns[marketSlug]; ok {
		if now.Before(cd.until) {
			return false, fmt.Sprintf("cooldown %s (%s)", cd.until.Sub(now).Round(time.Second), cd.reason)
		}
		delete(g.cooldowns, marketSlug)
	}

	if min := g.config.GetMinEntryInterval(); min > 0 && !g.lastEntry.IsZero() {
		if since := now.Sub(g.lastEntry); since < min {
			return false, fmt.Sprintf("min_interval %s", (min - since).Round(time.Second))
		}
	}

	if cap := g.config.GetMaxEntriesPerHour(); cap > 0 {
		g.pruneLocked(now)
		if len(g.entries) >= cap {
			return false, fmt.Sprintf("hourly_cap %d", cap)
		}
	}
	return true, ""
}

// RecordEntry 记录一次成功入场（提交即记，不等成交）。
func (g *EntryGuard) RecordEntry() {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.lastEntry = now
	g.entries = append(g.entries, now)
	g.pruneLocked(now)
}

// SetCooldown 对 market 设冷静期（TRANSIENT 失败路径）。延长不缩短。
func (g *EntryGuard) SetCooldown(marketSlug, reason string) {
	if g == nil || marketSlug == "" {
		return
	}
	dur := g.config.GetTransientCooldown()
	if dur <= 0 {
		dur = 30 * time.Second
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.clock.Now().Add(dur)
	if cur, ok := g.cooldowns[marketSlug]; ok && cur.until.After(until) {
		until = cur.until
	}
	g.cooldowns[marketSlug] = cooldownInfo{until: until, reason: reason}
}

// InCooldown 查询 market 是否在冷静期内（不清理过期项）。
func (g *EntryGuard) InCooldown(marketSlug string) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cd, ok := g.cooldowns[marketSlug]
	return ok && g.clock.Now().Before(cd.until)
}

func (g *EntryGuard) pruneLocked(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for ; i < len(g.entries); i++ {
		if g.entries[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		g.entries = append(g.entries[:0], g.entries[i:]...)
	}
}
