package oms

import (
	"sync"
	"time"

	"github.com/betbot/copyflow/internal/ports"
)

// inFlightGuard 防止同一 token 的写操作并发重复提交。
//
// 周期重入（上一周期超时、下一周期又要对同一 token 动作）是最常见的
// 重复下单来源；TTL 兜底防止异常路径漏释放后永久卡死。
type inFlightGuard struct {
	clock ports.Clock

	mu  sync.Mutex
	m   map[string]time.Time // assetID -> acquiredAt
	ttl time.Duration
}

func newInFlightGuard(clock ports.Clock, ttl time.Duration) *inFlightGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &inFlightGuard{
		clock: clock,
		m:     make(map[string]time.Time, 16),
		ttl:   ttl,
	}
}

// TryAcquire 尝试占用 token 的写操作名额；已被占用且未过期返回 false。
func (g *inFlightGuard) TryAcquire(assetID string) bool {
	if g == nil || assetID == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if at, ok := g.m[assetID]; ok && now.Sub(at) < g.ttl {
		return false
	}
	g.m[assetID] = now
	return true
}

// Release 释放占用（正常路径在写操作结束后调用）。
func (g *inFlightGuard) Release(assetID string) {
	if g == nil || assetID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, assetID)
}
