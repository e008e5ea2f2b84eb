package oms

import (
	"sync"
	"time"

	"github.com/betbot/copyflow/internal/ports"
)

// tokenBucket 按 market 维度的令牌桶。
// 用途：限制"下单/对冲/平仓"等写操作在极端行情里爆炸式触发。
type tokenBucket struct {
	capacity   float64
	refillRate float64 // tokens per second

	tokens     float64
	lastRefill time.Time
}

func newTokenBucket(capacity int, refillPerMinute int, now time.Time) *tokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPerMinute <= 0 {
		refillPerMinute = capacity
	}
	return &tokenBucket{
		capacity:   float64(capacity),
		refillRate: float64(refillPerMinute) / 60.0,
		tokens:     float64(capacity),
		lastRefill: now,
	}
}

func (b *tokenBucket) allow(cost float64, now time.Time) bool {
	if b == nil {
		return true
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	if b.tokens >= cost {
		b.tokens -= cost
		return true
	}
	return false
}

type perMarketLimiter struct {
	clock ports.Clock

	mu sync.Mutex
	m  map[string]*tokenBucket

	capacity        int
	refillPerMinute int
}

func newPerMarketLimiter(clock ports.Clock, capacity int, refillPerMinute int) *perMarketLimiter {
	return &perMarketLimiter{
		clock:           clock,
		m:               make(map[string]*tokenBucket, 64),
		capacity:        capacity,
		refillPerMinute: refillPerMinute,
	}
}

func (l *perMarketLimiter) Allow(marketSlug string, cost int) bool {
	if l == nil || marketSlug == "" {
		return true
	}
	if cost <= 0 {
		cost = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	b := l.m[marketSlug]
	if b == nil {
		b = newTokenBucket(l.capacity, l.refillPerMinute, now)
		l.m[marketSlug] = b
	}
	return b.allow(float64(cost), now)
}
