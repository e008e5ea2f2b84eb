package bias

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
)

var log = logrus.WithField("module", "bias")

// ConfigInterface 偏向累计器所需配置
type ConfigInterface interface {
	GetBiasWindow() time.Duration       // 滚动窗口长度
	GetBiasStaleness() time.Duration    // 无新成交多久后过期为 NONE
	GetBiasMinNetFlowUsd() float64      // 方向判定的最小净流量（USD）
	GetBiasMinTrades() int              // 方向判定的最小笔数
	GetInstantCopy() bool               // 单笔合格成交即给许可（同一代码路径的开关）
	GetMinPeerTradeUsd() float64        // 低于该金额的成交不计入
}

// TokenBias 某 token 的方向许可信号
type TokenBias struct {
	AssetID     string
	Direction   domain.BiasDirection
	NetFlowUsd  float64
	TradeCount  int
	LastUpdated time.Time
}

type tokenWindow struct {
	trades []domain.PeerTrade // 按时间追加，查询时惰性淘汰
	// entryBlocked：持仓期间偏向翻转 → 只禁新开仓，不强平
	entryBlocked bool
	lastUpdated  time.Time
}

// Accumulator 把跟踪钱包的成交流聚合为按 token 的方向许可。
//
// 满足 ports.PeerTradeHandler；所有状态内存驻留，不落盘。
type Accumulator struct {
	config ConfigInterface
	clock  ports.Clock

	mu      sync.RWMutex
	windows map[string]*tokenWindow // assetID -> window
}

func New(cfg ConfigInterface, clock ports.Clock) *Accumulator {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Accumulator{
		config:  cfg,
		clock:   clock,
		windows: make(map[string]*tokenWindow),
	}
}

// HandlePeerTrade 接收一笔跟踪钱包成交（实现 ports.PeerTradeHandler）。
func (a *Accumulator) HandlePeerTrade(_ context.Context, trade *domain.PeerTrade) {
	a.Ingest(trade)
}

// Ingest 纳入一笔成交；不合格（金额过小/字段缺失）的直接丢弃。
func (a *Accumulator) Ingest(trade *domain.PeerTrade) {
	if a == nil || !trade.IsValid() {
		return
	}
	if trade.SizeUsd < a.config.GetMinPeerTradeUsd() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.windows[trade.AssetID]
	if w == nil {
		w = &tokenWindow{}
		a.windows[trade.AssetID] = w
	}

	now := a.clock.Now()
	prev := a.directionLocked(w, now)

	w.trades = append(w.trades, *trade)
	w.lastUpdated = now
	a.evictLocked(w, now)

	cur := a.directionLocked(w, now)
	if prev != domain.BiasNone && cur != domain.BiasNone && prev != cur {
		// 偏向翻转：只停新开仓（已有仓位交给出场规则处理）
		w.entryBlocked = true
		log.Warnf("🔄 [Bias] 偏向翻转 %s → %s: asset=%s，该 token 暂停新开仓", prev, cur, trade.AssetID)
	}

	log.Debugf("📥 [Bias] 纳入成交: asset=%s trader=%s side=%s sizeUsd=%.2f direction=%s",
		trade.AssetID, trade.Trader, trade.Side, trade.SizeUsd, cur)
}

// Get 查询 token 当前偏向。过期（staleness 窗口内无合格成交）必须返回 NONE，
// 即使旧数据仍在缓存里。
func (a *Accumulator) Get(assetID string) TokenBias {
	if a == nil {
		return TokenBias{AssetID: assetID, Direction: domain.BiasNone}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	w := a.windows[assetID]
	if w == nil {
		return TokenBias{AssetID: assetID, Direction: domain.BiasNone}
	}

	now := a.clock.Now()
	if now.Sub(w.lastUpdated) >= a.config.GetBiasStaleness() {
		return TokenBias{AssetID: assetID, Direction: domain.BiasNone, LastUpdated: w.lastUpdated}
	}

	net, count := a.flowLocked(w, now)
	return TokenBias{
		AssetID:     assetID,
		Direction:   a.directionLocked(w, now),
		NetFlowUsd:  net,
		TradeCount:  count,
		LastUpdated: w.lastUpdated,
	}
}

// EntryBlocked 查询 token 是否因偏向翻转被禁止新开仓。
func (a *Accumulator) EntryBlocked(assetID string) bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	w := a.windows[assetID]
	return w != nil && w.entryBlocked
}

// ClearEntryBlock 仓位关闭后解除翻转封锁。
func (a *Accumulator) ClearEntryBlock(assetID string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if w := a.windows[assetID]; w != nil {
		w.entryBlocked = false
	}
}

// Sweep 周期性清理：淘汰窗口外成交、删除彻底过期的 token 记录。
func (a *Accumulator) Sweep() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	stale := a.config.GetBiasStaleness()
	for asset, w := range a.windows {
		a.evictLocked(w, now)
		if len(w.trades) == 0 && now.Sub(w.lastUpdated) >= stale && !w.entryBlocked {
			delete(a.windows, asset)
		}
	}
}

// flowLocked 统计窗口内净流量与笔数（买正卖负）。
func (a *Accumulator) flowLocked(w *tokenWindow, now time.Time) (netUsd float64, count int) {
	cutoff := now.Add(-a.config.GetBiasWindow())
	for _, t := range w.trades {
		if t.Timestamp.Before(cutoff) {
			continue
		}
		count++
		if t.Side == domain.SideBuy {
			netUsd += t.SizeUsd
		} else {
			netUsd -= t.SizeUsd
		}
	}
	return netUsd, count
}

// directionLocked 判定方向。
//
// instant-copy 模式下，单笔合格成交即给许可——同一条判定路径，
// 只是阈值退化为（minNetFlow=成交额自身、minTrades=1）。
func (a *Accumulator) directionLocked(w *tokenWindow, now time.Time) domain.BiasDirection {
	if now.Sub(w.lastUpdated) >= a.config.GetBiasStaleness() {
		return domain.BiasNone
	}
	net, count := a.flowLocked(w, now)

	minFlow := a.config.GetBiasMinNetFlowUsd()
	minTrades := a.config.GetBiasMinTrades()
	if a.config.GetInstantCopy() {
		minFlow = a.config.GetMinPeerTradeUsd()
		minTrades = 1
	}

	if net >= minFlow && count >= minTrades {
		return domain.BiasLong
	}
	if -net >= minFlow && count >= minTrades {
		return domain.BiasShort
	}
	return domain.BiasNone
}

// evictLocked 淘汰窗口外的旧成交（最旧优先）。
func (a *Accumulator) evictLocked(w *tokenWindow, now time.Time) {
	cutoff := now.Add(-a.config.GetBiasWindow())
	i := 0
	for ; i < len(w.trades); i++ {
		if !w.trades[i].Timestamp.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		w.trades = append(w.trades[:0], w.trades[i:]...)
	}
}
