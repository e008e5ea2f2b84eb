package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/metrics"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/internal/strategycore/bias"
	"github.com/betbot/copyflow/internal/strategycore/brain"
	"github.com/betbot/copyflow/internal/strategycore/capital"
	"github.com/betbot/copyflow/internal/strategycore/evtrack"
	"github.com/betbot/copyflow/internal/strategycore/oms"
)

var log = logrus.WithField("module", "engine")

// LiquidationMode 全局清仓开关（绕过决策引擎）
type LiquidationMode string

const (
	LiquidateNone   LiquidationMode = "NONE"
	LiquidateAll    LiquidationMode = "ALL"
	LiquidateLosing LiquidationMode = "LOSING_ONLY"
)

// Engine 主控循环：所有交易动作的唯一发起点。
//
// 双节奏：有持仓走快周期，空仓走慢周期。周期内的固定顺序：
// 节流刷新余额 → 刷新 bias/EV/准备金 → 先处理全部出场 → 再在剩余预算内
// 入场 → 收尾（赎回已结算仓位）。single-flight 保证周期不重入；
// 周期级超时把卡死的外部调用当 TRANSIENT 处理。
type Engine struct {
	config      ConfigInterface
	strategyCfg brain.ConfigInterface
	exchange    ports.Exchange
	clock       ports.Clock
	notifier    ports.Notifier

	brain   *brain.Engine
	bias    *bias.Accumulator
	ev      *evtrack.Tracker
	capital *capital.Manager
	oms     *oms.OMS

	markets []*domain.Market
	health  execution.HealthOptions

	inCycle     atomic.Bool
	halted      atomic.Bool
	liquidation atomic.Value // LiquidationMode

	mu            sync.RWMutex
	snapshot      *Snapshot
	balance       ports.Balance
	lastBalanceAt int64 // unix nano，0 表示从未刷新
	lastRedeemAt  int64
	cycleCount    uint64
}

// Deps 引擎依赖（全部注入，无隐藏全局）
type Deps struct {
	Config      ConfigInterface
	StrategyCfg brain.ConfigInterface
	Exchange    ports.Exchange
	Clock       ports.Clock
	Notifier    ports.Notifier
	Brain       *brain.Engine
	Bias        *bias.Accumulator
	Ev          *evtrack.Tracker
	Capital     *capital.Manager
	OMS         *oms.OMS
	Markets     []*domain.Market
	Health      execution.HealthOptions
}

func New(d Deps) *Engine {
	e := &Engine{
		config:      d.Config,
		strategyCfg: d.StrategyCfg,
		exchange:    d.Exchange,
		clock:       d.Clock,
		notifier:    d.Notifier,
		brain:       d.Brain,
		bias:        d.Bias,
		ev:          d.Ev,
		capital:     d.Capital,
		oms:         d.OMS,
		markets:     d.Markets,
		health:      d.Health,
	}
	e.liquidation.Store(LiquidateNone)
	return e
}

// SetLiquidation 设置全局清仓模式（控制面调用，下个周期生效）。
func (e *Engine) SetLiquidation(mode LiquidationMode) {
	switch mode {
	case LiquidateNone, LiquidateAll, LiquidateLosing:
		e.liquidation.Store(mode)
		log.Warnf("🧯 [Engine] 清仓模式切换: %s", mode)
	}
}

// Halted 是否已停新仓（CATASTROPHIC 失败后置位）。
func (e *Engine) Halted() bool { return e.halted.Load() }

// Snapshot 最近一次周期末快照（可能为 nil：首个周期未完成）。
func (e *Engine) Snapshot() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

// Run 阻塞运行主循环直到 ctx 取消。
// 启动时先以交易所权威持仓重建仓位簿（进程内状态不持久化）。
func (e *Engine) Run(ctx context.Context) error {
	if err := e.reconcile(ctx); err != nil {
		log.Warnf("⚠️ [Engine] 启动对账失败（继续运行，下周期重试）: %v", err)
	}

	for {
		interval := e.config.GetSlowCycleInterval()
		if e.oms.Positions().OpenCount() > 0 {
			interval = e.config.GetFastCycleInterval()
		}
		select {
		case <-ctx.Done():
			log.Info("🛑 [Engine] 主循环退出")
			return ctx.Err()
		case <-e.clock.After(interval):
			e.RunCycle(ctx)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) error {
	positions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		return errors.Wrap(err, "获取交易所持仓失败")
	}
	n := e.oms.Positions().Rebuild(positions)
	if n > 0 {
		log.Infof("🔁 [Engine] 对账重建 %d 个仓位", n)
	}
	return nil
}

// RunCycle 执行一个交易周期。single-flight：上个周期没跑完直接跳过。
func (e *Engine) RunCycle(ctx context.Context) {
	if !e.inCycle.CompareAndSwap(false, true) {
		log.Warn("⏭️ [Engine] 上个周期未结束，跳过本周期")
		metrics.CyclesSkipped.Add(1)
		return
	}
	defer e.inCycle.Store(false)
	defer metrics.CyclesRun.Add(1)

	if timeout := e.config.GetCycleTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pm := e.oms.Positions()
	pm.BeginCycle()
	e.bias.Sweep()

	e.refreshBalance(ctx)
	e.capital.SetDeployed(pm.ExposureUsd())

	books := make(map[string]*domain.BookSnapshot, len(e.markets)*2)

	mode, _ := e.liquidation.Load().(LiquidationMode)
	if mode == LiquidateAll || mode == LiquidateLosing {
		e.liquidate(ctx, mode, books)
	} else {
		e.runExits(ctx, books)
	}

	// 对冲覆盖需求：在场仓位剩余的对冲额度合计
	e.capital.SetHedgeCoverageNeed(e.hedgeCoverageNeed(pm.List()))
	e.capital.Adapt()

	if mode == LiquidateNone && !e.halted.Load() {
		e.runEntries(ctx, books)
	}

	e.housekeeping(ctx)
	e.publishSnapshot(mode)
}

// refreshBalance 节流刷新余额：没到间隔就用上次的值。
func (e *Engine) refreshBalance(ctx context.Context) {
	now := e.clock.Now().UnixNano()
	e.mu.RLock()
	last := e.lastBalanceAt
	e.mu.RUnlock()
	if interval := e.config.GetBalanceRefreshInterval(); last != 0 && now-last < int64(interval) {
		return
	}

	bal, err := e.exchange.GetBalance(ctx)
	if err != nil {
		log.Warnf("⚠️ [Engine] 余额刷新失败（沿用旧值）: %v", err)
		return
	}
	e.mu.Lock()
	e.balance = bal
	e.lastBalanceAt = now
	e.mu.Unlock()
	e.capital.SetBalance(bal.UsdcUsd)
}

func (e *Engine) runExits(ctx context.Context, books map[string]*domain.BookSnapshot) {
	now := e.clock.Now()
	for _, pos := range e.oms.Positions().List() {
		if !pos.IsOpenState() {
			continue
		}
		market := e.marketFor(pos.AssetID)
		if market == nil {
			continue
		}
		book := e.book(ctx, books, pos.AssetID)
		oppBook := e.book(ctx, books, market.OppositeAssetID(pos.AssetID))
		e.markUnrealized(pos, book, oppBook)

		verdict := e.brain.EvaluateExit(pos, book, now)
		if verdict.Reason == brain.ExitNone {
			continue
		}
		log.Infof("📤 [Engine] 出场触发: pos=%s asset=%s reason=%s move=%dc",
			pos.ID, pos.AssetID, verdict.Reason, verdict.MoveCents)
		if err := e.oms.ApplyExit(ctx, market, pos, verdict, book, oppBook); err != nil {
			e.handleCycleError(err)
		}
		if trade := e.oms.TakeTradeResult(); trade != nil {
			e.ev.Record(*trade)
		}
	}
}

// liquidate 全局清仓：绕过决策引擎直接平仓。
func (e *Engine) liquidate(ctx context.Context, mode LiquidationMode, books map[string]*domain.BookSnapshot) {
	for _, pos := range e.oms.Positions().List() {
		if !pos.IsOpenState() {
			continue
		}
		market := e.marketFor(pos.AssetID)
		if market == nil {
			continue
		}
		book := e.book(ctx, books, pos.AssetID)
		oppBook := e.book(ctx, books, market.OppositeAssetID(pos.AssetID))
		e.markUnrealized(pos, book, oppBook)

		if mode == LiquidateLosing && pos.UnrealizedPnlUsd >= 0 {
			continue
		}
		log.Warnf("🧯 [Engine] 清仓: pos=%s asset=%s mode=%s unrealized=%.2f",
			pos.ID, pos.AssetID, mode, pos.UnrealizedPnlUsd)
		verdict := brain.ExitVerdict{Reason: brain.ExitHardStop}
		if err := e.oms.ApplyExit(ctx, market, pos, verdict, book, oppBook); err != nil {
			e.handleCycleError(err)
		}
		if trade := e.oms.TakeTradeResult(); trade != nil {
			e.ev.Record(*trade)
		}
	}
}

func (e *Engine) runEntries(ctx context.Context, books map[string]*domain.BookSnapshot) {
	pm := e.oms.Positions()
	now := e.clock.Now()
	evStats := e.ev.Snapshot()

	e.mu.RLock()
	bankroll := e.balance.UsdcUsd
	e.mu.RUnlock()

	entries := 0
	maxEntries := e.config.GetMaxEntriesPerCycle()
	for _, market := range e.markets {
		if market.Resolved {
			continue
		}
		for _, assetID := range []string{market.YesAssetID, market.NoAssetID} {
			if maxEntries > 0 && entries >= maxEntries {
				return
			}
			if pm.ActiveForAsset(assetID) != nil {
				continue
			}
			ctxIn := brain.EntryContext{
				Book:             e.book(ctx, books, assetID),
				Bias:             e.bias.Get(assetID),
				BiasEntryBlocked: e.bias.EntryBlocked(assetID),
				Ev:               evStats,
				AvailableUsd:     e.capital.AvailableForTrading(),
				BankrollUsd:      bankroll,
				OpenPositions:    pm.OpenCount(),
				ExposureUsd:      pm.ExposureUsd(),
				CoolingDown:      e.oms.Guard().InCooldown(market.Slug),
				BookHealth:       e.health,
				Now:              now,
			}
			verdict := e.brain.EvaluateEntry(assetID, ctxIn)
			if !verdict.Accept {
				metrics.EntriesRejected.Add(1)
				if verdict.Reason == brain.ReasonBudget && verdict.WantedUsd > 0 {
					e.capital.RecordMissedOpportunity(verdict.WantedUsd)
				}
				continue
			}
			if err := e.oms.OpenPosition(ctx, market, verdict, ctxIn.Book); err != nil {
				e.handleCycleError(err)
				continue
			}
			// 同周期后续候选的预算要看到这笔占用
			e.capital.SetDeployed(pm.ExposureUsd())
			entries++
		}
	}
}

// housekeeping 周期收尾：按间隔巡检并赎回已结算仓位。
func (e *Engine) housekeeping(ctx context.Context) {
	now := e.clock.Now().UnixNano()
	e.mu.RLock()
	last := e.lastRedeemAt
	e.mu.RUnlock()
	if interval := e.config.GetRedeemInterval(); interval > 0 && last != 0 && now-last < int64(interval) {
		return
	}
	e.mu.Lock()
	e.lastRedeemAt = now
	e.mu.Unlock()

	positions, err := e.exchange.GetPositions(ctx)
	if err != nil {
		log.Debugf("[Engine] 赎回巡检取持仓失败: %v", err)
		return
	}
	for _, p := range positions {
		if !p.Redeemable || p.ConditionID == "" {
			continue
		}
		if err := e.exchange.RedeemResolved(ctx, p.ConditionID); err != nil {
			log.Warnf("⚠️ [Engine] 赎回失败: condition=%s err=%v", p.ConditionID, err)
			continue
		}
		log.Infof("💵 [Engine] 已赎回结算仓位: condition=%s size=%.2f", p.ConditionID, p.Size)
	}
}

func (e *Engine) handleCycleError(err error) {
	if errors.Is(err, oms.ErrCatastrophic) {
		if e.halted.CompareAndSwap(false, true) {
			log.Errorf("🚨 [Engine] CATASTROPHIC 失败，停止新开仓: %v", err)
			if e.notifier != nil {
				e.notifier.Notify(ports.TradeNotification{Type: "alert"})
			}
		}
		return
	}
	log.Errorf("❌ [Engine] 周期内错误: %v", err)
}

// book 周期内的盘口缓存：同一 token 只拉一次。
func (e *Engine) book(ctx context.Context, cache map[string]*domain.BookSnapshot, assetID string) *domain.BookSnapshot {
	if assetID == "" {
		return nil
	}
	if b, ok := cache[assetID]; ok {
		return b
	}
	b, err := e.exchange.GetOrderBook(ctx, assetID)
	if err != nil {
		log.Debugf("[Engine] 取盘口失败: asset=%s err=%v", assetID, err)
		b = nil
	}
	cache[assetID] = b
	return b
}

func (e *Engine) markUnrealized(pos *domain.ManagedPosition, book, oppBook *domain.BookSnapshot) {
	if pos == nil || book == nil || book.BestBid.Pips <= 0 {
		return
	}
	pnl := pos.Size * (book.BestBid.ToDecimal() - pos.EntryPrice.ToDecimal())
	if oppBook != nil && oppBook.BestBid.Pips > 0 {
		for _, leg := range pos.HedgeLegs {
			pnl += leg.Size * (oppBook.BestBid.ToDecimal() - leg.EntryPrice.ToDecimal())
		}
	}
	pos.UnrealizedPnlUsd = pnl
}

// hedgeCoverageNeed 在场仓位剩余对冲额度合计（准备金自适应的抬升信号）。
func (e *Engine) hedgeCoverageNeed(positions []*domain.ManagedPosition) float64 {
	ceiling := e.strategyCfg.GetHedgeRatioCeiling()
	if ceiling <= 0 {
		return 0
	}
	total := 0.0
	for _, pos := range positions {
		if !pos.IsOpenState() {
			continue
		}
		if headroom := ceiling - pos.HedgeRatio(); headroom > 0 {
			total += headroom * pos.EntryValueUsd()
		}
	}
	return total
}

func (e *Engine) marketFor(assetID string) *domain.Market {
	for _, m := range e.markets {
		if m.YesAssetID == assetID || m.NoAssetID == assetID {
			return m
		}
	}
	return nil
}

func (e *Engine) publishSnapshot(mode LiquidationMode) {
	pm := e.oms.Positions()
	active := pm.List()
	views := make([]PositionView, 0, len(active))
	for _, p := range active {
		views = append(views, viewOf(p))
	}
	realized := 0.0
	archived := pm.Archived()
	for _, p := range archived {
		realized += p.RealizedPnlUsd
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycleCount++
	e.snapshot = &Snapshot{
		At:          e.clock.Now(),
		Cycle:       e.cycleCount,
		Halted:      e.halted.Load(),
		Liquidation: mode,
		Balance:     e.balance,
		Reserve:     e.capital.State(),
		Ev:          e.ev.Snapshot(),
		Positions:   views,
		ClosedCount: len(archived),
		RealizedUsd: realized,
	}
}
