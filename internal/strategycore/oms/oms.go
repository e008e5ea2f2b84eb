package oms

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/metrics"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/internal/strategycore/brain"
)

var omsLog = logrus.WithField("module", "oms")

// OMS 订单管理：把决策引擎的判定落成实际的开仓/对冲/平仓流程。
//
// 职责边界：brain 只判定，OMS 只执行；失败分类在这里转成
// 冷静期（TRANSIENT）/跳过（PERMANENT）/上抛（CATASTROPHIC）。
type OMS struct {
	config    ConfigInterface
	executor  *OrderExecutor
	positions *PositionManager
	guard     *EntryGuard
	notifier  ports.Notifier
	clock     ports.Clock

	// 最近一次平仓结算，周期末由引擎取走送 EV 追踪器
	lastTrade *domain.TradeResult
}

func New(cfg ConfigInterface, executor *OrderExecutor, positions *PositionManager, guard *EntryGuard, notifier ports.Notifier, clock ports.Clock) *OMS {
	return &OMS{
		config:    cfg,
		executor:  executor,
		positions: positions,
		guard:     guard,
		notifier:  notifier,
		clock:     clock,
	}
}

// Positions 暴露仓位簿（引擎构造出场评估输入用）。
func (o *OMS) Positions() *PositionManager { return o.positions }

// Guard 暴露入场频控（引擎构造 EntryContext 用）。
func (o *OMS) Guard() *EntryGuard { return o.guard }

// ErrCatastrophic 执行层遇到必须停机处理的失败
var ErrCatastrophic = errors.New("catastrophic execution failure")

// OpenPosition 按入场判定开仓。
//
// 流程：频控 → 建 OPENING 仓位 → 提交订单 → 成交确认 OPEN / 失败回滚。
// 提交失败时仓位转 FAILED 并按失败分类处理（不留孤儿 OPENING）。
func (o *OMS) OpenPosition(ctx context.Context, market *domain.Market, verdict brain.EntryVerdict, book *domain.BookSnapshot) error {
	if o == nil || !verdict.Accept {
		return nil
	}
	if ok, why := o.guard.CanEnter(market.Slug); !ok {
		omsLog.Debugf("🚫 [OMS] 入场被频控拦截: market=%s %s", market.Slug, why)
		return nil
	}

	pos, err := o.positions.Open(market.Slug, verdict.AssetID, market.ConditionID, verdict.Side)
	if err != nil {
		return errors.Wrap(err, "建仓记录失败")
	}

	result, class := o.executor.Submit(ctx, SubmitRequest{
		MarketSlug: market.Slug,
		AssetID:    verdict.AssetID,
		Side:       verdict.Side,
		SizeUsd:    verdict.SizeUsd,
		Book:       book,
		OrderType:  domain.OrderTypeFAK,
	})
	if !result.Filled() {
		// 未成交：跳过类直接撤销记录；真实下单失败才进 FAILED 归档
		if result.Status == domain.OrderSkipped {
			o.positions.Abort(pos.ID)
		} else {
			_ = o.positions.MarkFailed(pos.ID, result.Reason)
		}
		return o.handleFailure(market.Slug, "entry", result.Reason, class)
	}

	shares := filledShares(result)
	if err := o.positions.ConfirmOpen(pos.ID, shares, result.AvgPrice); err != nil {
		return errors.Wrap(err, "入场成交确认失败")
	}
	o.guard.RecordEntry()
	metrics.EntriesOpened.Add(1)
	o.notify(ports.TradeNotification{
		Type: "entry", MarketSlug: market.Slug, AssetID: verdict.AssetID,
		Size: shares, Price: result.AvgPrice, SizeUsd: result.FilledUsd,
	})
	return nil
}

// ApplyExit 按出场判定对单个仓位执行对冲或平仓。
func (o *OMS) ApplyExit(ctx context.Context, market *domain.Market, pos *domain.ManagedPosition, verdict brain.ExitVerdict, primaryBook, oppositeBook *domain.BookSnapshot) error {
	if o == nil || pos == nil || verdict.Reason == brain.ExitNone {
		return nil
	}
	if verdict.Reason == brain.ExitHedgeTrigger {
		return o.hedge(ctx, market, pos, verdict, oppositeBook)
	}
	return o.close(ctx, market, pos, verdict, primaryBook, oppositeBook)
}

// hedge 在对侧 token 上买入对冲腿：OPEN/HEDGED → HEDGED。
func (o *OMS) hedge(ctx context.Context, market *domain.Market, pos *domain.ManagedPosition, verdict brain.ExitVerdict, oppositeBook *domain.BookSnapshot) error {
	oppAsset := market.OppositeAssetID(pos.AssetID)
	if oppAsset == "" {
		return errors.Errorf("市场 %s 找不到对侧 token", market.Slug)
	}

	result, class := o.executor.Submit(ctx, SubmitRequest{
		MarketSlug: market.Slug,
		AssetID:    oppAsset,
		Side:       domain.SideBuy,
		SizeUsd:    verdict.HedgeSizeUsd,
		Book:       oppositeBook,
		OrderType:  domain.OrderTypeFAK,
	})
	if !result.Filled() {
		return o.handleFailure(market.Slug, "hedge", result.Reason, class)
	}

	shares := filledShares(result)
	if err := o.positions.AddHedgeLeg(pos.ID, domain.HedgeLeg{
		AssetID:    oppAsset,
		Size:       shares,
		EntryPrice: result.AvgPrice,
		OpenedAt:   o.clock.Now(),
	}); err != nil {
		return errors.Wrap(err, "对冲腿记录失败")
	}
	metrics.HedgesPlaced.Add(1)
	o.notify(ports.TradeNotification{
		Type: "hedge", MarketSlug: market.Slug, AssetID: oppAsset,
		Size: shares, Price: result.AvgPrice, SizeUsd: result.FilledUsd,
	})
	return nil
}

// close 平掉主腿与全部对冲腿：→ EXITING → CLOSED。
// 返回的 TradeResult 由调用方送 EV 追踪器。
func (o *OMS) close(ctx context.Context, market *domain.Market, pos *domain.ManagedPosition, verdict brain.ExitVerdict, primaryBook, oppositeBook *domain.BookSnapshot) error {
	if err := o.positions.BeginExit(pos.ID); err != nil {
		return errors.Wrap(err, "出场启动失败")
	}

	primary, class := o.executor.Submit(ctx, SubmitRequest{
		MarketSlug: market.Slug,
		AssetID:    pos.AssetID,
		Side:       domain.SideSell,
		SizeUsd:    pos.Size * markPrice(primaryBook).ToDecimal(),
		Book:       primaryBook,
		OrderType:  domain.OrderTypeFAK,
	})
	if !primary.Filled() {
		if class == execution.FailureCatastrophic {
			_ = o.positions.MarkFailed(pos.ID, primary.Reason)
		} else {
			// 没成交就回退，下周期重试出场
			o.positions.RevertExit(pos.ID)
		}
		return o.handleFailure(market.Slug, "exit", primary.Reason, class)
	}

	hedgeExit := domain.Price{}
	if hedged := pos.HedgedValueUsd(); hedged > 0 {
		oppAsset := market.OppositeAssetID(pos.AssetID)
		hedgeShares := 0.0
		for _, leg := range pos.HedgeLegs {
			hedgeShares += leg.Size
		}
		hr, hclass := o.executor.Submit(ctx, SubmitRequest{
			MarketSlug: market.Slug,
			AssetID:    oppAsset,
			Side:       domain.SideSell,
			SizeUsd:    hedgeShares * markPrice(oppositeBook).ToDecimal(),
			Book:       oppositeBook,
			OrderType:  domain.OrderTypeFAK,
		})
		if hr.Filled() {
			hedgeExit = hr.AvgPrice
		} else {
			// 对冲腿退不掉不阻塞主腿结算，下个周期由对账兜底
			omsLog.Warnf("⚠️ [OMS] 对冲腿出场未成: market=%s reason=%s class=%s", market.Slug, hr.Reason, hclass)
		}
	}

	trade, err := o.positions.ConfirmClose(pos.ID, primary.AvgPrice, hedgeExit)
	if err != nil {
		return errors.Wrap(err, "出场成交确认失败")
	}
	metrics.ExitsClosed.Add(1)
	pnl := pos.RealizedPnlUsd
	o.notify(ports.TradeNotification{
		Type: "exit", MarketSlug: market.Slug, AssetID: pos.AssetID,
		Size: pos.Size, Price: primary.AvgPrice, SizeUsd: primary.FilledUsd, PnlUsd: &pnl,
	})
	o.lastTrade = trade
	return nil
}

// TakeTradeResult 取走最近一次平仓的结算结果（没有则 nil）。
func (o *OMS) TakeTradeResult() *domain.TradeResult {
	if o == nil {
		return nil
	}
	t := o.lastTrade
	o.lastTrade = nil
	return t
}

func (o *OMS) handleFailure(marketSlug, op, reason string, class execution.FailureClass) error {
	metrics.OrdersFailed.Add(1)
	switch class {
	case execution.FailureCatastrophic:
		return errors.Wrapf(ErrCatastrophic, "%s %s: %s", marketSlug, op, reason)
	case execution.FailureTransient:
		o.guard.SetCooldown(marketSlug, op+":"+reason)
		return nil
	default:
		// PERMANENT/VALIDATION：跳过即可，不设冷却
		omsLog.Debugf("⏭️ [OMS] 跳过候选: market=%s op=%s reason=%s class=%s", marketSlug, op, reason, class)
		return nil
	}
}

func (o *OMS) notify(n ports.TradeNotification) {
	if o == nil || o.notifier == nil {
		return
	}
	o.notifier.Notify(n)
}

func filledShares(r *domain.OrderResult) float64 {
	if r == nil || r.AvgPrice.ToDecimal() <= 0 {
		return 0
	}
	return r.FilledUsd / r.AvgPrice.ToDecimal()
}

func markPrice(book *domain.BookSnapshot) domain.Price {
	if book == nil {
		return domain.Price{}
	}
	return book.BestBid
}
