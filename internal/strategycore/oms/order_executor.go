package oms

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/ports"
)

var oeLog = logrus.WithField("module", "order_executor")

// submitDeps 下单所需的交易所能力子集
type submitDeps interface {
	ports.BalanceProvider
	ports.OrderPlacer
	ports.AllowanceManager
}

// OrderExecutor 订单执行器：所有写操作的最后一道关。
//
// 每笔订单提交前都做：限流 → in-flight 去重 → 余额复核（带安全垫）→
// 授权检查 → 价格安全计算 → 提交。任何一关失败都产生带原因码的
// 结果而不是半途下单。
type OrderExecutor struct {
	exchange submitDeps
	config   ConfigInterface
	pricing  execution.PricingConfig
	clock    ports.Clock

	limiter  *perMarketLimiter
	inflight *inFlightGuard
}

func NewOrderExecutor(exchange submitDeps, cfg ConfigInterface, pricing execution.PricingConfig, clock ports.Clock) *OrderExecutor {
	return &OrderExecutor{
		exchange: exchange,
		config:   cfg,
		pricing:  pricing,
		clock:    clock,
		limiter:  newPerMarketLimiter(clock, cfg.GetOrderBucketCapacity(), cfg.GetOrderBucketRefillPerMinute()),
		inflight: newInFlightGuard(clock, 0),
	}
}

// SubmitRequest 一次写操作的全部输入
type SubmitRequest struct {
	MarketSlug string
	AssetID    string
	Side       domain.Side
	SizeUsd    float64
	Book       *domain.BookSnapshot
	OrderType  domain.OrderType
}

// Submit 执行一笔价格安全的订单。
//
// 返回值约定：OrderResult 永不为 nil；Status=SKIPPED/FAILED 时 Reason
// 带机器可读原因码，FailureClass 指导调用方的重试/冷却策略。
// error 仅表示传输层问题（本身已按 TRANSIENT 分类）。
func (oe *OrderExecutor) Submit(ctx context.Context, req SubmitRequest) (*domain.OrderResult, execution.FailureClass) {
	if oe == nil || req.AssetID == "" || req.SizeUsd <= 0 {
		return &domain.OrderResult{Status: domain.OrderSkipped, Reason: "INVALID_REQUEST"}, execution.FailureValidation
	}

	if !oe.limiter.Allow(req.MarketSlug, 1) {
		oeLog.Warnf("⏳ [OrderExecutor] 写操作限流: market=%s asset=%s", req.MarketSlug, req.AssetID)
		return &domain.OrderResult{Status: domain.OrderSkipped, Reason: "RATE_LIMITED"}, execution.FailureTransient
	}

	if !oe.inflight.TryAcquire(req.AssetID) {
		return &domain.OrderResult{Status: domain.OrderSkipped, Reason: "IN_FLIGHT"}, execution.FailureTransient
	}
	defer oe.inflight.Release(req.AssetID)

	// 余额复核：决策到执行之间余额可能已变，安全垫吸收在途消耗
	if req.Side == domain.SideBuy {
		bal, err := oe.exchange.GetBalance(ctx)
		if err != nil {
			return &domain.OrderResult{Status: domain.OrderFailed, Reason: "BALANCE_CHECK_FAILED"}, execution.ClassifyError(err)
		}
		need := req.SizeUsd + oe.config.GetBalanceSafetyBufferUsd()
		if bal.UsdcUsd < need {
			oeLog.Warnf("💸 [OrderExecutor] 余额不足跳过: need=%.2f have=%.2f", need, bal.UsdcUsd)
			return &domain.OrderResult{Status: domain.OrderSkipped, Reason: "INSUFFICIENT_BALANCE"}, execution.FailureTransient
		}

		// 授权不足自动提升（有上限；超限是配置问题，不是重试能解决的）
		if ceiling := oe.config.GetAllowanceCeilingUsd(); ceiling > 0 && req.SizeUsd > ceiling {
			return &domain.OrderResult{Status: domain.OrderSkipped, Reason: "ALLOWANCE_CEILING"}, execution.FailureValidation
		}
		if err := oe.exchange.EnsureAllowance(ctx, req.AssetID, req.SizeUsd); err != nil {
			return &domain.OrderResult{Status: domain.OrderFailed, Reason: "ALLOWANCE_FAILED"}, execution.ClassifyError(err)
		}
	}

	limit, rej := execution.ComputeLimitPrice(req.Book, req.Side, oe.pricing)
	if rej != nil {
		return &domain.OrderResult{Status: domain.OrderSkipped, Reason: rej.Reason}, execution.ClassifyReason(rej.Reason)
	}

	orderType := req.OrderType
	if orderType == "" {
		orderType = domain.OrderTypeFAK
	}
	result, err := oe.exchange.PostOrder(ctx, domain.OrderRequest{
		AssetID:    req.AssetID,
		Side:       req.Side,
		SizeUsd:    req.SizeUsd,
		LimitPrice: limit,
		OrderType:  orderType,
	})
	if err != nil {
		class := execution.ClassifyError(err)
		oeLog.Errorf("❌ [OrderExecutor] 下单传输失败: asset=%s class=%s err=%v", req.AssetID, class, err)
		return &domain.OrderResult{Status: domain.OrderFailed, Reason: errors.Cause(err).Error()}, class
	}
	if result == nil {
		return &domain.OrderResult{Status: domain.OrderFailed, Reason: "EMPTY_RESPONSE"}, execution.FailureTransient
	}

	switch result.Status {
	case domain.OrderSubmitted:
		oeLog.Infof("✅ [OrderExecutor] 订单成交: asset=%s side=%s filled=%.2fUSD avg=%.4f",
			req.AssetID, req.Side, result.FilledUsd, result.AvgPrice.ToDecimal())
		return result, execution.FailureNone
	default:
		class := execution.ClassifyReason(result.Reason)
		oeLog.Warnf("⚠️ [OrderExecutor] 订单未成: asset=%s status=%s reason=%s class=%s",
			req.AssetID, result.Status, result.Reason, class)
		return result, class
	}
}
