package brain

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/strategycore/bias"
	"github.com/betbot/copyflow/internal/strategycore/evtrack"
)

var deLog = logrus.WithField("module", "decision_engine")

// RejectReason 入场拒绝原因码。
// 每个 accept/reject 都带原因码记入日志，拒绝可审计，不依赖异常做控制流。
type RejectReason string

const (
	ReasonOK              RejectReason = "OK"
	ReasonBiasNone        RejectReason = "BIAS_NONE"
	ReasonBiasStale       RejectReason = "BIAS_STALE"
	ReasonBiasFlipBlocked RejectReason = "BIAS_FLIP_BLOCKED"
	ReasonEvPaused        RejectReason = "EV_PAUSED"
	ReasonBookUnhealthy   RejectReason = "BOOK_UNHEALTHY"
	ReasonPriceOutOfBand  RejectReason = "PRICE_OUT_OF_BAND"
	ReasonEdgeWeakSignal  RejectReason = "PRICE_EDGE_WEAK_SIGNAL"
	ReasonCooldown        RejectReason = "COOLDOWN"
	ReasonPositionCap     RejectReason = "POSITION_CAP"
	ReasonExposureCap     RejectReason = "EXPOSURE_CAP"
	ReasonBudget          RejectReason = "BUDGET_EXHAUSTED"
)

// EntryContext 入场判定的全部输入（纯函数：引擎不产生副作用）。
type EntryContext struct {
	Book *domain.BookSnapshot
	Bias bias.TokenBias
	// BiasEntryBlocked：该 token 因偏向翻转被禁新仓
	BiasEntryBlocked bool
	Ev               evtrack.Stats

	AvailableUsd  float64 // 准备金管理器给出的可动用资金
	BankrollUsd   float64 // sizing 基数（钱包余额）
	OpenPositions int
	ExposureUsd   float64 // 在场仓位名义合计
	CoolingDown   bool    // oms 冷却/频控状态

	BookHealth execution.HealthOptions
	Now        time.Time
}

// EntryVerdict 入场判定结果
type EntryVerdict struct {
	Accept  bool
	Reason  RejectReason
	Detail  string // 细化原因（如盘口健康码）
	AssetID string
	Side    domain.Side
	SizeUsd float64
	// WantedUsd：预算不足被拒时本来想要的额度（错失机会信号）
	WantedUsd float64
}

// Engine 决策引擎：纯判定，不下单、不改状态。
type Engine struct {
	config ConfigInterface
}

func NewEngine(cfg ConfigInterface) *Engine {
	return &Engine{config: cfg}
}

func reject(assetID string, reason RejectReason, detail string) EntryVerdict {
	deLog.Debugf("🚫 [DecisionEngine] 入场拒绝: asset=%s reason=%s %s", assetID, reason, detail)
	return EntryVerdict{Accept: false, Reason: reason, Detail: detail, AssetID: assetID}
}

// EvaluateEntry 入场判定。
//
// gate 顺序：偏向 → EV → 盘口健康 → 价格带 → 冷却/仓位/敞口 → sizing。
// 顺序即优先级：先排除方向性/系统性禁止，再看市场，再看资源。
func (e *Engine) EvaluateEntry(assetID string, ctx EntryContext) EntryVerdict {
	cfg := e.config

	// 偏向 gate
	if ctx.BiasEntryBlocked {
		return reject(assetID, ReasonBiasFlipBlocked, "")
	}
	if cfg.GetRequireBias() {
		switch ctx.Bias.Direction {
		case domain.BiasLong:
			// 允许
		case domain.BiasShort:
			// 二元市场：SHORT 许可等同于"买对侧"，由候选生成侧处理；
			// 对本 token 而言不开多
			return reject(assetID, ReasonBiasNone, "short-flow on this token")
		default:
			if !ctx.Bias.LastUpdated.IsZero() {
				return reject(assetID, ReasonBiasStale, "")
			}
			return reject(assetID, ReasonBiasNone, "")
		}
	}

	// EV gate：PAUSED 只挡新仓，出场照常
	if ctx.Ev.Paused {
		return reject(assetID, ReasonEvPaused, "")
	}

	// 盘口健康
	if ok, code := execution.CheckBookHealth(ctx.Book, ctx.BookHealth, ctx.Now); !ok {
		return reject(assetID, ReasonBookUnhealthy, code)
	}

	// 价格带：硬入场带直接拒；硬带内、偏好子带外需要更强信号
	askCents := ctx.Book.BestAsk.ToCents()
	if askCents < cfg.GetEntryBandMinCents() || askCents > cfg.GetEntryBandMaxCents() {
		return reject(assetID, ReasonPriceOutOfBand, "")
	}
	if askCents < cfg.GetPreferredBandMinCents() || askCents > cfg.GetPreferredBandMaxCents() {
		strongBias := ctx.Bias.NetFlowUsd >= cfg.GetStrongBiasNetFlowUsd()
		strongEv := ctx.Ev.SampleCount > 0 && ctx.Ev.EvCents >= cfg.GetStrongEvCents()
		if !strongBias && !strongEv {
			return reject(assetID, ReasonEdgeWeakSignal, "")
		}
	}

	// 冷却与容量
	if ctx.CoolingDown {
		return reject(assetID, ReasonCooldown, "")
	}
	if max := cfg.GetMaxOpenPositions(); max > 0 && ctx.OpenPositions >= max {
		return reject(assetID, ReasonPositionCap, "")
	}
	if max := cfg.GetMaxExposureUsd(); max > 0 && ctx.ExposureUsd >= max {
		return reject(assetID, ReasonExposureCap, "")
	}

	// sizing：clamp(bankroll·fraction, min, max)，再受可用预算约束
	size := clampF(ctx.BankrollUsd*cfg.GetTradeFraction(), cfg.GetMinTradeUsd(), cfg.GetMaxTradeUsd())
	if size > ctx.AvailableUsd {
		if ctx.AvailableUsd < cfg.GetMinTradeUsd() {
			v := reject(assetID, ReasonBudget, "")
			v.WantedUsd = size
			return v
		}
		size = ctx.AvailableUsd
	}

	deLog.Infof("✅ [DecisionEngine] 入场通过: asset=%s sizeUsd=%.2f ask=%dc bias=%s ev=%.2fc",
		assetID, size, askCents, ctx.Bias.Direction, ctx.Ev.EvCents)
	return EntryVerdict{
		Accept:  true,
		Reason:  ReasonOK,
		AssetID: assetID,
		Side:    domain.SideBuy,
		SizeUsd: size,
	}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}
