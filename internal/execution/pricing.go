package execution

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
)

var priceLog = logrus.WithField("module", "execution")

// 定价拒绝原因码
const (
	ReasonBaseOutOfBand  = "BASE_OUT_OF_BAND"
	ReasonInvalidTick    = "INVALID_TICK"
	ReasonInvalidBook    = "INVALID_BOOK"
	ReasonZeroBasePrice  = "ZERO_BASE_PRICE"
)

// PricingConfig 限价计算参数。
//
// 双层价格带模型：
// - 硬边界（HardMinPips/HardMaxPips）：交易所绝对合法区间，如 [0.01, 0.99]，
//   任何最终价格都必须落在其中。
// - 策略带（BandMinPips/BandMaxPips）：配置的"可接受交易区间"，嵌套在硬边界内，
//   base price 出带直接拒绝（防止追已经跑出区间的行情）。
type PricingConfig struct {
	HardMinPips int // 默认 100（0.01）
	HardMaxPips int // 默认 9900（0.99）
	BandMinPips int // 策略带下沿；<=0 表示不启用
	BandMaxPips int // 策略带上沿；<=0 表示不启用
	TickPips    int // tick size（pips），如 100 = 0.01
	Slippage    float64 // 滑点比例，如 0.05
}

func (c PricingConfig) normalized() PricingConfig {
	if c.HardMinPips <= 0 {
		c.HardMinPips = 100
	}
	if c.HardMaxPips <= 0 || c.HardMaxPips >= 10000 {
		c.HardMaxPips = 9900
	}
	// VALIDATION: 非法 tick 收敛到最近安全值（1 cent），只告警不失败
	if c.TickPips <= 0 || c.TickPips > 10000 {
		priceLog.Warnf("⚠️ [Execution] 非法 tick size（%d pips），回退到 100", c.TickPips)
		c.TickPips = 100
	}
	if c.Slippage < 0 {
		c.Slippage = 0
	}
	return c
}

// PriceRejection 定价阶段拒绝（PERMANENT 市场条件：不设冷却）
type PriceRejection struct {
	Reason string
}

func (r *PriceRejection) Error() string { return r.Reason }

// ComputeLimitPrice 计算价格安全的限价。
//
// 流程（顺序固定）：
//  1. base = 本方的对手价（BUY 用 ask，SELL 用 bid）
//  2. base 出策略带直接拒绝
//  3. raw = base * (1 ± slippage)
//  4. 先夹到策略带，再夹到硬边界
//  5. 方向性 tick 取整：BUY 向上、SELL 向下（decimal 精确除法，规避浮点边界）
//  6. 反交叉修正：取整后 BUY 仍低于 bestAsk（或 SELL 高于 bestBid）时，
//     顶到该价位所在 tick，再夹一次硬边界
//
// 保证：返回价格必然落在硬边界内，且不会因取整把自己推离可成交价。
func ComputeLimitPrice(book *domain.BookSnapshot, side domain.Side, cfg PricingConfig) (domain.Price, *PriceRejection) {
	cfg = cfg.normalized()

	if book == nil || !book.HasBothSides() || book.IsCrossed() {
		return domain.Price{}, &PriceRejection{Reason: ReasonInvalidBook}
	}

	var base domain.Price
	if side == domain.SideBuy {
		base = book.BestAsk
	} else {
		base = book.BestBid
	}
	if base.Pips <= 0 {
		return domain.Price{}, &PriceRejection{Reason: ReasonZeroBasePrice}
	}

	// base 出策略带：市场已经跑出可接受区间，拒绝追价
	if cfg.BandMinPips > 0 && base.Pips < cfg.BandMinPips {
		return domain.Price{}, &PriceRejection{Reason: ReasonBaseOutOfBand}
	}
	if cfg.BandMaxPips > 0 && base.Pips > cfg.BandMaxPips {
		return domain.Price{}, &PriceRejection{Reason: ReasonBaseOutOfBand}
	}

	// raw = base * (1 ± slippage)，decimal 精确运算
	factor := decimal.NewFromFloat(1 + cfg.Slippage)
	if side == domain.SideSell {
		factor = decimal.NewFromFloat(1 - cfg.Slippage)
	}
	rawPips := decimal.NewFromInt(int64(base.Pips)).Mul(factor)

	// 双层夹取：策略带 → 硬边界
	rawPips = clampDec(rawPips, cfg.BandMinPips, cfg.BandMaxPips)
	rawPips = clampDec(rawPips, cfg.HardMinPips, cfg.HardMaxPips)

	// 方向性 tick 取整
	pips := roundToTick(rawPips, cfg.TickPips, side)

	// 反交叉修正：BUY 不得低于 bestAsk，SELL 不得高于 bestBid
	if side == domain.SideBuy && pips < book.BestAsk.Pips {
		pips = roundToTick(decimal.NewFromInt(int64(book.BestAsk.Pips)), cfg.TickPips, domain.SideBuy)
	} else if side == domain.SideSell && pips > book.BestBid.Pips {
		pips = roundToTick(decimal.NewFromInt(int64(book.BestBid.Pips)), cfg.TickPips, domain.SideSell)
	}

	// 修正可能顶出硬边界，最后再夹一次
	if pips < cfg.HardMinPips {
		pips = alignUp(cfg.HardMinPips, cfg.TickPips)
	}
	if pips > cfg.HardMaxPips {
		pips = alignDown(cfg.HardMaxPips, cfg.TickPips)
	}

	return domain.Price{Pips: pips}, nil
}

// roundToTick 把 pips 取整到 tick 的整数倍：BUY 向上（ceiling），SELL 向下（floor）。
//
// 用 decimal 做除法规避 0.1+0.2 类浮点边界；额外的 epsilon 裁剪保证
// "已对齐价格再取整返回原值"（幂等）。
func roundToTick(pips decimal.Decimal, tickPips int, side domain.Side) int {
	tick := decimal.NewFromInt(int64(tickPips))
	ticks := pips.Div(tick)

	// epsilon：把 44.999999/45.000001 这类边界拉回整数
	eps := decimal.New(1, -9)
	if ticks.Sub(ticks.Round(0)).Abs().LessThan(eps) {
		ticks = ticks.Round(0)
	}

	if side == domain.SideBuy {
		ticks = ticks.Ceil()
	} else {
		ticks = ticks.Floor()
	}
	return int(ticks.Mul(tick).IntPart())
}

func clampDec(v decimal.Decimal, minPips, maxPips int) decimal.Decimal {
	if minPips > 0 && v.LessThan(decimal.NewFromInt(int64(minPips))) {
		return decimal.NewFromInt(int64(minPips))
	}
	if maxPips > 0 && v.GreaterThan(decimal.NewFromInt(int64(maxPips))) {
		return decimal.NewFromInt(int64(maxPips))
	}
	return v
}

// alignUp 把 pips 向上对齐到 tick 整数倍
func alignUp(pips, tickPips int) int {
	if tickPips <= 0 {
		return pips
	}
	rem := pips % tickPips
	if rem == 0 {
		return pips
	}
	return pips + tickPips - rem
}

// alignDown 把 pips 向下对齐到 tick 整数倍
func alignDown(pips, tickPips int) int {
	if tickPips <= 0 {
		return pips
	}
	return pips - pips%tickPips
}
