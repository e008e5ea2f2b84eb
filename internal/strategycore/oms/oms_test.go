package oms

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/internal/strategycore/brain"
)

// fakeExchange 可编程的交易所桩：按 assetID 配置盘口与下单结果。
type fakeExchange struct {
	balance   ports.Balance
	balErr    error
	results   map[string]*domain.OrderResult
	postErr   error
	allowErr  error
	requests  []domain.OrderRequest
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance: ports.Balance{UsdcUsd: 1000},
		results: make(map[string]*domain.OrderResult),
	}
}

func (f *fakeExchange) GetBalance(ctx context.Context) (ports.Balance, error) {
	return f.balance, f.balErr
}

func (f *fakeExchange) PostOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	f.requests = append(f.requests, req)
	if f.postErr != nil {
		return nil, f.postErr
	}
	if r, ok := f.results[req.AssetID]; ok {
		return r, nil
	}
	// 默认：按请求全额成交在限价上
	return &domain.OrderResult{
		Status:    domain.OrderSubmitted,
		OrderID:   "ord-" + req.AssetID,
		AvgPrice:  req.LimitPrice,
		FilledUsd: req.SizeUsd,
	}, nil
}

func (f *fakeExchange) EnsureAllowance(ctx context.Context, assetID string, minUsd float64) error {
	return f.allowErr
}

type nopNotifier struct{ events []ports.TradeNotification }

func (n *nopNotifier) Notify(ev ports.TradeNotification) { n.events = append(n.events, ev) }

func testMarket() *domain.Market {
	return &domain.Market{Slug: "m1", YesAssetID: "tok-yes", NoAssetID: "tok-no", ConditionID: "cond-1"}
}

func testBook(bidCents, askCents int, now time.Time) *domain.BookSnapshot {
	return &domain.BookSnapshot{
		BestBid:    domain.PriceFromCents(bidCents),
		BestAsk:    domain.PriceFromCents(askCents),
		ObservedAt: now,
	}
}

func newTestOMS(ex *fakeExchange, clock *fakeClock, cfg omsCfg) (*OMS, *PositionManager, *nopNotifier) {
	pricing := execution.PricingConfig{TickPips: 100, Slippage: 0.02}
	exec := NewOrderExecutor(ex, cfg, pricing, clock)
	pm := NewPositionManager(clock)
	guard := NewEntryGuard(cfg, clock)
	notifier := &nopNotifier{}
	return New(cfg, exec, pm, guard, notifier, clock), pm, notifier
}

func acceptVerdict(assetID string, sizeUsd float64) brain.EntryVerdict {
	return brain.EntryVerdict{Accept: true, Reason: brain.ReasonOK, AssetID: assetID, Side: domain.SideBuy, SizeUsd: sizeUsd}
}

func TestOMS_OpenPositionFlow(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	o, pm, notifier := newTestOMS(ex, clock, defaultOmsCfg())

	book := testBook(49, 51, clock.Now())
	if err := o.OpenPosition(context.Background(), testMarket(), acceptVerdict("tok-yes", 20), book); err != nil {
		t.Fatal(err)
	}

	pos := pm.ActiveForAsset("tok-yes")
	if pos == nil || pos.State != domain.PositionOpen {
		t.Fatalf("expected OPEN position, got %+v", pos)
	}
	// 限价 = ceil(51c·1.02) 对齐 1c tick = 53c（cross 修正不生效：53 > ask）
	if pos.EntryPrice.ToCents() != 53 {
		t.Fatalf("expected entry 53c, got %dc", pos.EntryPrice.ToCents())
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != "entry" {
		t.Fatalf("expected entry notification, got %+v", notifier.events)
	}
	// 频控已记账：立刻再开被 min interval 拦下（不报错，跳过）
	if err := o.OpenPosition(context.Background(), testMarket(), acceptVerdict("tok-no", 20), testBook(47, 49, clock.Now())); err != nil {
		t.Fatal(err)
	}
	if pm.ActiveForAsset("tok-no") != nil {
		t.Fatal("min interval should have blocked second entry")
	}
}

func TestOMS_TransientFailureSetsCooldown(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	ex.postErr = errors.New("request timeout: context deadline exceeded")
	o, pm, _ := newTestOMS(ex, clock, defaultOmsCfg())

	book := testBook(49, 51, clock.Now())
	if err := o.OpenPosition(context.Background(), testMarket(), acceptVerdict("tok-yes", 20), book); err != nil {
		t.Fatal(err)
	}
	// 仓位进 FAILED（不留孤儿 OPENING），market 进冷静期
	if pm.ActiveForAsset("tok-yes") != nil {
		t.Fatal("failed entry should not leave an active position")
	}
	if !o.Guard().InCooldown("m1") {
		t.Fatal("transient failure must set cooldown")
	}
}

func TestOMS_PermanentFailureNoCooldown(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	ex.results["tok-yes"] = &domain.OrderResult{Status: domain.OrderSkipped, Reason: "SPREAD_TOO_WIDE"}
	o, _, _ := newTestOMS(ex, clock, defaultOmsCfg())

	book := testBook(49, 51, clock.Now())
	if err := o.OpenPosition(context.Background(), testMarket(), acceptVerdict("tok-yes", 20), book); err != nil {
		t.Fatal(err)
	}
	if o.Guard().InCooldown("m1") {
		t.Fatal("permanent market condition must not set cooldown")
	}
}

func TestOMS_CatastrophicFailurePropagates(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	ex.results["tok-yes"] = &domain.OrderResult{Status: domain.OrderFailed, Reason: "AUTH_FAILED"}
	o, _, _ := newTestOMS(ex, clock, defaultOmsCfg())

	err := o.OpenPosition(context.Background(), testMarket(), acceptVerdict("tok-yes", 20), testBook(49, 51, clock.Now()))
	if !errors.Is(err, ErrCatastrophic) {
		t.Fatalf("expected ErrCatastrophic, got %v", err)
	}
}

func TestOMS_HedgeFlow(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	cfg := defaultOmsCfg()
	o, pm, notifier := newTestOMS(ex, clock, cfg)

	// 现有 OPEN 仓位
	pos, _ := pm.Open("m1", "tok-yes", "cond-1", domain.SideBuy)
	_ = pm.ConfirmOpen(pos.ID, 100, domain.PriceFromCents(50))
	pm.BeginCycle()

	verdict := brain.ExitVerdict{Reason: brain.ExitHedgeTrigger, HedgeSizeUsd: 13.2}
	oppBook := testBook(65, 67, clock.Now())
	if err := o.ApplyExit(context.Background(), testMarket(), pos, verdict, testBook(33, 35, clock.Now()), oppBook); err != nil {
		t.Fatal(err)
	}
	if pos.State != domain.PositionHedged {
		t.Fatalf("expected HEDGED, got %s", pos.State)
	}
	if len(pos.HedgeLegs) != 1 || pos.HedgeLegs[0].AssetID != "tok-no" {
		t.Fatalf("expected one hedge leg on tok-no, got %+v", pos.HedgeLegs)
	}
	if notifier.events[len(notifier.events)-1].Type != "hedge" {
		t.Fatal("expected hedge notification")
	}
}

func TestOMS_CloseFlowProducesTradeResult(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	o, pm, _ := newTestOMS(ex, clock, defaultOmsCfg())

	pos, _ := pm.Open("m1", "tok-yes", "cond-1", domain.SideBuy)
	_ = pm.ConfirmOpen(pos.ID, 100, domain.PriceFromCents(50))
	pm.BeginCycle()

	// SELL 限价 = floor(61c·0.98) = 59c；全额成交
	verdict := brain.ExitVerdict{Reason: brain.ExitTakeProfit}
	if err := o.ApplyExit(context.Background(), testMarket(), pos, verdict, testBook(61, 63, clock.Now()), nil); err != nil {
		t.Fatal(err)
	}
	if pos.State != domain.PositionClosed {
		t.Fatalf("expected CLOSED, got %s", pos.State)
	}
	// 100·(0.59−0.50) = +9
	if math.Abs(pos.RealizedPnlUsd-9) > 1e-9 {
		t.Fatalf("expected realized +9, got %.4f", pos.RealizedPnlUsd)
	}

	trade := o.TakeTradeResult()
	if trade == nil || !trade.Won {
		t.Fatalf("expected winning trade result, got %+v", trade)
	}
	if o.TakeTradeResult() != nil {
		t.Fatal("trade result must be consumed once")
	}
}

func TestOrderExecutor_BalanceBufferBlocks(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	ex.balance = ports.Balance{UsdcUsd: 21}
	cfg := defaultOmsCfg() // buffer 2
	exec := NewOrderExecutor(ex, cfg, execution.PricingConfig{TickPips: 100}, clock)

	result, class := exec.Submit(context.Background(), SubmitRequest{
		MarketSlug: "m1", AssetID: "tok-yes", Side: domain.SideBuy, SizeUsd: 20,
		Book: testBook(49, 51, clock.Now()),
	})
	if result.Status != domain.OrderSkipped || result.Reason != "INSUFFICIENT_BALANCE" {
		t.Fatalf("expected INSUFFICIENT_BALANCE skip, got %+v", result)
	}
	if class != execution.FailureTransient {
		t.Fatalf("expected TRANSIENT, got %s", class)
	}
	if len(ex.requests) != 0 {
		t.Fatal("no order must reach the exchange")
	}
}

func TestOrderExecutor_RateLimitSkips(t *testing.T) {
	clock := newFakeClock()
	ex := newFakeExchange()
	cfg := defaultOmsCfg()
	cfg.bucketCap = 1
	cfg.bucketRefill = 1
	exec := NewOrderExecutor(ex, cfg, execution.PricingConfig{TickPips: 100}, clock)

	req := SubmitRequest{MarketSlug: "m1", AssetID: "tok-yes", Side: domain.SideBuy, SizeUsd: 10,
		Book: testBook(49, 51, clock.Now())}
	if r, _ := exec.Submit(context.Background(), req); !r.Filled() {
		t.Fatalf("first submit should fill: %+v", r)
	}
	r, class := exec.Submit(context.Background(), req)
	if r.Reason != "RATE_LIMITED" || class != execution.FailureTransient {
		t.Fatalf("expected RATE_LIMITED/TRANSIENT, got %+v %s", r, class)
	}
	// 桶按时间回填
	clock.Advance(2 * time.Minute)
	if r, _ := exec.Submit(context.Background(), req); !r.Filled() {
		t.Fatalf("refilled bucket should allow: %+v", r)
	}
}
