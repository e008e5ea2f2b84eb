package ports

import (
	"context"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

// Small capability interfaces shared across layers (strategycore/execution/engine).
//
// NOTE: These are intentionally defined in a "neutral" package to avoid
// circular dependencies between the engine, strategy modules, and the
// exchange adapter.

// Balance 账户余额
type Balance struct {
	UsdcUsd  float64
	GasToken float64
}

// ExchangePosition 交易所权威持仓（重启对账/FAILED 对账用）
type ExchangePosition struct {
	AssetID     string
	ConditionID string
	Size        float64
	AvgPrice    domain.Price
	Redeemable  bool
}

// BookProvider supplies top-of-book snapshots.
type BookProvider interface {
	GetOrderBook(ctx context.Context, assetID string) (*domain.BookSnapshot, error)
}

// BalanceProvider supplies wallet balance.
type BalanceProvider interface {
	GetBalance(ctx context.Context) (Balance, error)
}

// OrderPlacer submits price-safe orders. Failures are expressed in the
// typed OrderResult, not as error; error is reserved for transport problems.
type OrderPlacer interface {
	PostOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
}

// PositionLister returns the exchange's authoritative current positions.
type PositionLister interface {
	GetPositions(ctx context.Context) ([]ExchangePosition, error)
}

// AllowanceManager raises token allowance when insufficient (up to a
// configured ceiling; the signing/wallet mechanics live behind the adapter).
type AllowanceManager interface {
	EnsureAllowance(ctx context.Context, assetID string, minUsd float64) error
}

// Redeemer redeems resolved positions (periodic housekeeping).
type Redeemer interface {
	RedeemResolved(ctx context.Context, conditionID string) error
}

// Exchange is the full surface the orchestrator wires in.
type Exchange interface {
	BookProvider
	BalanceProvider
	OrderPlacer
	PositionLister
	AllowanceManager
	Redeemer
}

// PeerTradeHandler consumes tracked-cohort trade events (serial delivery
// recommended).
type PeerTradeHandler interface {
	HandlePeerTrade(ctx context.Context, trade *domain.PeerTrade)
}

// TradeNotification 对外通知事件（fire-and-forget）
type TradeNotification struct {
	Type       string // entry / exit / hedge / liquidation / alert
	MarketSlug string
	AssetID    string
	Size       float64
	Price      domain.Price
	SizeUsd    float64
	PnlUsd     *float64
}

// Notifier delivers notifications. Implementations must never block or
// propagate failures into trading control flow.
type Notifier interface {
	Notify(n TradeNotification)
}

// Clock is an injectable time source so cooldowns, staleness windows and
// poll cadence are deterministically testable.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock wall-clock implementation.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
