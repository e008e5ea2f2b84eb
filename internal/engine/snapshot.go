package engine

import (
	"time"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/internal/strategycore/capital"
	"github.com/betbot/copyflow/internal/strategycore/evtrack"
)

// PositionView 仓位的只读视图（快照用，外部读者拿不到内部指针）
type PositionView struct {
	ID               string               `json:"id"`
	MarketSlug       string               `json:"market_slug"`
	AssetID          string               `json:"asset_id"`
	State            domain.PositionState `json:"state"`
	Size             float64              `json:"size"`
	EntryPriceCents  int                  `json:"entry_price_cents"`
	HedgeLegs        int                  `json:"hedge_legs"`
	HedgeRatio       float64              `json:"hedge_ratio"`
	UnrealizedPnlUsd float64              `json:"unrealized_pnl_usd"`
	OpenedAt         time.Time            `json:"opened_at"`
}

// Snapshot 周期末生成的不可变状态快照。
//
// 控制面/TUI 只读这里，绝不触碰交易循环内部状态。
type Snapshot struct {
	At          time.Time             `json:"at"`
	Cycle       uint64                `json:"cycle"`
	Halted      bool                  `json:"halted"`
	Liquidation LiquidationMode       `json:"liquidation"`
	Balance     ports.Balance         `json:"balance"`
	Reserve     capital.ReserveState  `json:"reserve"`
	Ev          evtrack.Stats         `json:"ev"`
	Positions   []PositionView        `json:"positions"`
	ClosedCount int                   `json:"closed_count"`
	RealizedUsd float64               `json:"realized_usd"`
}

func viewOf(p *domain.ManagedPosition) PositionView {
	return PositionView{
		ID:               p.ID,
		MarketSlug:       p.MarketSlug,
		AssetID:          p.AssetID,
		State:            p.State,
		Size:             p.Size,
		EntryPriceCents:  p.EntryPrice.ToCents(),
		HedgeLegs:        len(p.HedgeLegs),
		HedgeRatio:       p.HedgeRatio(),
		UnrealizedPnlUsd: p.UnrealizedPnlUsd,
		OpenedAt:         p.OpenedAt,
	}
}
