package exchange

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
)

var paperLog = logrus.WithField("module", "paper")

// PaperExchange 纸交易包装：读操作透传真实交易所，写操作只记日志并
// 假定按限价全额成交。dry_run 模式下替换真实 Client 注入引擎。
type PaperExchange struct {
	inner ports.Exchange
}

var _ ports.Exchange = (*PaperExchange)(nil)

func NewPaper(inner ports.Exchange) *PaperExchange {
	return &PaperExchange{inner: inner}
}

func (p *PaperExchange) GetOrderBook(ctx context.Context, assetID string) (*domain.BookSnapshot, error) {
	return p.inner.GetOrderBook(ctx, assetID)
}

func (p *PaperExchange) GetBalance(ctx context.Context) (ports.Balance, error) {
	return p.inner.GetBalance(ctx)
}

// PostOrder 模拟成交：限价即均价，全额成交。
func (p *PaperExchange) PostOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	paperLog.Infof("📝 [Paper] 模拟下单: asset=%s side=%s size=%.2fUSD limit=%.4f type=%s",
		req.AssetID, req.Side, req.SizeUsd, req.LimitPrice.ToDecimal(), req.OrderType)
	return &domain.OrderResult{
		Status:    domain.OrderSubmitted,
		OrderID:   "paper-" + uuid.NewString(),
		AvgPrice:  req.LimitPrice,
		FilledUsd: req.SizeUsd,
	}, nil
}

// GetPositions 纸交易不在交易所留仓位，返回空（仓位簿自足）。
func (p *PaperExchange) GetPositions(_ context.Context) ([]ports.ExchangePosition, error) {
	return nil, nil
}

func (p *PaperExchange) EnsureAllowance(_ context.Context, assetID string, minUsd float64) error {
	paperLog.Debugf("[Paper] 跳过授权检查: asset=%s min=%.2f", assetID, minUsd)
	return nil
}

func (p *PaperExchange) RedeemResolved(_ context.Context, conditionID string) error {
	paperLog.Infof("📝 [Paper] 模拟赎回: condition=%s", conditionID)
	return nil
}
