package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
	"github.com/betbot/copyflow/pkg/cache"
)

var log = logrus.WithField("module", "exchange")

// Options REST 适配器参数
type Options struct {
	ClobURL string // CLOB 交易 API
	DataURL string // 数据 API（持仓/余额）
	APIKey  string

	// 请求节流（每秒请求数与突发额度）
	RequestsPerSecond float64
	Burst             int

	Timeout time.Duration
}

func (o Options) normalized() Options {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	return o
}

// Client ports.Exchange 的 REST 实现。
//
// resty 自动从环境变量读取代理配置；429 用 Retry-After 头退避。
// tick size 按 token 缓存（变动极少，没必要每次定价都打 API）。
type Client struct {
	clob    *resty.Client
	data    *resty.Client
	limiter *rate.Limiter

	tickSizes *cache.InMemoryCache[string, int]
}

var _ ports.Exchange = (*Client)(nil)

func NewClient(opt Options) *Client {
	opt = opt.normalized()

	newResty := func(base string) *resty.Client {
		c := resty.New().
			SetBaseURL(base).
			SetTimeout(opt.Timeout).
			SetRetryCount(3).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(10 * time.Second).
			SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
				if resp.StatusCode() == 429 {
					if ra := resp.Header().Get("Retry-After"); ra != "" {
						if seconds, err := time.ParseDuration(ra + "s"); err == nil {
							return seconds, nil
						}
					}
					return 10 * time.Second, nil
				}
				return 0, nil
			})
		if opt.APIKey != "" {
			c.SetHeader("Authorization", "Bearer "+opt.APIKey)
		}
		return c
	}

	return &Client{
		clob:      newResty(opt.ClobURL),
		data:      newResty(opt.DataURL),
		limiter:   rate.NewLimiter(rate.Limit(opt.RequestsPerSecond), opt.Burst),
		tickSizes: cache.NewInMemoryCache[string, int](time.Hour),
	}
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "请求节流等待失败")
	}
	return nil
}

// bookLevel 盘口档位（交易所以字符串返回数值）
type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	AssetID string      `json:"asset_id"`
	Bids    []bookLevel `json:"bids"`
	Asks    []bookLevel `json:"asks"`
}

// GetOrderBook 取 top-of-book 快照。
func (c *Client) GetOrderBook(ctx context.Context, assetID string) (*domain.BookSnapshot, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out bookResponse
	resp, err := c.clob.R().SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&out).
		Get("/book")
	if err != nil {
		return nil, errors.Wrapf(err, "取盘口失败: asset=%s", assetID)
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("取盘口 HTTP %d: %s", resp.StatusCode(), resp.String())
	}

	snap := &domain.BookSnapshot{AssetID: assetID, ObservedAt: time.Now()}
	// bids 升序、asks 降序是该 API 的约定：最优价在数组末尾
	if n := len(out.Bids); n > 0 {
		snap.BestBid = domain.PriceFromDecimal(parseF(out.Bids[n-1].Price))
		snap.BidDepthUsd = levelNotional(out.Bids)
	}
	if n := len(out.Asks); n > 0 {
		snap.BestAsk = domain.PriceFromDecimal(parseF(out.Asks[n-1].Price))
		snap.AskDepthUsd = levelNotional(out.Asks)
	}
	return snap, nil
}

// GetTickSize 取 token 的 tick size（pips），带缓存。
func (c *Client) GetTickSize(ctx context.Context, assetID string) (int, error) {
	if pips, ok := c.tickSizes.Get(assetID); ok {
		return pips, nil
	}
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	var out struct {
		MinimumTickSize string `json:"minimum_tick_size"`
	}
	resp, err := c.clob.R().SetContext(ctx).
		SetQueryParam("token_id", assetID).
		SetResult(&out).
		Get("/tick-size")
	if err != nil {
		return 0, errors.Wrapf(err, "取 tick size 失败: asset=%s", assetID)
	}
	if !resp.IsSuccess() {
		return 0, errors.Errorf("取 tick size HTTP %d", resp.StatusCode())
	}
	pips := int(parseF(out.MinimumTickSize) * 10000)
	if pips <= 0 {
		pips = 100
	}
	c.tickSizes.Set(assetID, pips, time.Hour)
	return pips, nil
}

type balanceResponse struct {
	Usdc     string `json:"usdc"`
	GasToken string `json:"gas_token"`
}

// GetBalance 取钱包余额。
func (c *Client) GetBalance(ctx context.Context) (ports.Balance, error) {
	if err := c.wait(ctx); err != nil {
		return ports.Balance{}, err
	}
	var out balanceResponse
	resp, err := c.data.R().SetContext(ctx).SetResult(&out).Get("/balance")
	if err != nil {
		return ports.Balance{}, errors.Wrap(err, "取余额失败")
	}
	if !resp.IsSuccess() {
		return ports.Balance{}, errors.Errorf("取余额 HTTP %d", resp.StatusCode())
	}
	return ports.Balance{
		UsdcUsd:  parseF(out.Usdc),
		GasToken: parseF(out.GasToken),
	}, nil
}

type orderRequestBody struct {
	TokenID   string `json:"token_id"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	SizeUsd   string `json:"size_usd"`
	OrderType string `json:"order_type"`
}

type orderResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"order_id"`
	Status    string `json:"status"`
	AvgPrice  string `json:"avg_price"`
	FilledUsd string `json:"filled_usd"`
	ErrorMsg  string `json:"error_msg"`
}

// PostOrder 提交订单。提交层面的失败转成类型化 OrderResult，
// error 只留给传输问题。
func (c *Client) PostOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	body := orderRequestBody{
		TokenID:   req.AssetID,
		Side:      string(req.Side),
		Price:     strconv.FormatFloat(req.LimitPrice.ToDecimal(), 'f', 4, 64),
		SizeUsd:   strconv.FormatFloat(req.SizeUsd, 'f', 2, 64),
		OrderType: string(req.OrderType),
	}
	var out orderResponse
	resp, err := c.clob.R().SetContext(ctx).SetBody(body).SetResult(&out).SetError(&out).Post("/order")
	if err != nil {
		return nil, errors.Wrapf(err, "下单请求失败: asset=%s", req.AssetID)
	}
	if !resp.IsSuccess() {
		// 交易所明确拒绝：类型化结果，不是 error
		reason := out.ErrorMsg
		if reason == "" {
			reason = resp.Status()
		}
		log.Warnf("⚠️ [Exchange] 下单被拒: asset=%s http=%d reason=%s", req.AssetID, resp.StatusCode(), reason)
		return &domain.OrderResult{Status: domain.OrderFailed, Reason: reason}, nil
	}
	if !out.Success {
		return &domain.OrderResult{Status: domain.OrderFailed, OrderID: out.OrderID, Reason: out.ErrorMsg}, nil
	}
	return &domain.OrderResult{
		Status:    domain.OrderSubmitted,
		OrderID:   out.OrderID,
		AvgPrice:  domain.PriceFromDecimal(parseF(out.AvgPrice)),
		FilledUsd: parseF(out.FilledUsd),
	}, nil
}

type positionResponse struct {
	AssetID     string `json:"asset"`
	ConditionID string `json:"condition_id"`
	Size        string `json:"size"`
	AvgPrice    string `json:"avg_price"`
	Redeemable  bool   `json:"redeemable"`
}

// GetPositions 取交易所权威持仓（重启对账/赎回巡检）。
func (c *Client) GetPositions(ctx context.Context) ([]ports.ExchangePosition, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var out []positionResponse
	resp, err := c.data.R().SetContext(ctx).SetResult(&out).Get("/positions")
	if err != nil {
		return nil, errors.Wrap(err, "取持仓失败")
	}
	if !resp.IsSuccess() {
		return nil, errors.Errorf("取持仓 HTTP %d", resp.StatusCode())
	}

	positions := make([]ports.ExchangePosition, 0, len(out))
	for _, p := range out {
		positions = append(positions, ports.ExchangePosition{
			AssetID:     p.AssetID,
			ConditionID: p.ConditionID,
			Size:        parseF(p.Size),
			AvgPrice:    domain.PriceFromDecimal(parseF(p.AvgPrice)),
			Redeemable:  p.Redeemable,
		})
	}
	return positions, nil
}

// EnsureAllowance 授权不足时自动提升（签名由交易所侧中继完成）。
func (c *Client) EnsureAllowance(ctx context.Context, assetID string, minUsd float64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.clob.R().SetContext(ctx).
		SetBody(map[string]string{
			"token_id": assetID,
			"min_usd":  strconv.FormatFloat(minUsd, 'f', 2, 64),
		}).
		Post("/allowance")
	if err != nil {
		return errors.Wrapf(err, "授权检查失败: asset=%s", assetID)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("授权检查 HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// RedeemResolved 赎回已结算仓位。
func (c *Client) RedeemResolved(ctx context.Context, conditionID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.clob.R().SetContext(ctx).
		SetBody(map[string]string{"condition_id": conditionID}).
		Post("/redeem")
	if err != nil {
		return errors.Wrapf(err, "赎回请求失败: condition=%s", conditionID)
	}
	if !resp.IsSuccess() {
		return errors.Errorf("赎回 HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func parseF(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func levelNotional(levels []bookLevel) float64 {
	total := 0.0
	for _, l := range levels {
		total += parseF(l.Price) * parseF(l.Size)
	}
	return total
}
