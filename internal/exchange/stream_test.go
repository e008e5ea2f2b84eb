package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

type captureHandler struct {
	trades []*domain.PeerTrade
}

func (h *captureHandler) HandlePeerTrade(_ context.Context, trade *domain.PeerTrade) {
	h.trades = append(h.trades, trade)
}

func newTestStream(h *captureHandler) *PeerTradeStream {
	return NewPeerTradeStream(StreamOptions{URL: "ws://unused"}, h)
}

func TestDispatchDeliversValidTrade(t *testing.T) {
	h := &captureHandler{}
	s := newTestStream(h)

	raw := []byte(`{
		"event_type": "trade",
		"proxy_wallet": "0xabc",
		"asset": "tok-1",
		"side": "BUY",
		"size_usd": 120.5,
		"price": 0.47,
		"timestamp": 1767225600000
	}`)
	s.dispatch(context.Background(), raw)

	if len(h.trades) != 1 {
		t.Fatalf("应投递 1 笔, got %d", len(h.trades))
	}
	tr := h.trades[0]
	if tr.Trader != "0xabc" || tr.AssetID != "tok-1" || tr.Side != domain.SideBuy {
		t.Errorf("字段解析错误: %+v", tr)
	}
	if tr.Price.ToCents() != 47 || tr.SizeUsd != 120.5 {
		t.Errorf("价格/金额错误: %+v", tr)
	}
	if !tr.Timestamp.Equal(time.UnixMilli(1767225600000)) {
		t.Errorf("时间戳错误: %v", tr.Timestamp)
	}
}

func TestDispatchIgnoresNoise(t *testing.T) {
	h := &captureHandler{}
	s := newTestStream(h)

	for _, raw := range []string{
		`not json at all`,
		`{"event_type":"ping"}`,
		`{"event_type":"trade","asset":""}`,
		// 缺 wallet → IsValid 拦截
		`{"event_type":"trade","asset":"tok-1","side":"BUY","size_usd":50,"price":0.5}`,
		// 非法方向
		`{"event_type":"trade","proxy_wallet":"0xabc","asset":"tok-1","side":"HOLD","size_usd":50,"price":0.5}`,
		// 零金额
		`{"event_type":"trade","proxy_wallet":"0xabc","asset":"tok-1","side":"SELL","size_usd":0,"price":0.5}`,
	} {
		s.dispatch(context.Background(), []byte(raw))
	}
	if len(h.trades) != 0 {
		t.Fatalf("噪声消息不应投递, got %d", len(h.trades))
	}
}

func TestPaperExchangeFillsAtLimit(t *testing.T) {
	p := NewPaper(nil)
	result, err := p.PostOrder(context.Background(), domain.OrderRequest{
		AssetID:    "tok-1",
		Side:       domain.SideBuy,
		SizeUsd:    25,
		LimitPrice: domain.PriceFromCents(53),
		OrderType:  domain.OrderTypeFAK,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Filled() {
		t.Fatalf("纸交易应全额成交: %+v", result)
	}
	if result.AvgPrice.ToCents() != 53 || result.FilledUsd != 25 {
		t.Errorf("成交应按限价: %+v", result)
	}
	if err := p.EnsureAllowance(context.Background(), "tok-1", 100); err != nil {
		t.Errorf("纸交易授权应为 no-op: %v", err)
	}
	if positions, err := p.GetPositions(context.Background()); err != nil || len(positions) != 0 {
		t.Errorf("纸交易持仓应为空: %v %v", positions, err)
	}
}
