package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/metrics"
	"github.com/betbot/copyflow/internal/ports"
)

var wsLog = logrus.WithField("module", "stream")

// StreamOptions 行情/成交流参数
type StreamOptions struct {
	URL string
	// Wallets 跟踪的钱包地址（leaderboard 名单）
	Wallets []string

	PingInterval time.Duration
	// 重连退避：初始间隔，指数增长到上限
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (o StreamOptions) normalized() StreamOptions {
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.ReconnectMin <= 0 {
		o.ReconnectMin = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	return o
}

// PeerTradeStream 订阅跟踪钱包的成交流，串行投递给 handler。
//
// 断线自动重连（指数退避）；重连后重新发订阅。事件投递顺序与
// 到达顺序一致，handler 里做 staleness 判断，这里不丢不排序。
type PeerTradeStream struct {
	opt     StreamOptions
	handler ports.PeerTradeHandler

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
}

func NewPeerTradeStream(opt StreamOptions, handler ports.PeerTradeHandler) *PeerTradeStream {
	return &PeerTradeStream{
		opt:     opt.normalized(),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start 启动连接与读循环（非阻塞）。
func (s *PeerTradeStream) Start(ctx context.Context) {
	go s.runLoop(ctx)
}

// Close 主动关闭。
func (s *PeerTradeStream) Close() {
	close(s.done)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func (s *PeerTradeStream) runLoop(ctx context.Context) {
	backoff := s.opt.ReconnectMin
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := s.connectAndRead(ctx); err != nil {
			wsLog.Warnf("⚠️ [Stream] 连接断开: %v，%s 后重连", err, backoff)
			metrics.StreamReconnects.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opt.ReconnectMax {
			backoff = s.opt.ReconnectMax
		}
	}
}

type subscribeMessage struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Wallets []string `json:"wallets,omitempty"`
}

// tradeEvent 成交事件 wire 格式
type tradeEvent struct {
	EventType string  `json:"event_type"`
	Trader    string  `json:"proxy_wallet"`
	AssetID   string  `json:"asset"`
	Side      string  `json:"side"`
	SizeUsd   float64 `json:"size_usd"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix ms
}

func (s *PeerTradeStream) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.opt.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial 失败")
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{
		Type:    "subscribe",
		Channel: "trades",
		Wallets: s.opt.Wallets,
	}); err != nil {
		return errors.Wrap(err, "发送订阅失败")
	}
	wsLog.Infof("🔌 [Stream] 已连接并订阅 %d 个钱包", len(s.opt.Wallets))

	// keepalive
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(s.opt.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-ticker.C:
				s.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "读消息失败")
		}
		s.dispatch(ctx, raw)
	}
}

func (s *PeerTradeStream) dispatch(ctx context.Context, raw []byte) {
	var ev tradeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		wsLog.Debugf("[Stream] 丢弃无法解析的消息: %v", err)
		return
	}
	if ev.EventType != "trade" || ev.AssetID == "" {
		return
	}

	trade := &domain.PeerTrade{
		Trader:    ev.Trader,
		AssetID:   ev.AssetID,
		Side:      domain.Side(ev.Side),
		SizeUsd:   ev.SizeUsd,
		Price:     domain.PriceFromDecimal(ev.Price),
		Timestamp: time.UnixMilli(ev.Timestamp),
	}
	if !trade.IsValid() {
		return
	}
	metrics.PeerTradesSeen.Add(1)
	if s.handler != nil {
		s.handler.HandlePeerTrade(ctx, trade)
	}
}
