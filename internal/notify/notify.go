package notify

import (
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/ports"
)

var log = logrus.WithField("module", "notify")

// AsyncNotifier 异步通知：带缓冲队列 + 单消费者，Notify 永不阻塞。
//
// 队列满了直接丢（计数告警）——通知是旁路观测，绝不反压交易循环。
type AsyncNotifier struct {
	sink    ports.Notifier
	queue   chan ports.TradeNotification
	dropped int64
}

func NewAsync(sink ports.Notifier, buffer int) *AsyncNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	n := &AsyncNotifier{
		sink:  sink,
		queue: make(chan ports.TradeNotification, buffer),
	}
	go n.drain()
	return n
}

// Notify 入队；满则丢弃。
func (n *AsyncNotifier) Notify(ev ports.TradeNotification) {
	if n == nil {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.dropped++
		log.Warnf("⚠️ [Notify] 通知队列已满，丢弃: type=%s market=%s", ev.Type, ev.MarketSlug)
	}
}

func (n *AsyncNotifier) drain() {
	for ev := range n.queue {
		if n.sink != nil {
			n.sink.Notify(ev)
		}
	}
}

// LogNotifier 把交易事件落到结构化日志（默认 sink）。
type LogNotifier struct{}

func (LogNotifier) Notify(ev ports.TradeNotification) {
	fields := logrus.Fields{
		"type":    ev.Type,
		"market":  ev.MarketSlug,
		"asset":   ev.AssetID,
		"sizeUsd": ev.SizeUsd,
		"price":   ev.Price.ToDecimal(),
	}
	if ev.PnlUsd != nil {
		fields["pnlUsd"] = *ev.PnlUsd
	}
	switch ev.Type {
	case "entry":
		log.WithFields(fields).Info("🟢 开仓")
	case "hedge":
		log.WithFields(fields).Info("🛡️ 对冲")
	case "exit":
		log.WithFields(fields).Info("🔴 平仓")
	case "alert":
		log.WithFields(fields).Error("🚨 告警")
	default:
		log.WithFields(fields).Info("📣 通知")
	}
}
