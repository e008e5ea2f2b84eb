package evtrack

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
)

var log = logrus.WithField("module", "evtrack")

// ConfigInterface EV 跟踪器所需配置
type ConfigInterface interface {
	GetEvWindowSize() int            // 滚动窗口容量（最旧淘汰）
	GetMinEv() float64               // EV 下限（cents/笔）
	GetMinProfitFactor() float64     // 盈亏比下限
	GetChurnCostCents() float64      // 往返成本估计（spread+滑点）
	GetEvPauseCooldown() time.Duration // PAUSED 自动解除冷却
	GetEvMinSamples() int            // 样本不足时不触发 PAUSED
}

// Stats EV 统计快照
type Stats struct {
	SampleCount  int
	WinRate      float64
	AvgWinCents  float64
	AvgLossCents float64
	ProfitFactor float64
	EvCents      float64
	Paused       bool
	PausedSince  time.Time
}

// Tracker 维护已平仓交易的滚动窗口并计算实时 EV / 盈亏比。
//
// EV = winRate·avgWin − (1−winRate)·avgLoss − churnCost（cents/笔）。
// EV 或盈亏比击穿下限时进入 PAUSED：决策引擎必须拒绝新开仓、放行出场；
// 冷却到期或窗口重算回到阈值之上时自动解除。
type Tracker struct {
	config ConfigInterface
	clock  ports.Clock

	mu          sync.RWMutex
	results     []domain.TradeResult // 环形语义：满了淘汰最旧
	paused      bool
	pausedSince time.Time
}

func New(cfg ConfigInterface, clock ports.Clock) *Tracker {
	if clock == nil {
		clock = ports.RealClock{}
	}
	return &Tracker{config: cfg, clock: clock}
}

// Record 追加一笔已平仓结果（不可变；窗口有界，最旧淘汰）。
func (t *Tracker) Record(r domain.TradeResult) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.results = append(t.results, r)
	if max := t.config.GetEvWindowSize(); max > 0 && len(t.results) > max {
		t.results = t.results[len(t.results)-max:]
	}

	t.recomputeLocked()
	log.Debugf("📈 [EVTracker] 记录交易: pnl=%.1fc won=%v samples=%d", r.PnlCents, r.Won, len(t.results))
}

// Snapshot 返回当前统计（含 PAUSED 判定；只读）。
func (t *Tracker) Snapshot() Stats {
	if t == nil {
		return Stats{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	// 冷却到期自动解除（读取路径上惰性处理）
	t.maybeClearPauseLocked()
	s := t.statsLocked()
	s.Paused = t.paused
	s.PausedSince = t.pausedSince
	return s
}

// Paused 快捷查询：新开仓是否被暂停。
func (t *Tracker) Paused() bool {
	return t.Snapshot().Paused
}

func (t *Tracker) statsLocked() Stats {
	s := Stats{SampleCount: len(t.results)}
	if s.SampleCount == 0 {
		return s
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, r := range t.results {
		if r.Won {
			wins++
			winSum += r.PnlCents
		} else {
			losses++
			lossSum += -r.PnlCents
		}
	}

	s.WinRate = float64(wins) / float64(s.SampleCount)
	if wins > 0 {
		s.AvgWinCents = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLossCents = lossSum / float64(losses)
	}
	if s.AvgLossCents > 0 {
		s.ProfitFactor = s.AvgWinCents / s.AvgLossCents
	} else if s.AvgWinCents > 0 {
		// 零亏损窗口：盈亏比视为无穷好，用一个大数表达避免 NaN
		s.ProfitFactor = 999
	}
	s.EvCents = s.WinRate*s.AvgWinCents - (1-s.WinRate)*s.AvgLossCents - t.config.GetChurnCostCents()
	return s
}

// recomputeLocked 每次窗口更新后重算门槛状态。
func (t *Tracker) recomputeLocked() {
	s := t.statsLocked()

	if s.SampleCount < t.config.GetEvMinSamples() {
		// 样本不足不触发，也允许解除（冷启动不应被锁死）
		if t.paused {
			t.paused = false
			log.Infof("▶️ [EVTracker] 样本不足阈值，解除 PAUSED: samples=%d", s.SampleCount)
		}
		return
	}

	breach := s.EvCents < t.config.GetMinEv() || s.ProfitFactor < t.config.GetMinProfitFactor()
	switch {
	case breach && !t.paused:
		t.paused = true
		t.pausedSince = t.clock.Now()
		log.Warnf("⏸️ [EVTracker] 进入 PAUSED: ev=%.2fc pf=%.2f winRate=%.2f samples=%d",
			s.EvCents, s.ProfitFactor, s.WinRate, s.SampleCount)
	case !breach && t.paused:
		t.paused = false
		log.Infof("▶️ [EVTracker] 窗口重算越过阈值，解除 PAUSED: ev=%.2fc pf=%.2f", s.EvCents, s.ProfitFactor)
	}
}

func (t *Tracker) maybeClearPauseLocked() {
	if !t.paused {
		return
	}
	cd := t.config.GetEvPauseCooldown()
	if cd > 0 && t.clock.Now().Sub(t.pausedSince) >= cd {
		t.paused = false
		log.Infof("▶️ [EVTracker] 冷却到期，解除 PAUSED（%.0fs）", cd.Seconds())
	}
}
