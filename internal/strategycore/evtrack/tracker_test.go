package evtrack

import (
	"math"
	"testing"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}

type evCfg struct {
	window     int
	minEv      float64
	minPF      float64
	churn      float64
	cooldown   time.Duration
	minSamples int
}

func (c evCfg) GetEvWindowSize() int              { return c.window }
func (c evCfg) GetMinEv() float64                 { return c.minEv }
func (c evCfg) GetMinProfitFactor() float64       { return c.minPF }
func (c evCfg) GetChurnCostCents() float64        { return c.churn }
func (c evCfg) GetEvPauseCooldown() time.Duration { return c.cooldown }
func (c evCfg) GetEvMinSamples() int              { return c.minSamples }

func record(t *Tracker, pnlCents float64, n int) {
	for i := 0; i < n; i++ {
		t.Record(domain.TradeResult{PnlCents: pnlCents, Won: pnlCents > 0, Timestamp: time.Now()})
	}
}

// K 笔 +14c、N−K 笔 −9c 时，EV = winRate·14 − (1−winRate)·9 − churn。
func TestEvFormula(t *testing.T) {
	cfg := evCfg{window: 100, minEv: -100, minPF: 0, churn: 2, minSamples: 5}
	tr := New(cfg, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	const K, N = 6, 10
	record(tr, 14, K)
	record(tr, -9, N-K)

	s := tr.Snapshot()
	winRate := float64(K) / float64(N)
	want := winRate*14 - (1-winRate)*9 - cfg.churn
	if math.Abs(s.EvCents-want) > 1e-9 {
		t.Fatalf("ev got=%.6f want=%.6f", s.EvCents, want)
	}
	if math.Abs(s.WinRate-winRate) > 1e-9 {
		t.Fatalf("winRate got=%.4f want=%.4f", s.WinRate, winRate)
	}
	if math.Abs(s.AvgWinCents-14) > 1e-9 || math.Abs(s.AvgLossCents-9) > 1e-9 {
		t.Fatalf("avgWin/avgLoss got=%.2f/%.2f want=14/9", s.AvgWinCents, s.AvgLossCents)
	}
}

// 场景 C：avgWin=10c avgLoss=12c → pf≈0.83 < 1.25 → PAUSED。
func TestProfitFactorGatePauses(t *testing.T) {
	cfg := evCfg{window: 100, minEv: -100, minPF: 1.25, minSamples: 4}
	tr := New(cfg, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	record(tr, 10, 3)
	record(tr, -12, 3)

	s := tr.Snapshot()
	if math.Abs(s.ProfitFactor-10.0/12.0) > 1e-9 {
		t.Fatalf("pf got=%.4f want=%.4f", s.ProfitFactor, 10.0/12.0)
	}
	if !s.Paused {
		t.Fatal("expected PAUSED")
	}
}

func TestPauseAutoClearsAfterCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg := evCfg{window: 100, minEv: 5, minPF: 0, cooldown: 10 * time.Minute, minSamples: 2}
	tr := New(cfg, clock)

	record(tr, -9, 4) // EV 显著为负
	if !tr.Paused() {
		t.Fatal("expected PAUSED")
	}

	clock.now = clock.now.Add(cfg.cooldown + time.Second)
	if tr.Paused() {
		t.Fatal("expected pause cleared after cooldown")
	}
}

func TestPauseClearsOnRecovery(t *testing.T) {
	cfg := evCfg{window: 6, minEv: 0, minPF: 0, minSamples: 3}
	tr := New(cfg, &fakeClock{now: time.Unix(1_700_000_000, 0)})

	record(tr, -9, 6)
	if !tr.Paused() {
		t.Fatal("expected PAUSED")
	}
	// 窗口有界（6）：新的盈利把旧亏损全部挤出
	record(tr, 14, 6)
	if tr.Paused() {
		t.Fatal("expected pause cleared by fresh window")
	}
	if got := tr.Snapshot().SampleCount; got != 6 {
		t.Fatalf("window size got=%d want=6", got)
	}
}

func TestMinSamplesSuppressesPause(t *testing.T) {
	cfg := evCfg{window: 100, minEv: 0, minPF: 1.25, minSamples: 10}
	tr := New(cfg, &fakeClock{now: time.Unix(1_700_000_000, 0)})
	record(tr, -9, 5) // 亏损但样本不足
	if tr.Paused() {
		t.Fatal("insufficient samples must not pause")
	}
}
