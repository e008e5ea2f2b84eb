package capital

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type resCfg struct {
	base, max, minUsd, rate, wMissed, wHedge float64
}

func (c resCfg) GetBaseReserveFraction() float64 { return c.base }
func (c resCfg) GetMaxReserveFraction() float64  { return c.max }
func (c resCfg) GetMinReserveUsd() float64       { return c.minUsd }
func (c resCfg) GetReserveAdaptRate() float64    { return c.rate }
func (c resCfg) GetMissedOppWeight() float64     { return c.wMissed }
func (c resCfg) GetHedgeCoverageWeight() float64 { return c.wHedge }

func defaultCfg() resCfg {
	return resCfg{base: 0.10, max: 0.50, minUsd: 50, rate: 0.5, wMissed: 1, wHedge: 1}
}

func TestAvailableForTrading(t *testing.T) {
	m := New(defaultCfg())
	m.SetBalance(1000)
	m.SetDeployed(200)
	// 1000·0.9 − 200 = 700；hardCap = 1000−50 = 950
	assert.InDelta(t, 700, m.AvailableForTrading(), 1e-9)
}

func TestAvailableNeverBreaksMinReserve(t *testing.T) {
	cfg := defaultCfg()
	cfg.base = 0.0
	m := New(cfg)
	m.SetBalance(60)
	m.SetDeployed(0)
	// balance·1.0 = 60 但 hardCap = 60−50 = 10
	assert.InDelta(t, 10, m.AvailableForTrading(), 1e-9)

	m.SetBalance(40) // 已低于绝对底线
	assert.Equal(t, 0.0, m.AvailableForTrading())
}

func TestAdaptClampsToBounds(t *testing.T) {
	cfg := defaultCfg()
	m := New(cfg)
	m.SetBalance(1000)

	// 强烈的对冲需求信号持续抬高准备金，但不会越过 max
	for i := 0; i < 50; i++ {
		m.SetHedgeCoverageNeed(5000)
		m.Adapt()
	}
	assert.InDelta(t, cfg.max, m.State().ReserveFraction, 1e-9)

	// 强烈的错失机会信号压低，但不低于 base
	m.SetHedgeCoverageNeed(0)
	for i := 0; i < 50; i++ {
		m.RecordMissedOpportunity(5000)
		m.Adapt()
	}
	assert.InDelta(t, cfg.base, m.State().ReserveFraction, 1e-9)
}

func TestMissedOpportunityConsumedOnAdapt(t *testing.T) {
	m := New(defaultCfg())
	m.SetBalance(1000)
	m.RecordMissedOpportunity(100)
	assert.InDelta(t, 100, m.State().MissedOppUsd, 1e-9)
	m.Adapt()
	assert.Equal(t, 0.0, m.State().MissedOppUsd)
}

func TestAdaptDirection(t *testing.T) {
	m := New(defaultCfg())
	m.SetBalance(1000)

	// 先抬一点，再观察错失机会把比例往下压
	m.SetHedgeCoverageNeed(400)
	up := m.Adapt()
	assert.Greater(t, up, defaultCfg().base)

	m.SetHedgeCoverageNeed(0)
	m.RecordMissedOpportunity(400)
	down := m.Adapt()
	assert.Less(t, down, up)
}
