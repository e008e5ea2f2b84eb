package capital

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("module", "capital")

// ConfigInterface 动态准备金管理器所需配置
type ConfigInterface interface {
	GetBaseReserveFraction() float64 // 准备金比例下限
	GetMaxReserveFraction() float64  // 准备金比例上限
	GetMinReserveUsd() float64       // 绝对最低准备金（USD）
	GetReserveAdaptRate() float64    // 自适应步长
	GetMissedOppWeight() float64     // 错失机会信号权重（压低准备金）
	GetHedgeCoverageWeight() float64 // 对冲覆盖需求权重（抬高准备金）
}

// ReserveState 准备金状态快照
type ReserveState struct {
	WalletBalanceUsd   float64
	ReserveFraction    float64
	DeployedCapitalUsd float64
	MissedOppUsd       float64
	HedgeNeedUsd       float64
	AvailableUsd       float64
}

// Manager 动态准备金管理器。
//
// 每周期按两个信号的加权组合调整 reserveFraction：
// - 错失机会（本可盈利但没钱下的额度）→ 压低准备金
// - 预期对冲覆盖需求（在场仓位可能需要的对冲资金）→ 抬高准备金
// 调整后夹在 [base, max]；可用资金永远不会把余额压到绝对最低准备金之下。
type Manager struct {
	config ConfigInterface

	mu              sync.Mutex
	reserveFraction float64
	walletBalance   float64
	deployedUsd     float64
	missedOppUsd    float64 // 周期内累计，Adapt 时消费并清零
	hedgeNeedUsd    float64
}

func New(cfg ConfigInterface) *Manager {
	return &Manager{
		config:          cfg,
		reserveFraction: cfg.GetBaseReserveFraction(),
	}
}

// SetBalance 周期开始时刷新余额（节流由调用方负责）。
func (m *Manager) SetBalance(walletUsd float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if walletUsd >= 0 {
		m.walletBalance = walletUsd
	}
}

// SetDeployed 刷新已部署资金（在场仓位名义合计）。
func (m *Manager) SetDeployed(deployedUsd float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if deployedUsd >= 0 {
		m.deployedUsd = deployedUsd
	}
}

// RecordMissedOpportunity 记录一次"有钱就能做"的错失（预算不足被拒的候选额度）。
func (m *Manager) RecordMissedOpportunity(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missedOppUsd += usd
}

// SetHedgeCoverageNeed 设置预期对冲覆盖需求（在场仓位的潜在对冲额度）。
func (m *Manager) SetHedgeCoverageNeed(usd float64) {
	if m == nil || usd < 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hedgeNeedUsd = usd
}

// Adapt 周期性调整 reserveFraction（每周期调用一次）。
//
// delta = adaptRate · (wHedge·hedgeNeed − wMissed·missedOpp) / max(balance, 1)
// 信号归一到余额口径，避免绝对金额主导步长。
func (m *Manager) Adapt() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	denom := m.walletBalance
	if denom < 1 {
		denom = 1
	}
	up := m.config.GetHedgeCoverageWeight() * m.hedgeNeedUsd / denom
	down := m.config.GetMissedOppWeight() * m.missedOppUsd / denom
	delta := m.config.GetReserveAdaptRate() * (up - down)

	prev := m.reserveFraction
	m.reserveFraction = clamp(m.reserveFraction+delta,
		m.config.GetBaseReserveFraction(), m.config.GetMaxReserveFraction())

	if m.reserveFraction != prev {
		log.Infof("💰 [Capital] 准备金比例调整: %.4f → %.4f (missed=%.2f hedge=%.2f)",
			prev, m.reserveFraction, m.missedOppUsd, m.hedgeNeedUsd)
	}

	// 错失机会是事件累计，消费后清零；对冲需求是状态量，保留
	m.missedOppUsd = 0
	return m.reserveFraction
}

// AvailableForTrading 当前可动用资金：
// balance·(1−reserveFraction) − deployed，且绝不让余额跌破绝对最低准备金，
// 结果不为负。
func (m *Manager) AvailableForTrading() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked()
}

func (m *Manager) availableLocked() float64 {
	avail := m.walletBalance*(1-m.reserveFraction) - m.deployedUsd

	// 绝对底线：可用资金不得超过 balance − minReserveUsd
	hardCap := m.walletBalance - m.config.GetMinReserveUsd()
	if avail > hardCap {
		avail = hardCap
	}
	if avail < 0 {
		avail = 0
	}
	return avail
}

// State 返回状态快照（观测用）。
func (m *Manager) State() ReserveState {
	if m == nil {
		return ReserveState{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return ReserveState{
		WalletBalanceUsd:   m.walletBalance,
		ReserveFraction:    m.reserveFraction,
		DeployedCapitalUsd: m.deployedUsd,
		MissedOppUsd:       m.missedOppUsd,
		HedgeNeedUsd:       m.hedgeNeedUsd,
		AvailableUsd:       m.availableLocked(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
