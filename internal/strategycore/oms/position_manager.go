package oms

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/ports"
)

var pmLog = logrus.WithField("module", "position_manager")

// 仓位状态机错误
var (
	ErrDuplicatePosition  = errors.New("token 已有非终态仓位")
	ErrPositionNotFound   = errors.New("仓位不存在")
	ErrInvalidTransition  = errors.New("非法状态转移")
	ErrTransitionThisCycle = errors.New("本周期已发生过状态转移")
)

// PositionManager 仓位管理器：ManagedPosition 的唯一修改入口。
//
// 不变式：
//   - 同一 token 任意时刻至多一个非终态仓位
//   - 每周期每个仓位至多一次状态转移（FAILED 例外，错误路径随时可进）
//   - 终态仓位归档不删除
type PositionManager struct {
	clock ports.Clock

	mu      sync.RWMutex
	active  map[string]*domain.ManagedPosition // positionID -> position
	byAsset map[string]string                  // assetID -> active positionID
	archive []*domain.ManagedPosition
	moved   map[string]bool // 本周期内已转移的 positionID
}

func NewPositionManager(clock ports.Clock) *PositionManager {
	return &PositionManager{
		clock:   clock,
		active:  make(map[string]*domain.ManagedPosition),
		byAsset: make(map[string]string),
		moved:   make(map[string]bool),
	}
}

// BeginCycle 周期开始：清空本周期的转移记录。
func (pm *PositionManager) BeginCycle() {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.moved = make(map[string]bool, len(pm.active))
}

// Open 创建 OPENING 仓位（入场订单已提交，等成交确认）。
// 同一 token 已有非终态仓位时拒绝。
func (pm *PositionManager) Open(marketSlug, assetID, conditionID string, side domain.Side) (*domain.ManagedPosition, error) {
	if pm == nil {
		return nil, errors.New("position manager 未初始化")
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if existing, ok := pm.byAsset[assetID]; ok {
		return nil, errors.Wrapf(ErrDuplicatePosition, "asset=%s pos=%s", assetID, existing)
	}

	pos := &domain.ManagedPosition{
		ID:          uuid.NewString(),
		MarketSlug:  marketSlug,
		AssetID:     assetID,
		ConditionID: conditionID,
		Side:        side,
		State:       domain.PositionOpening,
		OpenedAt:    pm.clock.Now(),
	}
	pm.active[pos.ID] = pos
	pm.byAsset[assetID] = pos.ID
	return pos, nil
}

// ConfirmOpen 入场成交确认：OPENING → OPEN，记录成交均价与数量。
func (pm *PositionManager) ConfirmOpen(positionID string, sizeShares float64, avgPrice domain.Price) error {
	return pm.transition(positionID, domain.PositionOpen, true, true, func(p *domain.ManagedPosition) error {
		if p.State != domain.PositionOpening {
			return errors.Wrapf(ErrInvalidTransition, "%s → OPEN", p.State)
		}
		if sizeShares <= 0 || !avgPrice.IsValid() {
			return errors.New("成交数据无效")
		}
		p.Size = sizeShares
		p.EntryPrice = avgPrice
		return nil
	})
}

// AddHedgeLeg 挂一条对冲腿：OPEN/HEDGED → HEDGED（可多次递增）。
func (pm *PositionManager) AddHedgeLeg(positionID string, leg domain.HedgeLeg) error {
	return pm.transition(positionID, domain.PositionHedged, true, true, func(p *domain.ManagedPosition) error {
		if p.State != domain.PositionOpen && p.State != domain.PositionHedged {
			return errors.Wrapf(ErrInvalidTransition, "%s → HEDGED", p.State)
		}
		if leg.Size <= 0 || !leg.EntryPrice.IsValid() {
			return errors.New("对冲腿数据无效")
		}
		p.HedgeLegs = append(p.HedgeLegs, leg)
		return nil
	})
}

// BeginExit 出场订单已提交：OPEN/HEDGED → EXITING。
// 提交本身不消耗本周期的转移额度（成交确认才算一次逻辑动作）。
func (pm *PositionManager) BeginExit(positionID string) error {
	return pm.transition(positionID, domain.PositionExiting, true, false, func(p *domain.ManagedPosition) error {
		if p.State != domain.PositionOpen && p.State != domain.PositionHedged {
			return errors.Wrapf(ErrInvalidTransition, "%s → EXITING", p.State)
		}
		return nil
	})
}

// RevertExit 出场订单没成交时回退：EXITING → OPEN/HEDGED，下周期重试。
// 没有成交就没有状态变化，不计入周期转移额度。
func (pm *PositionManager) RevertExit(positionID string) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.active[positionID]
	if !ok || p.State != domain.PositionExiting {
		return
	}
	if len(p.HedgeLegs) > 0 {
		p.State = domain.PositionHedged
	} else {
		p.State = domain.PositionOpen
	}
}

// ConfirmClose 出场成交确认：EXITING → CLOSED，按成交量加权结算 PnL 并归档。
//
// hedgeExit 是对冲腿（对侧 token）的退出成交价；无对冲腿时忽略。
// 返回的 TradeResult 以"每 share 的 cents 变动"口径供 EV 追踪器使用。
func (pm *PositionManager) ConfirmClose(positionID string, primaryExit, hedgeExit domain.Price) (*domain.TradeResult, error) {
	var result *domain.TradeResult
	err := pm.transition(positionID, domain.PositionClosed, false, true, func(p *domain.ManagedPosition) error {
		if p.State != domain.PositionExiting {
			return errors.Wrapf(ErrInvalidTransition, "%s → CLOSED", p.State)
		}
		if !primaryExit.IsValid() {
			return errors.New("出场成交价无效")
		}

		realized := p.Size * (primaryExit.ToDecimal() - p.EntryPrice.ToDecimal())
		totalShares := p.Size
		for _, leg := range p.HedgeLegs {
			if hedgeExit.IsValid() {
				realized += leg.Size * (hedgeExit.ToDecimal() - leg.EntryPrice.ToDecimal())
			}
			totalShares += leg.Size
		}
		p.RealizedPnlUsd = realized
		p.UnrealizedPnlUsd = 0

		pnlCents := 0.0
		if totalShares > 0 {
			pnlCents = realized / totalShares * 100
		}
		result = &domain.TradeResult{
			PnlCents:  pnlCents,
			Won:       realized > 0,
			Timestamp: pm.clock.Now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Abort 撤销一个还没下过单的 OPENING 记录（跳过/限流路径）。
// 与 MarkFailed 的区别：没有订单就没有失败，不进归档。
func (pm *PositionManager) Abort(positionID string) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.active[positionID]
	if !ok || p.State != domain.PositionOpening {
		return
	}
	delete(pm.active, p.ID)
	delete(pm.byAsset, p.AssetID)
}

// MarkFailed 不可恢复错误：任意非终态 → FAILED（不受单周期转移限制）。
// 后续以交易所持仓为准对账。
func (pm *PositionManager) MarkFailed(positionID, reason string) error {
	if pm == nil {
		return ErrPositionNotFound
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.active[positionID]
	if !ok {
		return errors.Wrap(ErrPositionNotFound, positionID)
	}
	if p.State.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "%s → FAILED", p.State)
	}
	pmLog.Errorf("❌ [PositionManager] 仓位进入 FAILED: id=%s asset=%s reason=%s", p.ID, p.AssetID, reason)
	p.State = domain.PositionFailed
	pm.archiveLocked(p)
	return nil
}

// transition 状态转移的统一入口。
// checkMove/markMove 控制"每周期一次逻辑动作"额度：提交类转移只查不记，
// 成交确认类转移记账。
func (pm *PositionManager) transition(positionID string, target domain.PositionState, checkMove, markMove bool, mutate func(*domain.ManagedPosition) error) error {
	if pm == nil {
		return ErrPositionNotFound
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	p, ok := pm.active[positionID]
	if !ok {
		return errors.Wrap(ErrPositionNotFound, positionID)
	}
	if checkMove && pm.moved[positionID] {
		return errors.Wrapf(ErrTransitionThisCycle, "pos=%s target=%s", positionID, target)
	}
	if err := mutate(p); err != nil {
		return err
	}
	from := p.State
	p.State = target
	if markMove {
		pm.moved[positionID] = true
	}
	pmLog.Infof("🔄 [PositionManager] 状态转移: id=%s asset=%s %s → %s", p.ID, p.AssetID, from, target)

	if target.IsTerminal() {
		pm.archiveLocked(p)
	}
	return nil
}

func (pm *PositionManager) archiveLocked(p *domain.ManagedPosition) {
	now := pm.clock.Now()
	p.ClosedAt = &now
	delete(pm.active, p.ID)
	delete(pm.byAsset, p.AssetID)
	pm.archive = append(pm.archive, p)
}

// ActiveForAsset 返回 token 的非终态仓位（无则 nil）。
func (pm *PositionManager) ActiveForAsset(assetID string) *domain.ManagedPosition {
	if pm == nil {
		return nil
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if id, ok := pm.byAsset[assetID]; ok {
		return pm.active[id]
	}
	return nil
}

// Get 按 ID 查非终态仓位。
func (pm *PositionManager) Get(positionID string) *domain.ManagedPosition {
	if pm == nil {
		return nil
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.active[positionID]
}

// List 返回全部非终态仓位（副本切片，元素为共享指针）。
func (pm *PositionManager) List() []*domain.ManagedPosition {
	if pm == nil {
		return nil
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*domain.ManagedPosition, 0, len(pm.active))
	for _, p := range pm.active {
		out = append(out, p)
	}
	return out
}

// Archived 返回归档仓位（会话汇总/观测用）。
func (pm *PositionManager) Archived() []*domain.ManagedPosition {
	if pm == nil {
		return nil
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	out := make([]*domain.ManagedPosition, len(pm.archive))
	copy(out, pm.archive)
	return out
}

// OpenCount 持仓中（OPEN/HEDGED）仓位数。
func (pm *PositionManager) OpenCount() int {
	if pm == nil {
		return 0
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	n := 0
	for _, p := range pm.active {
		if p.IsOpenState() {
			n++
		}
	}
	return n
}

// ExposureUsd 非终态仓位名义合计（入场口径，含对冲腿）。
func (pm *PositionManager) ExposureUsd() float64 {
	if pm == nil {
		return 0
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	total := 0.0
	for _, p := range pm.active {
		total += p.EntryValueUsd() + p.HedgedValueUsd()
	}
	return total
}

// Rebuild 重启对账：以交易所权威持仓重建仓位簿（进程内状态已丢失）。
// 重建的仓位直接进入 OPEN，入场价取交易所均价。
func (pm *PositionManager) Rebuild(positions []ports.ExchangePosition) int {
	if pm == nil {
		return 0
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	n := 0
	for _, ex := range positions {
		if ex.Size <= 0 || ex.AssetID == "" {
			continue
		}
		if _, ok := pm.byAsset[ex.AssetID]; ok {
			continue
		}
		pos := &domain.ManagedPosition{
			ID:          uuid.NewString(),
			AssetID:     ex.AssetID,
			ConditionID: ex.ConditionID,
			Side:        domain.SideBuy,
			Size:        ex.Size,
			EntryPrice:  ex.AvgPrice,
			State:       domain.PositionOpen,
			OpenedAt:    pm.clock.Now(),
		}
		pm.active[pos.ID] = pos
		pm.byAsset[ex.AssetID] = pos.ID
		n++
	}
	if n > 0 {
		pmLog.Infof("🔁 [PositionManager] 重启对账重建仓位: %d 个", n)
	}
	return n
}
