package domain

// Market 市场领域模型（二元结果市场：YES/NO 一对 token）
type Market struct {
	Slug        string // 市场 slug
	YesAssetID  string // YES token 资产 ID
	NoAssetID   string // NO token 资产 ID
	ConditionID string // 条件 ID（赎回用）
	Question    string // 问题描述
	Resolved    bool   // 是否已结算
}

// IsValid 验证市场是否有效
func (m *Market) IsValid() bool {
	return m != nil && m.Slug != "" && m.YesAssetID != "" && m.NoAssetID != ""
}

// OppositeAssetID 返回给定 token 的对侧 token（对冲腿使用）。
// 未知 token 返回空串。
func (m *Market) OppositeAssetID(assetID string) string {
	if m == nil {
		return ""
	}
	switch assetID {
	case m.YesAssetID:
		return m.NoAssetID
	case m.NoAssetID:
		return m.YesAssetID
	}
	return ""
}

// Side 订单/流向方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// BiasDirection 跟单方向许可
type BiasDirection string

const (
	BiasLong  BiasDirection = "LONG"
	BiasShort BiasDirection = "SHORT"
	BiasNone  BiasDirection = "NONE"
)
