package execution

import (
	"context"
	"errors"
	"net"
	"strings"
)

// FailureClass 订单失败分类。
//
// 分类决定重试策略：
// - TRANSIENT：网络/限流/超时 → 冷却后重试，不阻塞本周期其他候选
// - PERMANENT：市场本身不合适（价差过宽/深度不足/价格出带/死盘）→
//   立即跳过该候选，不设冷却，继续评估下一个
// - VALIDATION：输入畸形 → 本地夹取到安全值并告警，绝不致命
// - CATASTROPHIC：鉴权失败/余额穿底/市场中途结算 → 停新仓、有序退出、报警
type FailureClass string

const (
	// FailureNone：操作成功，无需处理
	FailureNone         FailureClass = "NONE"
	FailureTransient    FailureClass = "TRANSIENT"
	FailurePermanent    FailureClass = "PERMANENT"
	FailureValidation   FailureClass = "VALIDATION"
	FailureCatastrophic FailureClass = "CATASTROPHIC"
)

// permanentReasons：交易所/定价层返回的 PERMANENT 市场条件原因码
var permanentReasons = map[string]bool{
	ReasonMissingBook:   true,
	ReasonCrossedBook:   true,
	ReasonEmptyBook:     true,
	ReasonBaseOutOfBand: true,
	ReasonZeroBasePrice: true,
	"SPREAD_TOO_WIDE":   true,
	"INSUFFICIENT_DEPTH": true,
	"PRICE_OUT_OF_BAND": true,
}

// catastrophicReasons：必须停机处理的原因码
var catastrophicReasons = map[string]bool{
	"AUTH_FAILED":     true,
	"MARKET_RESOLVED": true,
	"BALANCE_FLOOR":   true,
}

// ClassifyReason 按原因码分类（原因码来自 OrderResult.Reason 或定价拒绝）。
func ClassifyReason(reason string) FailureClass {
	r := strings.ToUpper(strings.TrimSpace(reason))
	if r == "" {
		return FailureTransient
	}
	if permanentReasons[r] {
		return FailurePermanent
	}
	if catastrophicReasons[r] {
		return FailureCatastrophic
	}
	if r == ReasonStaleBook || r == ReasonInvalidTick {
		return FailureValidation
	}
	return FailureTransient
}

// ClassifyError 按传输层错误分类：超时/网络/限流都是 TRANSIENT。
func ClassifyError(err error) FailureClass {
	if err == nil {
		return FailureTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return FailureTransient
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "401"),
		strings.Contains(msg, "invalid api key"):
		return FailureCatastrophic
	case strings.Contains(msg, "market resolved"), strings.Contains(msg, "market closed"):
		return FailureCatastrophic
	}
	return FailureTransient
}
