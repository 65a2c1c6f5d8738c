package ports

import (
	"github.com/betbot/spotmm/internal/domain"
)

// Event handler interfaces live in this neutral package so that the stream
// adapters, the dispatcher and the core do not import each other.

// MarketEventHandler 处理行情深度快照。
type MarketEventHandler interface {
	OnDepth(depth *domain.DepthSnapshot)
}

// UserEventHandler 处理用户流事件。
type UserEventHandler interface {
	OnExecutionReport(report *domain.ExecutionReport)
	OnAccountSnapshot(snapshot *domain.AccountSnapshot)
	OnBalanceDelta(delta *domain.BalanceDelta)
}
