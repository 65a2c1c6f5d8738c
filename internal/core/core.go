package core

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/oms"
	"github.com/betbot/spotmm/internal/ports"
	"github.com/betbot/spotmm/internal/strategy"
	"github.com/betbot/spotmm/pkg/marketspec"
	"github.com/betbot/spotmm/pkg/ratelimit"
)

var log = logrus.WithField("component", "core")

// 拒绝原因（同时用作指标标签）
const (
	RejectNoBids          = "no_bids"
	RejectInvalidParams   = "invalid_params"
	RejectDuplicatePrice  = "duplicate_price"
	RejectHoldingConflict = "holding_conflict"
	RejectInFlight        = "in_flight"
	RejectRateLimit       = "rate_limit"
	RejectBalance         = "balance"
	RejectOpenOrders      = "open_orders"
	RejectQueueFull       = "queue_full"
)

// Recorder 接收核心事件（指标、流水）。实现需并发安全且不可阻塞。
type Recorder interface {
	ObserveDepth()
	ObserveReject(reason string)
	ObserveFill(report *domain.ExecutionReport)
}

// Recorders 组合多个 Recorder。
type Recorders []Recorder

func (rs Recorders) ObserveDepth() {
	for _, r := range rs {
		r.ObserveDepth()
	}
}

func (rs Recorders) ObserveReject(reason string) {
	for _, r := range rs {
		r.ObserveReject(reason)
	}
}

func (rs Recorders) ObserveFill(report *domain.ExecutionReport) {
	for _, r := range rs {
		r.ObserveFill(report)
	}
}

// Deps 核心依赖
type Deps struct {
	Spec      marketspec.SymbolSpec
	Strategy  *strategy.TradingStrategy
	Orders    *oms.OrderManager
	Quote     *ledger.QuoteAssetManager
	Positions *ledger.PositionManager
	Limiter   *ratelimit.OrderRateLimiter
	Actions   ports.OrderActions
	Recorder  Recorder
}

// TradingCore 行情/用户事件驱动的状态机。
//
// 没有全局锁：每个资源（登记表、余额、持仓、限频计数）各自并发安全，
// 每个事件都根据当前状态重新决策。两个入口可以与执行器回调并发调用。
type TradingCore struct {
	spec      marketspec.SymbolSpec
	strategy  *strategy.TradingStrategy
	orders    *oms.OrderManager
	quote     *ledger.QuoteAssetManager
	positions *ledger.PositionManager
	limiter   *ratelimit.OrderRateLimiter
	actions   ports.OrderActions
	recorder  Recorder
}

var (
	_ ports.MarketEventHandler = (*TradingCore)(nil)
	_ ports.UserEventHandler   = (*TradingCore)(nil)
)

// New 创建核心
func New(deps Deps) (*TradingCore, error) {
	if deps.Strategy == nil || deps.Orders == nil || deps.Quote == nil ||
		deps.Positions == nil || deps.Limiter == nil || deps.Actions == nil {
		return nil, errors.New("trading core: missing dependency")
	}
	rec := deps.Recorder
	if rec == nil {
		rec = Recorders(nil)
	}
	return &TradingCore{
		spec:      deps.Spec,
		strategy:  deps.Strategy,
		orders:    deps.Orders,
		quote:     deps.Quote,
		positions: deps.Positions,
		limiter:   deps.Limiter,
		actions:   deps.Actions,
		recorder:  rec,
	}, nil
}

func (c *TradingCore) reject(reason string, format string, args ...any) {
	c.recorder.ObserveReject(reason)
	log.Debugf("[REJECT] %s | "+format, append([]any{reason}, args...)...)
}
