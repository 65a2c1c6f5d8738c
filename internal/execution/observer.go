package execution

import (
	"time"

	"github.com/betbot/spotmm/internal/domain"
)

// Action 执行器动作
type Action string

const (
	ActionPlaceBuy    Action = "place_buy"
	ActionCancelBuy   Action = "cancel_buy"
	ActionPlaceSell   Action = "place_sell"
	ActionRestoreSell Action = "restore_sell"
	ActionCancelSell  Action = "cancel_sell"
)

// ActionEvent.Result 取值
const (
	ResultOK        = "ok"
	ResultRejected  = "rejected"  // 交易所拒绝
	ResultTransport = "transport" // 网络/未知错误
	ResultSkipped   = "skipped"
	ResultQueueFull = "queue_full"
)

// ActionEvent 一次动作的结果，供指标与流水记录使用。
type ActionEvent struct {
	Action     Action
	Side       domain.Side
	OrderID    int64 // 成功下单时为新 id；撤单/恢复时为原 id
	PrevID     int64 // 恢复卖单时的原 id
	Price      string
	Qty        string
	Result     string // ok / rejected / transport / skipped / queue_full
	Err        error
	Latency    time.Duration
	OccurredAt time.Time
}

// Observer 接收动作结果。实现需并发安全且不可阻塞。
type Observer interface {
	ObserveAction(ev ActionEvent)
}

// Observers 组合多个 Observer。
type Observers []Observer

func (obs Observers) ObserveAction(ev ActionEvent) {
	for _, o := range obs {
		if o != nil {
			o.ObserveAction(ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) ObserveAction(ActionEvent) {}
