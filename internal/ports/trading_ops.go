package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/betbot/spotmm/internal/domain"
)

// Small capability interfaces shared across layers (core/execution/bootstrap).

// OrderActions 异步下单/撤单动作。返回的 error 只表示任务未被接收（如队列已满）。
type OrderActions interface {
	ReserveBuyPrice(price decimal.Decimal) bool
	ReleaseBuyPrice(price decimal.Decimal)
	PlaceBuy(params domain.OrderParams) error
	CancelBuy(rec domain.OrderRecord) error
	PlaceSell(params domain.OrderParams, pulled domain.PositionSnapshot) error
	RestoreSell(entry domain.OrderRecord) error
	CancelSell(rec domain.OrderRecord) error
}

// AccountFetcher 拉取账户余额快照（启动时对账）。
type AccountFetcher interface {
	GetAccount(ctx context.Context) (*domain.AccountSnapshot, error)
}
