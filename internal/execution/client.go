package execution

import (
	"context"
	"time"

	"github.com/betbot/spotmm/internal/domain"
)

// PlaceResult 下单成功的响应。
type PlaceResult struct {
	OrderID      int64
	Symbol       string
	TransactTime time.Time
	// OrderCount 响应头里的 10s 下单计数（原始字符串，可能为空）
	OrderCount string
}

// CancelResult 撤单成功的响应。
type CancelResult struct {
	OrderID    int64
	Symbol     string
	OrderCount string
}

// TradingClient 交易所 REST 下单/撤单。
// 拒绝时返回 *APIError，其他失败返回普通 error。
type TradingClient interface {
	PlaceLimitMaker(ctx context.Context, side domain.Side, symbol, qty, price string) (*PlaceResult, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) (*CancelResult, error)
}
