package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
)

var paperLog = logrus.WithField("component", "paper_client")

// PaperOrder 纸交易挂单
type PaperOrder struct {
	OrderID int64
	Side    domain.Side
	Symbol  string
	Qty     string
	Price   string
	Placed  time.Time
}

// PaperClient 纸交易客户端：不发任何网络请求，模拟下单/撤单并分配递增 id。
type PaperClient struct {
	nextID atomic.Int64

	mu       sync.Mutex
	orders   map[int64]PaperOrder
	balances map[string]decimal.Decimal
}

// NewPaperClient 创建纸交易客户端
func NewPaperClient() *PaperClient {
	c := &PaperClient{
		orders:   make(map[int64]PaperOrder),
		balances: make(map[string]decimal.Decimal),
	}
	c.nextID.Store(time.Now().UnixMilli())
	return c
}

func (c *PaperClient) PlaceLimitMaker(ctx context.Context, side domain.Side, symbol, qty, price string) (*PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := c.nextID.Add(1)
	now := time.Now()
	c.mu.Lock()
	c.orders[id] = PaperOrder{OrderID: id, Side: side, Symbol: symbol, Qty: qty, Price: price, Placed: now}
	c.mu.Unlock()
	paperLog.Infof("📝 [纸交易] 模拟下单: id=%d side=%s price=%s qty=%s", id, side, price, qty)
	return &PlaceResult{OrderID: id, Symbol: symbol, TransactTime: now}, nil
}

func (c *PaperClient) CancelOrder(ctx context.Context, symbol string, orderID int64) (*CancelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	_, ok := c.orders[orderID]
	delete(c.orders, orderID)
	c.mu.Unlock()
	if !ok {
		return nil, &APIError{Status: 400, Code: -2011, Msg: "Unknown order sent."}
	}
	paperLog.Infof("📝 [纸交易] 模拟撤单: id=%d", orderID)
	return &CancelResult{OrderID: orderID, Symbol: symbol}, nil
}

// OpenOrders 当前纸交易挂单
func (c *PaperClient) OpenOrders() []PaperOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PaperOrder, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, o)
	}
	return out
}

// SetBalance 设置模拟账户余额
func (c *PaperClient) SetBalance(asset string, free decimal.Decimal) {
	c.mu.Lock()
	c.balances[asset] = free
	c.mu.Unlock()
}

// GetAccount 返回模拟账户余额（零余额资产省略，与交易所 omitZeroBalances 一致）。
func (c *PaperClient) GetAccount(ctx context.Context) (*domain.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := &domain.AccountSnapshot{EventTime: time.Now()}
	for asset, free := range c.balances {
		if free.IsZero() {
			continue
		}
		snap.Balances = append(snap.Balances, domain.AssetBalance{Asset: asset, Free: free})
	}
	return snap, nil
}
