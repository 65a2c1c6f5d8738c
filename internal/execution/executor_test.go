package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/oms"
	"github.com/betbot/spotmm/internal/strategy"
	"github.com/betbot/spotmm/pkg/marketspec"
	"github.com/betbot/spotmm/pkg/ratelimit"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeClient struct {
	nextID    atomic.Int64
	placeErr  error
	cancelErr error
	header    string

	mu      sync.Mutex
	placed  []string
	cancels []int64
	block   chan struct{}
}

func (c *fakeClient) PlaceLimitMaker(ctx context.Context, side domain.Side, symbol, qty, price string) (*PlaceResult, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.placed = append(c.placed, string(side)+" "+qty+"@"+price)
	c.mu.Unlock()
	if c.placeErr != nil {
		return nil, c.placeErr
	}
	return &PlaceResult{OrderID: c.nextID.Add(1), Symbol: symbol, OrderCount: c.header}, nil
}

func (c *fakeClient) CancelOrder(ctx context.Context, symbol string, orderID int64) (*CancelResult, error) {
	c.mu.Lock()
	c.cancels = append(c.cancels, orderID)
	c.mu.Unlock()
	if c.cancelErr != nil {
		return nil, c.cancelErr
	}
	return &CancelResult{OrderID: orderID, Symbol: symbol, OrderCount: c.header}, nil
}

func (c *fakeClient) placedOrders() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.placed...)
}

func (c *fakeClient) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cancels)
}

type recorder struct {
	mu     sync.Mutex
	events []ActionEvent
}

func (r *recorder) ObserveAction(ev ActionEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) last() ActionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type harness struct {
	exec      *OrderExecutor
	client    *fakeClient
	orders    *oms.OrderManager
	positions *ledger.PositionManager
	limiter   *ratelimit.OrderRateLimiter
	rec       *recorder
}

func newHarness(t *testing.T, client *fakeClient, cfg Config) *harness {
	t.Helper()
	spec, err := marketspec.New("BTCUSDT", "BTC", "USDT", d("0.01"), d("0.00001"))
	require.NoError(t, err)
	orders := oms.NewOrderManager(oms.DefaultConfig())
	t.Cleanup(orders.Close)
	positions := ledger.NewPositionManager(spec, d("5"))
	limiter := ratelimit.NewOrderRateLimiter(ratelimit.DefaultOrderLimiterConfig())
	strat := strategy.New(spec, strategy.Config{
		MinOrderNotional:    d("5"),
		BuyWallThresholdUSD: d("10000"),
		TargetMultiplier:    d("1.01"),
	})
	rec := &recorder{}
	exec, err := NewOrderExecutor(cfg, Deps{
		Client: client, Spec: spec, Orders: orders, Positions: positions,
		Limiter: limiter, Strategy: strat, Observer: rec,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		_ = exec.Stop(stopCtx)
	})
	return &harness{exec: exec, client: client, orders: orders, positions: positions, limiter: limiter, rec: rec}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestPlaceBuy_RegistersOrderAndSyncsRate(t *testing.T) {
	h := newHarness(t, &fakeClient{header: "17"}, DefaultConfig())
	require.True(t, h.exec.ReserveBuyPrice(d("100.01")))
	require.NoError(t, h.exec.PlaceBuy(domain.OrderParams{Price: d("100.01"), Qty: d("0.05")}))

	eventually(t, func() bool { return h.orders.BuyOrderCount() == 1 })
	assert.Equal(t, []string{"BUY 0.05000@100.01"}, h.client.placedOrders())
	assert.Equal(t, 17, h.limiter.Count())
	assert.True(t, h.orders.HasBuyOrderAt(d("100.01")))

	// 任务结束后释放价格占位
	eventually(t, func() bool { return h.exec.InFlightBuys() == 0 })
	assert.True(t, h.exec.ReserveBuyPrice(d("100.01")))
}

func TestPlaceBuy_FailureOnlyLogs(t *testing.T) {
	h := newHarness(t, &fakeClient{placeErr: &APIError{Status: 400, Code: -2010, Msg: "Order would immediately match and take."}}, DefaultConfig())
	require.NoError(t, h.exec.PlaceBuy(domain.OrderParams{Price: d("100"), Qty: d("0.05")}))

	eventually(t, func() bool { return h.rec.count() == 1 })
	ev := h.rec.last()
	assert.Equal(t, ActionPlaceBuy, ev.Action)
	assert.Equal(t, "rejected", ev.Result)
	assert.Equal(t, 0, h.orders.BuyOrderCount())
}

func TestReserveBuyPrice_SinglePricePerFlight(t *testing.T) {
	h := newHarness(t, &fakeClient{}, DefaultConfig())
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.exec.ReserveBuyPrice(d("100.10")) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	// 数值相同的不同写法视为同一价格
	assert.False(t, h.exec.ReserveBuyPrice(d("100.1")))
	h.exec.ReleaseBuyPrice(d("100.1"))
	assert.True(t, h.exec.ReserveBuyPrice(d("100.10")))
}

func TestCancelBuy_SkipsUntrackedOrder(t *testing.T) {
	h := newHarness(t, &fakeClient{}, DefaultConfig())
	r, err := domain.NewOrderRecord(9, "BTCUSDT", domain.SideBuy, "0.05", "100")
	require.NoError(t, err)

	require.NoError(t, h.exec.CancelBuy(r))
	eventually(t, func() bool { return h.rec.count() == 1 })
	assert.Equal(t, "skipped", h.rec.last().Result)
	assert.Equal(t, 0, h.client.cancelCount())

	h.orders.AddBuyOrder(domain.OrderRecord{OrderID: 10, Symbol: "BTCUSDT", Side: domain.SideBuy})
	r.OrderID = 10
	require.NoError(t, h.exec.CancelBuy(r))
	eventually(t, func() bool { return h.rec.count() == 2 })
	assert.Equal(t, "ok", h.rec.last().Result)
	assert.False(t, h.orders.ContainsBuyOrder(10))
	assert.Equal(t, 1, h.client.cancelCount())
}

func TestPlaceSell_SuccessRecordsCostBasis(t *testing.T) {
	h := newHarness(t, &fakeClient{}, DefaultConfig())
	pulled := domain.PositionSnapshot{TotalQty: d("0.3"), TotalValue: d("30.003")}
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101.05"), Qty: d("0.3")}, pulled))

	eventually(t, func() bool { return h.orders.SellOrderCount() == 1 })
	sells := h.orders.SellOrders()
	require.NotNil(t, sells[0].AvgBuyPrice)
	assert.Equal(t, "100.01", sells[0].AvgBuyPrice.String())
	assert.True(t, h.positions.Snapshot().IsEmpty())
}

func TestPlaceSell_FailureRestoresPosition(t *testing.T) {
	h := newHarness(t, &fakeClient{placeErr: errors.New("connection reset")}, DefaultConfig())
	h.positions.AddAcquired(d("0.1"), d("10"))
	require.True(t, h.positions.IsSellable())

	pulled := h.positions.PullAcquired()
	require.False(t, h.positions.IsSellable())
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.1")}, pulled))

	eventually(t, func() bool { return h.positions.IsSellable() })
	assert.Equal(t, "0.1", h.positions.Snapshot().TotalQty.String())
	assert.Equal(t, "transport", h.rec.last().Result)
	assert.Equal(t, 0, h.orders.SellOrderCount())
}

func TestRestoreSell_UsesRetainedCostBasis(t *testing.T) {
	h := newHarness(t, &fakeClient{}, DefaultConfig())
	entry, err := domain.NewOrderRecord(5, "BTCUSDT", domain.SideSell, "0.10000", "120.00")
	require.NoError(t, err)
	entry = entry.WithAvgBuyPrice(d("100"))

	require.NoError(t, h.exec.RestoreSell(entry))
	eventually(t, func() bool { return h.orders.SellOrderCount() == 1 })
	// 地板价未初始化 -> 100 * 1.01
	assert.Equal(t, []string{"SELL 0.10000@101.00"}, h.client.placedOrders())
	sells := h.orders.SellOrders()
	assert.Equal(t, "100", sells[0].AvgBuyPrice.String())
	assert.NotEqual(t, int64(5), sells[0].OrderID)
}

func TestRestoreSell_FailureRequeues(t *testing.T) {
	h := newHarness(t, &fakeClient{placeErr: &APIError{Status: 400, Code: -1013, Msg: "Filter failure"}}, DefaultConfig())
	entry, err := domain.NewOrderRecord(5, "BTCUSDT", domain.SideSell, "0.1", "120")
	require.NoError(t, err)

	require.NoError(t, h.exec.RestoreSell(entry.WithAvgBuyPrice(d("100"))))
	eventually(t, func() bool { return h.orders.HasCanceledOrders() })
	got, ok := h.orders.PollLowestPriceCanceledOrder()
	require.True(t, ok)
	assert.Equal(t, int64(5), got.OrderID)
}

func TestCancelSell_MovesToCanceledPool(t *testing.T) {
	h := newHarness(t, &fakeClient{}, DefaultConfig())
	r, err := domain.NewOrderRecord(3, "BTCUSDT", domain.SideSell, "0.1", "110")
	require.NoError(t, err)
	r = r.WithAvgBuyPrice(d("100"))
	require.True(t, h.orders.AddSellOrder(r))

	require.NoError(t, h.exec.CancelSell(r))
	eventually(t, func() bool { return h.orders.HasCanceledOrders() })
	assert.False(t, h.orders.ContainsSellOrder(3))
	got, _ := h.orders.PollLowestPriceCanceledOrder()
	assert.Equal(t, int64(3), got.OrderID)
}

func TestCancelSell_FailureDoesNotPool(t *testing.T) {
	h := newHarness(t, &fakeClient{cancelErr: &APIError{Status: 400, Code: -2011, Msg: "Unknown order sent."}}, DefaultConfig())
	r, err := domain.NewOrderRecord(3, "BTCUSDT", domain.SideSell, "0.1", "110")
	require.NoError(t, err)
	h.orders.AddSellOrder(r)

	require.NoError(t, h.exec.CancelSell(r))
	eventually(t, func() bool { return h.rec.count() == 1 })
	assert.False(t, h.orders.HasCanceledOrders())
	assert.False(t, h.orders.ContainsSellOrder(3))
}

func TestQueueFull_CompensatesSynchronously(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	h := newHarness(t, client, Config{BuyWorkers: 1, SellWorkers: 1, QueueSize: 1})
	defer close(client.block)

	// 第一个任务占住 worker，第二个占满队列
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.1")}, domain.PositionSnapshot{}))
	eventually(t, func() bool { b, s := h.exec.QueueLens(); return b == 0 && s == 0 })
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.1")}, domain.PositionSnapshot{}))

	pulled := domain.PositionSnapshot{TotalQty: d("0.2"), TotalValue: d("20")}
	err := h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.2")}, pulled)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, "0.2", h.positions.Snapshot().TotalQty.String())

	entry, _ := domain.NewOrderRecord(8, "BTCUSDT", domain.SideSell, "0.1", "110")
	assert.ErrorIs(t, h.exec.RestoreSell(entry), ErrQueueFull)
	assert.True(t, h.orders.HasCanceledOrders())
}

func TestStop_CompensatesQueuedTasks(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	h := newHarness(t, client, Config{BuyWorkers: 1, SellWorkers: 1, QueueSize: 4})

	// 两个 worker 各被一个请求占住
	require.True(t, h.exec.ReserveBuyPrice(d("100")))
	require.NoError(t, h.exec.PlaceBuy(domain.OrderParams{Price: d("100"), Qty: d("0.05")}))
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.1")}, domain.PositionSnapshot{}))
	eventually(t, func() bool { b, s := h.exec.QueueLens(); return b == 0 && s == 0 })

	// 排队中的任务
	require.True(t, h.exec.ReserveBuyPrice(d("99")))
	require.NoError(t, h.exec.PlaceBuy(domain.OrderParams{Price: d("99"), Qty: d("0.06")}))
	pulled := domain.PositionSnapshot{TotalQty: d("0.2"), TotalValue: d("20")}
	require.NoError(t, h.exec.PlaceSell(domain.OrderParams{Price: d("101"), Qty: d("0.2")}, pulled))
	entry, _ := domain.NewOrderRecord(8, "BTCUSDT", domain.SideSell, "0.1", "110")
	require.NoError(t, h.exec.RestoreSell(entry))

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		stopped <- h.exec.Stop(ctx)
	}()
	eventually(t, func() bool { return h.exec.buyPool.ctx.Err() != nil && h.exec.sellPool.ctx.Err() != nil })
	close(client.block)
	require.NoError(t, <-stopped)

	assert.Len(t, client.placedOrders(), 2)
	assert.Equal(t, "0.2", h.positions.Snapshot().TotalQty.String())
	assert.True(t, h.orders.HasCanceledOrders())
	assert.Equal(t, 0, h.exec.InFlightBuys())
	b, s := h.exec.QueueLens()
	assert.Equal(t, 0, b)
	assert.Equal(t, 0, s)
}

func TestPaperClient(t *testing.T) {
	c := NewPaperClient()
	ctx := context.Background()
	res, err := c.PlaceLimitMaker(ctx, domain.SideBuy, "BTCUSDT", "0.1", "100")
	require.NoError(t, err)
	assert.Len(t, c.OpenOrders(), 1)

	_, err = c.CancelOrder(ctx, "BTCUSDT", res.OrderID)
	require.NoError(t, err)
	_, err = c.CancelOrder(ctx, "BTCUSDT", res.OrderID)
	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, -2011, apiErr.Code)
}

func TestPaperClientAccount(t *testing.T) {
	c := NewPaperClient()
	c.SetBalance("USDT", decimal.NewFromInt(500))
	c.SetBalance("BTC", decimal.Zero)

	snap, err := c.GetAccount(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Balances, 1)
	bal, ok := snap.Find("USDT")
	require.True(t, ok)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(500)))
}
