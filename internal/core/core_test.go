package core

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/execution"
	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/oms"
	"github.com/betbot/spotmm/internal/strategy"
	"github.com/betbot/spotmm/pkg/marketspec"
	"github.com/betbot/spotmm/pkg/ratelimit"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type sellCall struct {
	params domain.OrderParams
	pulled domain.PositionSnapshot
}

// fakeActions 同步记录动作，不做任何 IO。
type fakeActions struct {
	mu        sync.Mutex
	reserved  map[string]bool
	buys      []domain.OrderParams
	sells     []sellCall
	cancelBuy []int64
	cancelSel []int64
	restores  []int64
	placeErr  error
}

func newFakeActions() *fakeActions {
	return &fakeActions{reserved: map[string]bool{}}
}

func (f *fakeActions) ReserveBuyPrice(p decimal.Decimal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := p.String()
	if f.reserved[k] {
		return false
	}
	f.reserved[k] = true
	return true
}

func (f *fakeActions) ReleaseBuyPrice(p decimal.Decimal) {
	f.mu.Lock()
	delete(f.reserved, p.String())
	f.mu.Unlock()
}

func (f *fakeActions) PlaceBuy(p domain.OrderParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys = append(f.buys, p)
	return f.placeErr
}

func (f *fakeActions) CancelBuy(r domain.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelBuy = append(f.cancelBuy, r.OrderID)
	return nil
}

func (f *fakeActions) PlaceSell(p domain.OrderParams, pulled domain.PositionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, sellCall{p, pulled})
	return nil
}

func (f *fakeActions) RestoreSell(r domain.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restores = append(f.restores, r.OrderID)
	return nil
}

func (f *fakeActions) CancelSell(r domain.OrderRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelSel = append(f.cancelSel, r.OrderID)
	return nil
}

type countingRecorder struct {
	mu      sync.Mutex
	depths  int
	rejects map[string]int
	fills   int
}

func (r *countingRecorder) ObserveDepth() { r.mu.Lock(); r.depths++; r.mu.Unlock() }
func (r *countingRecorder) ObserveReject(reason string) {
	r.mu.Lock()
	r.rejects[reason]++
	r.mu.Unlock()
}
func (r *countingRecorder) ObserveFill(*domain.ExecutionReport) {
	r.mu.Lock()
	r.fills++
	r.mu.Unlock()
}

type fixture struct {
	core      *TradingCore
	actions   *fakeActions
	orders    *oms.OrderManager
	quote     *ledger.QuoteAssetManager
	positions *ledger.PositionManager
	limiter   *ratelimit.OrderRateLimiter
	strategy  *strategy.TradingStrategy
	rec       *countingRecorder
}

func newFixture(t *testing.T, omsCfg oms.Config) *fixture {
	t.Helper()
	spec, err := marketspec.New("BTCUSDT", "BTC", "USDT", d("0.01"), d("0.00001"))
	require.NoError(t, err)
	orders := oms.NewOrderManager(omsCfg)
	t.Cleanup(orders.Close)
	f := &fixture{
		actions:   newFakeActions(),
		orders:    orders,
		quote:     ledger.NewQuoteAssetManager("USDT"),
		positions: ledger.NewPositionManager(spec, d("5")),
		limiter:   ratelimit.NewOrderRateLimiter(ratelimit.DefaultOrderLimiterConfig()),
		strategy: strategy.New(spec, strategy.Config{
			MinOrderNotional:    d("5"),
			BuyWallThresholdUSD: d("10000"),
			TargetMultiplier:    d("1.01"),
		}),
		rec: &countingRecorder{rejects: map[string]int{}},
	}
	f.core, err = New(Deps{
		Spec: spec, Strategy: f.strategy, Orders: orders, Quote: f.quote,
		Positions: f.positions, Limiter: f.limiter, Actions: f.actions, Recorder: f.rec,
	})
	require.NoError(t, err)
	f.quote.SyncFrom(d("1000"))
	return f
}

// 买墙 100.00 x 150 (15000 USDT) -> 候选买单 100.01 x 0.05
func wallDepth() *domain.DepthSnapshot {
	return &domain.DepthSnapshot{
		Bids: []domain.PriceLevel{{"100.00", "150"}, {"99.90", "1"}},
		Asks: []domain.PriceLevel{{"100.50", "2"}},
	}
}

func buyRec(t *testing.T, id int64, price string) domain.OrderRecord {
	r, err := domain.NewOrderRecord(id, "BTCUSDT", domain.SideBuy, "0.05", price)
	require.NoError(t, err)
	return r
}

func sellRec(t *testing.T, id int64, price, avg string) domain.OrderRecord {
	r, err := domain.NewOrderRecord(id, "BTCUSDT", domain.SideSell, "0.05", price)
	require.NoError(t, err)
	return r.WithAvgBuyPrice(d(avg))
}

func TestOnDepth_PlacesBuyWithOptimisticAccounting(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.core.OnDepth(wallDepth())

	require.Len(t, f.actions.buys, 1)
	assert.Equal(t, "100.01", f.actions.buys[0].Price.String())
	assert.Equal(t, "0.05", f.actions.buys[0].Qty.String())
	assert.Equal(t, 1, f.limiter.Count())
	assert.Equal(t, "994.9995", f.quote.Balance().String())
	assert.Equal(t, "100.49", f.strategy.BestAskFloor().String())
	assert.Equal(t, 1, f.rec.depths)
}

func TestOnDepth_NoBidsRejected(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.core.OnDepth(&domain.DepthSnapshot{Asks: []domain.PriceLevel{{"101", "1"}}})
	f.core.OnDepth(nil)
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 2, f.rec.rejects[RejectNoBids])
	assert.True(t, f.strategy.BestAskFloor().IsZero(), "无买盘时不更新地板价")
}

func TestOnDepth_WeakWallRejected(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.core.OnDepth(&domain.DepthSnapshot{Bids: []domain.PriceLevel{{"100", "1"}}})
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectInvalidParams])
}

func TestOnDepth_DuplicatePriceRejectedAndReleased(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddBuyOrder(buyRec(t, 1, "100.01"))

	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectDuplicatePrice])
	assert.Empty(t, f.actions.reserved)
	assert.Equal(t, 0, f.limiter.Count())
	assert.Equal(t, "1000", f.quote.Balance().String())
}

func TestOnDepth_CancelsNearDuplicateBuy(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddBuyOrder(buyRec(t, 1, "100.05"))

	f.core.OnDepth(wallDepth())
	assert.Equal(t, []int64{1}, f.actions.cancelBuy)
	require.Len(t, f.actions.buys, 1)
}

func TestOnDepth_HoldingConflictRejected(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddSellOrder(sellRec(t, 2, "101.02", "100.02"))

	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectHoldingConflict])
}

func TestOnDepth_RateLimitRejected(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.limiter.SyncFromServer(95)
	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectRateLimit])
	assert.Empty(t, f.actions.reserved)
}

func TestOnDepth_BalanceRejected(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.quote.SyncFrom(d("5"))
	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectBalance])
}

func TestOnDepth_OpenOrderCapacityRejected(t *testing.T) {
	cfg := oms.DefaultConfig()
	cfg.MaxOpenOrders = 3
	cfg.OpenOrdersMargin = 1
	f := newFixture(t, cfg)
	f.orders.AddSellOrder(sellRec(t, 1, "120", "118"))
	f.orders.AddSellOrder(sellRec(t, 2, "121", "119"))

	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.buys)
	assert.Equal(t, 1, f.rec.rejects[RejectOpenOrders])
}

func TestOnDepth_EvictsOldestBuyBeforePlacing(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	for i, p := range []string{"99.00", "98.00", "97.00", "96.00"} {
		f.orders.AddBuyOrder(buyRec(t, int64(10+i), p))
	}
	f.core.OnDepth(wallDepth())
	assert.Equal(t, []int64{10}, f.actions.cancelBuy)
	assert.Len(t, f.actions.buys, 1)
}

func TestOnDepth_SellCapacityMaintenance(t *testing.T) {
	cfg := oms.DefaultConfig()
	cfg.SellOrdersLimit = 2
	cfg.SellOrdersFloor = 2
	f := newFixture(t, cfg)

	// 超上限：撤最高价
	f.orders.AddSellOrder(sellRec(t, 1, "130", "128"))
	f.orders.AddSellOrder(sellRec(t, 2, "150", "148"))
	f.orders.AddSellOrder(sellRec(t, 3, "140", "138"))
	f.core.OnDepth(wallDepth())
	assert.Equal(t, []int64{2}, f.actions.cancelSel)
	assert.Empty(t, f.actions.restores)

	// 低于下限且池中有单：恢复最便宜的
	g := newFixture(t, cfg)
	g.orders.AddCanceledOrder(sellRec(t, 7, "131", "129"))
	g.orders.AddCanceledOrder(sellRec(t, 8, "125", "123"))
	g.core.OnDepth(wallDepth())
	assert.Equal(t, []int64{8}, g.actions.restores)
	assert.Equal(t, 1, g.orders.CanceledOrderCount())
	// 恢复 + 新买单各计一次
	assert.Equal(t, 2, g.limiter.Count())
}

func TestOnDepth_RestoreSkippedWithoutRateBudget(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddCanceledOrder(sellRec(t, 7, "131", "129"))
	f.limiter.SyncFromServer(99)
	f.core.OnDepth(wallDepth())
	assert.Empty(t, f.actions.restores)
	assert.True(t, f.orders.HasCanceledOrders())
}

func TestOnDepth_ConcurrentSamePriceOnlyOneBuy(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.core.OnDepth(wallDepth())
		}()
	}
	wg.Wait()
	f.actions.mu.Lock()
	defer f.actions.mu.Unlock()
	assert.Len(t, f.actions.buys, 1)
}

func report(side domain.Side, exec domain.ExecutionType, status domain.OrderStatus, id int64) *domain.ExecutionReport {
	return &domain.ExecutionReport{
		Symbol: "BTCUSDT", Side: side, ExecutionType: exec, Status: status, OrderID: id,
		Price: "100.01", Qty: "0.05000",
	}
}

func TestOnExecutionReport_NewRegistersIdempotently(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.core.OnExecutionReport(report(domain.SideBuy, domain.ExecNew, domain.StatusNew, 1))
	f.core.OnExecutionReport(report(domain.SideBuy, domain.ExecNew, domain.StatusNew, 1))
	assert.Equal(t, 1, f.orders.BuyOrderCount())

	r := report(domain.SideSell, domain.ExecNew, domain.StatusNew, 2)
	r.Price = "101.00"
	f.core.OnExecutionReport(r)
	sells := f.orders.SellOrders()
	require.Len(t, sells, 1)
	assert.Equal(t, "100", sells[0].AvgBuyPrice.String())

	other := report(domain.SideBuy, domain.ExecNew, domain.StatusNew, 3)
	other.Symbol = "ETHUSDT"
	f.core.OnExecutionReport(other)
	assert.False(t, f.orders.ContainsBuyOrder(3))
}

func TestOnExecutionReport_BuyFillTriggersSell(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddBuyOrder(buyRec(t, 1, "100.00"))

	partial := report(domain.SideBuy, domain.ExecTrade, domain.StatusPartiallyFilled, 1)
	partial.LastExecutedQty = d("0.02")
	partial.LastExecutedPrice = d("100")
	partial.LastQuoteQty = d("2")
	f.core.OnExecutionReport(partial)
	assert.True(t, f.orders.ContainsBuyOrder(1))
	assert.Empty(t, f.actions.sells)

	filled := report(domain.SideBuy, domain.ExecTrade, domain.StatusFilled, 1)
	filled.LastExecutedQty = d("0.03")
	filled.LastExecutedPrice = d("100")
	filled.LastQuoteQty = d("3")
	f.limiter.SyncFromServer(10)
	f.core.OnExecutionReport(filled)

	assert.False(t, f.orders.ContainsBuyOrder(1))
	require.Len(t, f.actions.sells, 1)
	call := f.actions.sells[0]
	assert.Equal(t, "101", call.params.Price.String())
	assert.Equal(t, "0.05", call.params.Qty.String())
	assert.Equal(t, "5", call.pulled.TotalValue.String())
	assert.True(t, f.positions.Snapshot().IsEmpty())
	// 成交回补 5，再为卖单 +1
	assert.Equal(t, 6, f.limiter.Count())
	assert.Equal(t, 2, f.rec.fills)
}

func TestOnExecutionReport_SellFillAndCancel(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddSellOrder(sellRec(t, 5, "101", "100"))
	f.orders.AddSellOrder(sellRec(t, 6, "102", "101"))
	f.orders.AddBuyOrder(buyRec(t, 7, "99"))

	f.core.OnExecutionReport(report(domain.SideSell, domain.ExecTrade, domain.StatusFilled, 5))
	assert.False(t, f.orders.ContainsSellOrder(5))

	f.core.OnExecutionReport(report(domain.SideSell, domain.ExecCanceled, domain.StatusCanceled, 6))
	assert.False(t, f.orders.ContainsSellOrder(6))
	assert.False(t, f.orders.HasCanceledOrders(), "交易所侧撤单是终态")

	f.core.OnExecutionReport(report(domain.SideBuy, domain.ExecExpired, domain.StatusExpired, 7))
	assert.False(t, f.orders.ContainsBuyOrder(7))
}

func TestOnExecutionReport_TradeBeforePlacementResponse(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	filled := report(domain.SideBuy, domain.ExecTrade, domain.StatusFilled, 42)
	filled.LastExecutedQty = d("0.01")
	filled.LastQuoteQty = d("1")
	f.core.OnExecutionReport(filled)

	// 迟到的下单响应不能把已成交订单登记回去
	assert.False(t, f.orders.AddBuyOrder(buyRec(t, 42, "100.01")))
	assert.Equal(t, 0, f.orders.BuyOrderCount())
}

func TestBalanceEvents(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.core.OnAccountSnapshot(&domain.AccountSnapshot{Balances: []domain.AssetBalance{
		{Asset: "BTC", Free: d("1")},
		{Asset: "USDT", Free: d("250.5"), Locked: d("10")},
	}})
	assert.Equal(t, "250.5", f.quote.Balance().String())

	f.core.OnBalanceDelta(&domain.BalanceDelta{Asset: "USDT", Delta: d("-50")})
	f.core.OnBalanceDelta(&domain.BalanceDelta{Asset: "BTC", Delta: d("5")})
	assert.Equal(t, "200.5", f.quote.Balance().String())
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	f.orders.AddBuyOrder(buyRec(t, 1, "100"))
	f.orders.AddSellOrder(sellRec(t, 2, "101", "100"))
	s := f.core.Snapshot()
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, "1000", s.QuoteBalance)
	require.Len(t, s.BuyOrders, 1)
	require.Len(t, s.SellOrders, 1)
	assert.Equal(t, "100", s.SellOrders[0].AvgBuyPrice)
}

// 使用真实执行器 + 纸交易客户端，验证并发同价只留下一个买单。
func TestOnDepth_ConcurrentSamePriceWithExecutor(t *testing.T) {
	f := newFixture(t, oms.DefaultConfig())
	exec, err := execution.NewOrderExecutor(execution.DefaultConfig(), execution.Deps{
		Client: execution.NewPaperClient(), Spec: f.core.spec, Orders: f.orders,
		Positions: f.positions, Limiter: f.limiter, Strategy: f.strategy,
	})
	require.NoError(t, err)
	f.core.actions = exec
	ctx := t.Context()
	exec.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.core.OnDepth(wallDepth())
		}()
	}
	wg.Wait()
	require.Eventually(t, func() bool { return exec.InFlightBuys() == 0 && f.orders.BuyOrderCount() == 1 },
		2*time.Second, 5*time.Millisecond)
	// 全部处理完之后再来一次行情，同价仍被拒绝
	f.core.OnDepth(wallDepth())
	assert.Equal(t, 1, f.orders.BuyOrderCount())
	assert.True(t, f.orders.HasBuyOrderAt(d("100.01")))
}
