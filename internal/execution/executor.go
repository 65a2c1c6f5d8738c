package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/ledger"
	"github.com/betbot/spotmm/internal/oms"
	"github.com/betbot/spotmm/internal/strategy"
	"github.com/betbot/spotmm/pkg/marketspec"
	"github.com/betbot/spotmm/pkg/ratelimit"
)

var log = logrus.WithField("component", "executor")

// Config 工作池参数
type Config struct {
	BuyWorkers  int
	SellWorkers int
	QueueSize   int
	TaskTimeout time.Duration // 0 表示不设超时（由 HTTP 客户端超时兜底）
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{BuyWorkers: 4, SellWorkers: 4, QueueSize: 256}
}

// Deps 执行器依赖
type Deps struct {
	Client    TradingClient
	Spec      marketspec.SymbolSpec
	Orders    *oms.OrderManager
	Positions *ledger.PositionManager
	Limiter   *ratelimit.OrderRateLimiter
	Strategy  *strategy.TradingStrategy
	Observer  Observer
}

// OrderExecutor 异步执行下单/撤单并做失败补偿。
//
// 买侧与卖侧各一个工作池，慢撤单不会饿死买单。任务内部的错误只记录，
// 不会回传到事件分发路径。
type OrderExecutor struct {
	client    TradingClient
	spec      marketspec.SymbolSpec
	orders    *oms.OrderManager
	positions *ledger.PositionManager
	limiter   *ratelimit.OrderRateLimiter
	strategy  *strategy.TradingStrategy
	observer  Observer

	buyPool  *WorkerPool
	sellPool *WorkerPool
	reserved *buyReservations
	timeout  time.Duration
}

// NewOrderExecutor 创建执行器
func NewOrderExecutor(cfg Config, deps Deps) (*OrderExecutor, error) {
	if deps.Client == nil || deps.Orders == nil || deps.Positions == nil || deps.Limiter == nil || deps.Strategy == nil {
		return nil, fmt.Errorf("order executor: missing dependency")
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &OrderExecutor{
		client:    deps.Client,
		spec:      deps.Spec,
		orders:    deps.Orders,
		positions: deps.Positions,
		limiter:   deps.Limiter,
		strategy:  deps.Strategy,
		observer:  obs,
		buyPool:   NewWorkerPool("buy", cfg.QueueSize, cfg.BuyWorkers),
		sellPool:  NewWorkerPool("sell", cfg.QueueSize, cfg.SellWorkers),
		reserved:  newBuyReservations(),
		timeout:   cfg.TaskTimeout,
	}, nil
}

// Start 启动两个工作池
func (e *OrderExecutor) Start(ctx context.Context) {
	e.buyPool.Start(ctx)
	e.sellPool.Start(ctx)
}

// Stop 停止两个工作池。尚未执行的任务不再发出请求，只做补偿：
// 释放买价占位、卖单持仓放回、待恢复卖单放回已撤池。
func (e *OrderExecutor) Stop(ctx context.Context) error {
	errBuy := e.buyPool.Stop(ctx)
	errSell := e.sellPool.Stop(ctx)
	if errBuy != nil {
		return errBuy
	}
	return errSell
}

// QueueLens 买/卖队列排队数
func (e *OrderExecutor) QueueLens() (buy, sell int) {
	return e.buyPool.QueueLen(), e.sellPool.QueueLen()
}

// ReserveBuyPrice 为即将下的买单价格占位；同价已有在途买单时返回 false。
func (e *OrderExecutor) ReserveBuyPrice(price decimal.Decimal) bool {
	return e.reserved.reserve(price)
}

// ReleaseBuyPrice 释放价格占位（下单被拒绝前调用）。
func (e *OrderExecutor) ReleaseBuyPrice(price decimal.Decimal) {
	e.reserved.release(price)
}

// InFlightBuys 在途买单数
func (e *OrderExecutor) InFlightBuys() int {
	return e.reserved.len()
}

// ---------------------------------------------------------------------------
// 买单
// ---------------------------------------------------------------------------

// PlaceBuy 异步下买单。价格占位（如有）在任务结束时释放。
func (e *OrderExecutor) PlaceBuy(params domain.OrderParams) error {
	price := e.spec.FormatPrice(params.Price)
	qty := e.spec.FormatQty(params.Qty)
	ok := e.buyPool.Submit(Task{
		Name:    "place-buy@" + price,
		Timeout: e.timeout,
		Do: func(ctx context.Context) {
			defer e.ReleaseBuyPrice(params.Price)
			e.placeBuy(ctx, price, qty)
		},
		OnDrop: func() { e.ReleaseBuyPrice(params.Price) },
	})
	if !ok {
		e.ReleaseBuyPrice(params.Price)
		e.observe(ActionEvent{Action: ActionPlaceBuy, Side: domain.SideBuy, Price: price, Qty: qty, Result: ResultQueueFull, Err: ErrQueueFull})
		return ErrQueueFull
	}
	return nil
}

func (e *OrderExecutor) placeBuy(ctx context.Context, price, qty string) {
	start := time.Now()
	res, err := e.client.PlaceLimitMaker(ctx, domain.SideBuy, e.spec.Symbol, qty, price)
	ev := ActionEvent{Action: ActionPlaceBuy, Side: domain.SideBuy, Price: price, Qty: qty, Latency: time.Since(start)}
	if err != nil {
		log.Errorf("[NEW-BUY] 买单请求失败 (%s) | 价格: %s | 错误: %v", classify(err), price, err)
		e.observeErr(ev, err)
		return
	}
	e.syncRate(res.OrderCount)

	rec, err := domain.NewOrderRecord(res.OrderID, res.Symbol, domain.SideBuy, qty, price)
	if err != nil {
		log.Errorf("[NEW-BUY] 响应无法登记: %v", err)
		e.observeErr(ev, err)
		return
	}
	e.orders.AddBuyOrder(rec)
	ev.OrderID = rec.OrderID
	e.observe(withResult(ev, ResultOK))
	log.Debugf("[NEW-BUY] 买单请求成功 | 订单号: %d", rec.OrderID)
}

// CancelBuy 异步撤买单。
func (e *OrderExecutor) CancelBuy(rec domain.OrderRecord) error {
	ok := e.buyPool.Submit(Task{
		Name:    fmt.Sprintf("cancel-buy#%d", rec.OrderID),
		Timeout: e.timeout,
		Do:      func(ctx context.Context) { e.cancelBuy(ctx, rec) },
	})
	if !ok {
		e.observe(ActionEvent{Action: ActionCancelBuy, Side: domain.SideBuy, OrderID: rec.OrderID, Result: ResultQueueFull, Err: ErrQueueFull})
		return ErrQueueFull
	}
	return nil
}

func (e *OrderExecutor) cancelBuy(ctx context.Context, rec domain.OrderRecord) {
	ev := ActionEvent{Action: ActionCancelBuy, Side: domain.SideBuy, OrderID: rec.OrderID, Price: rec.Price, Qty: rec.Qty}
	if !e.orders.ContainsBuyOrder(rec.OrderID) {
		log.Debugf("[CANCEL-BUY] 买单已成交或已撤销 | 订单号: %d", rec.OrderID)
		e.observe(withResult(ev, ResultSkipped))
		return
	}
	e.orders.RemoveBuyOrder(rec.OrderID)

	start := time.Now()
	res, err := e.client.CancelOrder(ctx, rec.Symbol, rec.OrderID)
	ev.Latency = time.Since(start)
	if err != nil {
		log.Errorf("[CANCEL-BUY] 撤买单失败 (%s) | 订单号: %d | 错误: %v", classify(err), rec.OrderID, err)
		e.observeErr(ev, err)
		return
	}
	e.syncRate(res.OrderCount)
	e.observe(withResult(ev, ResultOK))
	log.Debugf("[CANCEL-BUY] 撤买单成功 | 订单号: %d", rec.OrderID)
}

// ---------------------------------------------------------------------------
// 卖单
// ---------------------------------------------------------------------------

// PlaceSell 异步下卖单；失败（包括队列满）时把 pulled 加回持仓。
func (e *OrderExecutor) PlaceSell(params domain.OrderParams, pulled domain.PositionSnapshot) error {
	price := e.spec.FormatPrice(params.Price)
	qty := e.spec.FormatQty(params.Qty)
	ok := e.sellPool.Submit(Task{
		Name:    "place-sell@" + price,
		Timeout: e.timeout,
		Do:      func(ctx context.Context) { e.placeSell(ctx, price, qty, pulled) },
		OnDrop: func() {
			e.positions.RestoreAcquired(pulled)
			log.Warnf("[NEW-SELL] 停机丢弃卖单任务，持仓已恢复 | 价格: %s | 数量: %s", price, qty)
		},
	})
	if !ok {
		e.positions.RestoreAcquired(pulled)
		e.observe(ActionEvent{Action: ActionPlaceSell, Side: domain.SideSell, Price: price, Qty: qty, Result: ResultQueueFull, Err: ErrQueueFull})
		return ErrQueueFull
	}
	return nil
}

func (e *OrderExecutor) placeSell(ctx context.Context, price, qty string, pulled domain.PositionSnapshot) {
	start := time.Now()
	res, err := e.client.PlaceLimitMaker(ctx, domain.SideSell, e.spec.Symbol, qty, price)
	ev := ActionEvent{Action: ActionPlaceSell, Side: domain.SideSell, Price: price, Qty: qty, Latency: time.Since(start)}
	if err != nil {
		e.positions.RestoreAcquired(pulled)
		log.Errorf("[NEW-SELL] 卖单请求失败 (%s)，持仓已恢复 | 价格: %s | 错误: %v", classify(err), price, err)
		e.observeErr(ev, err)
		return
	}
	e.syncRate(res.OrderCount)

	rec, err := domain.NewOrderRecord(res.OrderID, res.Symbol, domain.SideSell, qty, price)
	if err != nil {
		log.Errorf("[NEW-SELL] 响应无法登记: %v", err)
		e.observeErr(ev, err)
		return
	}
	rec = rec.WithAvgBuyPrice(e.spec.ScalePrice(pulled.AvgPrice()))
	e.orders.AddSellOrder(rec)
	ev.OrderID = rec.OrderID
	e.observe(withResult(ev, ResultOK))
	log.Debugf("[NEW-SELL] 卖单请求成功 | 订单号: %d | 成本: %s", rec.OrderID, rec.AvgBuyPrice)
}

// RestoreSell 异步按原成本重新挂出一个已撤卖单；失败（包括队列满）时放回已撤池。
func (e *OrderExecutor) RestoreSell(entry domain.OrderRecord) error {
	ok := e.sellPool.Submit(Task{
		Name:    fmt.Sprintf("restore-sell#%d", entry.OrderID),
		Timeout: e.timeout,
		Do:      func(ctx context.Context) { e.restoreSell(ctx, entry) },
		OnDrop:  func() { e.orders.AddCanceledOrder(entry) },
	})
	if !ok {
		e.orders.AddCanceledOrder(entry)
		e.observe(ActionEvent{Action: ActionRestoreSell, Side: domain.SideSell, PrevID: entry.OrderID, Result: ResultQueueFull, Err: ErrQueueFull})
		return ErrQueueFull
	}
	return nil
}

func (e *OrderExecutor) restoreSell(ctx context.Context, entry domain.OrderRecord) {
	avg := e.strategy.ImpliedAvgBuyPrice(entry.NumericPrice)
	if entry.AvgBuyPrice != nil {
		avg = *entry.AvgBuyPrice
	}
	params := e.strategy.CalculateSellOrderParamsFor(entry.NumericQty, avg)
	ev := ActionEvent{Action: ActionRestoreSell, Side: domain.SideSell, PrevID: entry.OrderID}
	if params.IsInvalid() {
		log.Warnf("[RESTORE-SELL] 参数无效，丢弃 | 原订单号: %d | 数量: %s", entry.OrderID, entry.Qty)
		e.observe(withResult(ev, ResultSkipped))
		return
	}
	price := e.spec.FormatPrice(params.Price)
	qty := e.spec.FormatQty(params.Qty)
	ev.Price, ev.Qty = price, qty

	start := time.Now()
	res, err := e.client.PlaceLimitMaker(ctx, domain.SideSell, e.spec.Symbol, qty, price)
	ev.Latency = time.Since(start)
	if err != nil {
		e.orders.AddCanceledOrder(entry)
		log.Errorf("[RESTORE-SELL] 恢复卖单失败 (%s)，已放回池 | 原订单号: %d | 错误: %v", classify(err), entry.OrderID, err)
		e.observeErr(ev, err)
		return
	}
	e.syncRate(res.OrderCount)

	rec, err := domain.NewOrderRecord(res.OrderID, res.Symbol, domain.SideSell, qty, price)
	if err != nil {
		log.Errorf("[RESTORE-SELL] 响应无法登记: %v", err)
		e.observeErr(ev, err)
		return
	}
	rec = rec.WithAvgBuyPrice(avg)
	e.orders.AddSellOrder(rec)
	ev.OrderID = rec.OrderID
	e.observe(withResult(ev, ResultOK))
	log.Infof("[RESTORE-SELL] 卖单恢复成功 | 原订单号: %d -> 新订单号: %d", entry.OrderID, rec.OrderID)
}

// CancelSell 异步撤卖单腾出容量；成功后放入已撤池等待恢复。
func (e *OrderExecutor) CancelSell(rec domain.OrderRecord) error {
	ok := e.sellPool.Submit(Task{
		Name:    fmt.Sprintf("cancel-sell#%d", rec.OrderID),
		Timeout: e.timeout,
		Do:      func(ctx context.Context) { e.cancelSell(ctx, rec) },
	})
	if !ok {
		e.observe(ActionEvent{Action: ActionCancelSell, Side: domain.SideSell, OrderID: rec.OrderID, Result: ResultQueueFull, Err: ErrQueueFull})
		return ErrQueueFull
	}
	return nil
}

func (e *OrderExecutor) cancelSell(ctx context.Context, rec domain.OrderRecord) {
	ev := ActionEvent{Action: ActionCancelSell, Side: domain.SideSell, OrderID: rec.OrderID, Price: rec.Price, Qty: rec.Qty}
	if !e.orders.ContainsSellOrder(rec.OrderID) {
		log.Debugf("[CANCEL-SELL] 卖单已成交或已撤销 | 订单号: %d", rec.OrderID)
		e.observe(withResult(ev, ResultSkipped))
		return
	}
	e.orders.RemoveSellOrder(rec.OrderID)

	start := time.Now()
	res, err := e.client.CancelOrder(ctx, rec.Symbol, rec.OrderID)
	ev.Latency = time.Since(start)
	if err != nil {
		log.Errorf("[CANCEL-SELL] 撤卖单失败 (%s) | 订单号: %d | 错误: %v", classify(err), rec.OrderID, err)
		e.observeErr(ev, err)
		return
	}
	e.syncRate(res.OrderCount)
	e.orders.AddCanceledOrder(rec)
	e.observe(withResult(ev, ResultOK))
	log.Debugf("[CANCEL-SELL] 撤卖单成功，已入池 | 订单号: %d", rec.OrderID)
}

// ---------------------------------------------------------------------------

func (e *OrderExecutor) syncRate(header string) {
	if header == "" {
		return
	}
	e.limiter.SyncFromHeader(header)
}

func (e *OrderExecutor) observe(ev ActionEvent) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	e.observer.ObserveAction(ev)
}

func (e *OrderExecutor) observeErr(ev ActionEvent, err error) {
	ev.Err = err
	e.observe(withResult(ev, classify(err)))
}

func withResult(ev ActionEvent, result string) ActionEvent {
	ev.Result = result
	return ev
}
