package core

import (
	"errors"

	"github.com/betbot/spotmm/internal/domain"
	"github.com/betbot/spotmm/internal/execution"
)

// OnDepth 处理一次深度快照。
//
// 顺序：更新卖一地板价 -> 卖单容量维护 -> 买单容量维护（先撤最旧再下新单）
// -> 计算候选买单并撤掉近似冲突的买单 -> 校验 -> 乐观扣减后异步下单。
func (c *TradingCore) OnDepth(depth *domain.DepthSnapshot) {
	if !depth.HasBids() {
		c.reject(RejectNoBids, "盘口无买单数据")
		return
	}
	c.recorder.ObserveDepth()

	c.strategy.UpdateBestAskPrice(depth)
	c.manageSellOrders()
	c.manageBuyOrders()

	params := c.strategy.CalculateBuyOrderParams(depth)
	if !params.IsInvalid() {
		if conflict, ok := c.orders.FindConflictingBuyOrder(params.Price); ok {
			log.Debugf("[CONFLICT-BUY] 近似价格买单 %s，撤单让位给 %s", conflict, params.Price)
			c.submit(c.actions.CancelBuy(conflict), "cancel-buy")
		}
	}

	if params.IsInvalid() {
		c.reject(RejectInvalidParams, "买墙不足或盘口异常")
		return
	}

	// 先占价格位再查重复：在途买单先登记再释放占位，所以占位成功后的查重不会漏掉同价单
	if !c.actions.ReserveBuyPrice(params.Price) {
		c.reject(RejectInFlight, "同价买单在途: %s", params.Price)
		return
	}

	notional := params.QuoteValue()
	reason := ""
	switch {
	case c.orders.HasBuyOrderAt(params.Price):
		reason = RejectDuplicatePrice
	case c.orders.ConflictsWithHoldings(params.Price):
		reason = RejectHoldingConflict
	case !c.limiter.HasCapacity():
		reason = RejectRateLimit
	case !c.quote.HasAtLeast(notional):
		reason = RejectBalance
	case !c.orders.HasOpenOrderCapacity():
		reason = RejectOpenOrders
	}
	if reason != "" {
		c.actions.ReleaseBuyPrice(params.Price)
		c.reject(reason, "买单 %s@%s | 频率: %d/%d | %s 余额: %s | 挂单: %d",
			params.Qty, params.Price, c.limiter.Count(), c.limiter.Limit(),
			c.quote.Asset(), c.quote.Balance(), c.orders.OpenOrderCount())
		return
	}

	c.limiter.OnPlaced()
	c.quote.Deduct(notional)
	if err := c.actions.PlaceBuy(params); err != nil {
		c.reject(RejectQueueFull, "买单未提交: %v", err)
	}
}

// manageSellOrders 卖单超上限撤最高价；低于下限且有已撤卖单时恢复最便宜的一个。
func (c *TradingCore) manageSellOrders() {
	if c.orders.IsSellOrdersFull() {
		if top, ok := c.orders.HighestPriceSellOrder(); ok {
			log.Debugf("[SELL-CAPACITY] 卖单已满 (%d)，撤最高价 %s", c.orders.SellOrderCount(), top)
			c.submit(c.actions.CancelSell(top), "cancel-sell")
		}
		return
	}
	if !c.orders.IsSellOrdersRestorable() || !c.orders.HasCanceledOrders() {
		return
	}
	if !c.limiter.HasCapacity() {
		return
	}
	entry, ok := c.orders.PollLowestPriceCanceledOrder()
	if !ok {
		return
	}
	c.limiter.OnPlaced()
	c.submit(c.actions.RestoreSell(entry), "restore-sell")
}

// manageBuyOrders 买单超上限时撤掉最旧的一个。
func (c *TradingCore) manageBuyOrders() {
	if !c.orders.IsBuyOrdersFull() {
		return
	}
	if oldest, ok := c.orders.OldestBuyOrder(); ok {
		log.Debugf("[BUY-CAPACITY] 买单已满 (%d)，撤最旧 %s", c.orders.BuyOrderCount(), oldest)
		c.submit(c.actions.CancelBuy(oldest), "cancel-buy")
	}
}

func (c *TradingCore) submit(err error, what string) {
	if err == nil {
		return
	}
	if errors.Is(err, execution.ErrQueueFull) {
		c.recorder.ObserveReject(RejectQueueFull)
	}
	log.Warnf("⚠️ [%s] 任务未提交: %v", what, err)
}
