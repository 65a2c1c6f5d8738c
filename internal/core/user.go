package core

import (
	"github.com/betbot/spotmm/internal/domain"
)

// OnExecutionReport 处理订单执行回报（按 执行类型 x 方向 分派）。
func (c *TradingCore) OnExecutionReport(r *domain.ExecutionReport) {
	if r == nil || r.Symbol != c.spec.Symbol {
		return
	}
	switch r.ExecutionType {
	case domain.ExecNew:
		c.handleNew(r)
	case domain.ExecTrade:
		c.recorder.ObserveFill(r)
		c.handleTrade(r)
	case domain.ExecCanceled, domain.ExecExpired:
		c.handleCanceled(r)
	default:
		log.Infof("[ORDER-UPDATE] 忽略执行类型: %s | 订单号: %d", r.ExecutionType, r.OrderID)
	}
}

func (c *TradingCore) handleNew(r *domain.ExecutionReport) {
	rec, err := domain.NewOrderRecord(r.OrderID, r.Symbol, r.Side, r.Qty, r.Price)
	if err != nil {
		log.Warnf("[ORDER-UPDATE] NEW 回报无法解析: %v", err)
		return
	}
	switch r.Side {
	case domain.SideBuy:
		if c.orders.AddBuyOrder(rec) {
			log.Infof("🟢 [BUY] 新买单 | 价格: %s | 数量: %s | 订单号: %d",
				c.spec.FormatPrice(rec.NumericPrice), c.spec.FormatQty(rec.NumericQty), rec.OrderID)
		}
	case domain.SideSell:
		rec = rec.WithAvgBuyPrice(c.strategy.ImpliedAvgBuyPrice(rec.NumericPrice))
		if c.orders.AddSellOrder(rec) {
			log.Infof("🔴 [SELL] 新卖单 | 价格: %s | 数量: %s | 订单号: %d",
				c.spec.FormatPrice(rec.NumericPrice), c.spec.FormatQty(rec.NumericQty), rec.OrderID)
		}
	}
}

func (c *TradingCore) handleTrade(r *domain.ExecutionReport) {
	switch r.Side {
	case domain.SideBuy:
		c.positions.AddAcquired(r.LastExecutedQty, r.FillQuoteValue())
		if r.IsFilled() {
			c.orders.RemoveBuyOrder(r.OrderID)
			c.limiter.OnFilled()
		}
		log.Infof("🟩 [BUY] 买单成交 | 价格: %s | 数量: %s | 订单号: %d",
			c.spec.FormatPrice(r.LastExecutedPrice), c.spec.FormatQty(r.LastExecutedQty), r.OrderID)
		c.sellAcquired()
	case domain.SideSell:
		if r.IsFilled() {
			c.orders.RemoveSellOrder(r.OrderID)
			c.limiter.OnFilled()
		}
		log.Infof("🟥 [SELL] 卖单成交 | 价格: %s | 数量: %s | 订单号: %d",
			c.spec.FormatPrice(r.LastExecutedPrice), c.spec.FormatQty(r.LastExecutedQty), r.OrderID)
	}
}

// sellAcquired 累计持仓达到最小金额时整体取出并挂卖单。
func (c *TradingCore) sellAcquired() {
	if !c.positions.IsSellable() {
		return
	}
	pulled := c.positions.PullAcquired()
	params := c.strategy.CalculateSellOrderParams(pulled)
	if params.IsInvalid() {
		c.positions.RestoreAcquired(pulled)
		return
	}
	c.limiter.OnPlaced()
	c.submit(c.actions.PlaceSell(params, pulled), "place-sell")
}

// handleCanceled 交易所侧撤单/过期是终态，不放回已撤池。
func (c *TradingCore) handleCanceled(r *domain.ExecutionReport) {
	switch r.Side {
	case domain.SideBuy:
		c.orders.RemoveBuyOrder(r.OrderID)
		log.Infof("🟧 [BUY] 买单撤销 (%s) | 订单号: %d", r.ExecutionType, r.OrderID)
	case domain.SideSell:
		c.orders.RemoveSellOrder(r.OrderID)
		log.Infof("🟧 [SELL] 卖单撤销 (%s) | 订单号: %d", r.ExecutionType, r.OrderID)
	}
}

// OnAccountSnapshot 用账户快照里的报价资产可用余额覆盖本地余额。
func (c *TradingCore) OnAccountSnapshot(s *domain.AccountSnapshot) {
	if s == nil {
		return
	}
	if b, ok := s.Find(c.quote.Asset()); ok {
		c.quote.SyncFrom(b.Free)
	}
}

// OnBalanceDelta 报价资产余额增量。
func (c *TradingCore) OnBalanceDelta(d *domain.BalanceDelta) {
	if d == nil || d.Asset != c.quote.Asset() {
		return
	}
	c.quote.Add(d.Delta)
}
