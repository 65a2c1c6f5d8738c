package core

import (
	"time"

	"github.com/betbot/spotmm/internal/domain"
)

// OrderView /status 中的挂单
type OrderView struct {
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	AvgBuyPrice string `json:"avgBuyPrice,omitempty"`
}

// Status 引擎状态快照（只读，供 /status 与 TUI 使用）
type Status struct {
	Symbol        string      `json:"symbol"`
	QuoteAsset    string      `json:"quoteAsset"`
	QuoteBalance  string      `json:"quoteBalance"`
	RateCount     int         `json:"rateCount"`
	RateLimit     int         `json:"rateLimit"`
	BestAskFloor  string      `json:"bestAskFloor"`
	AcquiredQty   string      `json:"acquiredQty"`
	AcquiredValue string      `json:"acquiredValue"`
	CanceledPool  int         `json:"canceledPool"`
	BuyOrders     []OrderView `json:"buyOrders"`
	SellOrders    []OrderView `json:"sellOrders"`
	GeneratedAt   time.Time   `json:"generatedAt"`
}

// Snapshot 汇总各资源当前状态（各字段分别读取，不保证彼此严格一致）。
func (c *TradingCore) Snapshot() Status {
	pos := c.positions.Snapshot()
	return Status{
		Symbol:        c.spec.Symbol,
		QuoteAsset:    c.quote.Asset(),
		QuoteBalance:  c.quote.Balance().String(),
		RateCount:     c.limiter.Count(),
		RateLimit:     c.limiter.Limit(),
		BestAskFloor:  c.strategy.BestAskFloor().String(),
		AcquiredQty:   pos.TotalQty.String(),
		AcquiredValue: pos.TotalValue.String(),
		CanceledPool:  c.orders.CanceledOrderCount(),
		BuyOrders:     views(c.orders.BuyOrders()),
		SellOrders:    views(c.orders.SellOrders()),
		GeneratedAt:   time.Now(),
	}
}

func views(recs []domain.OrderRecord) []OrderView {
	out := make([]OrderView, 0, len(recs))
	for _, r := range recs {
		v := OrderView{OrderID: r.OrderID, Side: string(r.Side), Price: r.Price, Qty: r.Qty}
		if r.AvgBuyPrice != nil {
			v.AvgBuyPrice = r.AvgBuyPrice.String()
		}
		out = append(out, v)
	}
	return out
}
