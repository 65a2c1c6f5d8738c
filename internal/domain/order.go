package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 订单方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderRecord 本地已知的挂单（交易所分配 id 之后才会出现）。
// 同一 id 任一时刻最多出现在 open-buy / open-sell 之一。
type OrderRecord struct {
	OrderID      int64
	Symbol       string
	Side         Side
	Qty          string // 交易所回显的原始字符串
	Price        string
	NumericQty   decimal.Decimal
	NumericPrice decimal.Decimal
	AvgBuyPrice  *decimal.Decimal // 仅 SELL：该卖单对应的持仓成本
	CreatedAt    time.Time
}

// NewOrderRecord 解析 qty/price 字符串生成记录。
func NewOrderRecord(orderID int64, symbol string, side Side, qty, price string) (OrderRecord, error) {
	if orderID <= 0 {
		return OrderRecord{}, fmt.Errorf("invalid order id %d", orderID)
	}
	if !side.Valid() {
		return OrderRecord{}, fmt.Errorf("invalid side %q", side)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return OrderRecord{}, fmt.Errorf("parse qty %q: %w", qty, err)
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return OrderRecord{}, fmt.Errorf("parse price %q: %w", price, err)
	}
	return OrderRecord{
		OrderID:      orderID,
		Symbol:       symbol,
		Side:         side,
		Qty:          qty,
		Price:        price,
		NumericQty:   q,
		NumericPrice: p,
		CreatedAt:    time.Now(),
	}, nil
}

// WithAvgBuyPrice 返回带成本价的副本。
func (r OrderRecord) WithAvgBuyPrice(avg decimal.Decimal) OrderRecord {
	r.AvgBuyPrice = &avg
	return r
}

// QuoteValue 名义价值 price*qty。
func (r OrderRecord) QuoteValue() decimal.Decimal {
	return r.NumericPrice.Mul(r.NumericQty)
}

func (r OrderRecord) String() string {
	return fmt.Sprintf("%s#%d %s@%s", r.Side, r.OrderID, r.Qty, r.Price)
}

// OrderParams 策略给出的候选价格/数量。零值表示无效结果。
type OrderParams struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// InvalidOrderParams 无效结果
var InvalidOrderParams = OrderParams{}

// IsInvalid price 或 qty 非正即无效。
func (p OrderParams) IsInvalid() bool {
	return !p.Price.IsPositive() || !p.Qty.IsPositive()
}

// QuoteValue 名义价值 price*qty。
func (p OrderParams) QuoteValue() decimal.Decimal {
	return p.Price.Mul(p.Qty)
}
