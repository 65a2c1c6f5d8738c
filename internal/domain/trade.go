package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionType 执行回报类型
type ExecutionType string

const (
	ExecNew             ExecutionType = "NEW"
	ExecTrade           ExecutionType = "TRADE"
	ExecCanceled        ExecutionType = "CANCELED"
	ExecExpired         ExecutionType = "EXPIRED"
	ExecRejected        ExecutionType = "REJECTED"
	ExecReplaced        ExecutionType = "REPLACED"
	ExecTradePrevention ExecutionType = "TRADE_PREVENTION"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
)

// ExecutionReport 订单执行回报
type ExecutionReport struct {
	Symbol            string
	ClientOrderID     string
	Side              Side
	ExecutionType     ExecutionType
	Status            OrderStatus
	OrderID           int64
	Price             string
	Qty               string
	LastExecutedQty   decimal.Decimal
	LastExecutedPrice decimal.Decimal
	LastQuoteQty      decimal.Decimal // 本次成交的报价资产数量
	CumulativeQty     decimal.Decimal
	EventTime         time.Time
	TransactTime      time.Time
}

func (*ExecutionReport) isUserEvent() {}

// IsFilled 订单已完全成交。
func (r *ExecutionReport) IsFilled() bool {
	return r.Status == StatusFilled
}

// FillQuoteValue 本次成交的报价金额；交易所未给出时用 price*qty 估算。
func (r *ExecutionReport) FillQuoteValue() decimal.Decimal {
	if r.LastQuoteQty.IsPositive() {
		return r.LastQuoteQty
	}
	return r.LastExecutedPrice.Mul(r.LastExecutedQty)
}

// AssetBalance 单个资产余额
type AssetBalance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// AccountSnapshot 账户余额快照
type AccountSnapshot struct {
	Balances  []AssetBalance
	EventTime time.Time
}

func (*AccountSnapshot) isUserEvent() {}

// Find 按资产查找余额。
func (a *AccountSnapshot) Find(asset string) (AssetBalance, bool) {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b, true
		}
	}
	return AssetBalance{}, false
}

// BalanceDelta 余额增量（充值/提现/划转）
type BalanceDelta struct {
	Asset     string
	Delta     decimal.Decimal
	EventTime time.Time
}

func (*BalanceDelta) isUserEvent() {}
