package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel 一档盘口 [price, qty]（交易所原始字符串）。
type PriceLevel [2]string

func (l PriceLevel) Price() string { return l[0] }
func (l PriceLevel) Qty() string   { return l[1] }

// Decimals 解析价格和数量。
func (l PriceLevel) Decimals() (price, qty decimal.Decimal, err error) {
	price, err = decimal.NewFromString(l[0])
	if err != nil {
		return
	}
	qty, err = decimal.NewFromString(l[1])
	return
}

// DepthSnapshot top-N 深度快照。
type DepthSnapshot struct {
	Symbol       string       `json:"-"`
	LastUpdateID uint64       `json:"lastUpdateId"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
	ReceivedAt   time.Time    `json:"-"`
}

func (*DepthSnapshot) isMarketEvent() {}

// HasBids 是否携带买盘数据。
func (d *DepthSnapshot) HasBids() bool {
	return d != nil && len(d.Bids) > 0
}
