package oms

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config 挂单容量与冲突判定参数。
type Config struct {
	MaxOpenOrders     int             // 交易所允许的最大挂单数
	OpenOrdersMargin  int             // 预留余量
	BuyOrdersLimit    int             // 买单数超过该值即视为已满
	SellOrdersLimit   int             // 卖单数超过该值即视为已满
	SellOrdersFloor   int             // 卖单数低于该值时可恢复已撤卖单
	ConflictTolerance decimal.Decimal // 相对价格容差
	ClosedIDCapacity  int             // 已关闭 id 集合容量
	ClosedIDTTL       time.Duration
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		MaxOpenOrders:     200,
		OpenOrdersMargin:  10,
		BuyOrdersLimit:    3,
		SellOrdersLimit:   20,
		SellOrdersFloor:   10,
		ConflictTolerance: decimal.RequireFromString("0.001"),
		ClosedIDCapacity:  1000,
		ClosedIDTTL:       30 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxOpenOrders <= 0 {
		c.MaxOpenOrders = def.MaxOpenOrders
	}
	if c.OpenOrdersMargin < 0 {
		c.OpenOrdersMargin = 0
	}
	if c.BuyOrdersLimit <= 0 {
		c.BuyOrdersLimit = def.BuyOrdersLimit
	}
	if c.SellOrdersLimit <= 0 {
		c.SellOrdersLimit = def.SellOrdersLimit
	}
	if c.SellOrdersFloor < 0 {
		c.SellOrdersFloor = 0
	}
	if c.ConflictTolerance.IsNegative() {
		c.ConflictTolerance = decimal.Zero
	}
	if c.ClosedIDCapacity <= 0 {
		c.ClosedIDCapacity = def.ClosedIDCapacity
	}
	if c.ClosedIDTTL <= 0 {
		c.ClosedIDTTL = def.ClosedIDTTL
	}
	return c
}
