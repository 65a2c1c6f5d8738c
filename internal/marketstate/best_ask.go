package marketstate

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// BestAsk 卖单定价用的“卖一地板价”缓存（卖一价 - 1 tick）。
//
// 行情 goroutine 写，策略/执行 goroutine 读；值整体替换，读取不会撕裂。
type BestAsk struct {
	v atomic.Pointer[bestAskValue]
}

type bestAskValue struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// NewBestAsk 创建空缓存（Load 返回 0）。
func NewBestAsk() *BestAsk {
	return &BestAsk{}
}

// Store 写入新的地板价。非正数忽略。
func (b *BestAsk) Store(price decimal.Decimal) {
	if !price.IsPositive() {
		return
	}
	b.v.Store(&bestAskValue{price: price, updatedAt: time.Now()})
}

// Load 读取当前地板价；未初始化时为 0。
func (b *BestAsk) Load() decimal.Decimal {
	cur := b.v.Load()
	if cur == nil {
		return decimal.Zero
	}
	return cur.price
}

// UpdatedAt 最近一次写入时间。
func (b *BestAsk) UpdatedAt() time.Time {
	cur := b.v.Load()
	if cur == nil {
		return time.Time{}
	}
	return cur.updatedAt
}

// IsFresh 是否在 maxAge 内更新过。
func (b *BestAsk) IsFresh(maxAge time.Duration) bool {
	t := b.UpdatedAt()
	return !t.IsZero() && time.Since(t) <= maxAge
}

// Reset 清空缓存。
func (b *BestAsk) Reset() {
	b.v.Store(nil)
}
