package execution

import (
	"sync"

	"github.com/shopspring/decimal"
)

// buyReservations 在途买单的价格占位。
//
// 买单在 REST 返回前还没进登记表，连续两个行情事件可能算出同一价格；
// 下单前占位，任务结束（成功、失败、队列满或停机丢弃）时释放。
type buyReservations struct {
	mu     sync.Mutex
	prices map[string]struct{}
}

func newBuyReservations() *buyReservations {
	return &buyReservations{prices: make(map[string]struct{})}
}

// priceKey 按数值归一，"100.10" 与 "100.1" 相同
func priceKey(price decimal.Decimal) string {
	return price.String()
}

func (r *buyReservations) reserve(price decimal.Decimal) bool {
	k := priceKey(price)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.prices[k]; ok {
		return false
	}
	r.prices[k] = struct{}{}
	return true
}

func (r *buyReservations) release(price decimal.Decimal) {
	r.mu.Lock()
	delete(r.prices, priceKey(price))
	r.mu.Unlock()
}

func (r *buyReservations) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.prices)
}
