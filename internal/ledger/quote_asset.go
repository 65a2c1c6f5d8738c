package ledger

import (
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ledger")

// QuoteAssetManager 本地可用报价资产余额。
//
// 下单前乐观扣减（Deduct），由账户快照（SyncFrom）和余额增量（Add）对账；
// 本地扣减从不显式回滚，下一次权威快照会纠正偏差。
type QuoteAssetManager struct {
	asset   string
	balance atomic.Pointer[decimal.Decimal]
}

// NewQuoteAssetManager 创建余额管理器，初始余额为 0。
func NewQuoteAssetManager(asset string) *QuoteAssetManager {
	m := &QuoteAssetManager{asset: asset}
	zero := decimal.Zero
	m.balance.Store(&zero)
	return m
}

// Asset 报价资产名。
func (m *QuoteAssetManager) Asset() string { return m.asset }

// Balance 当前余额。
func (m *QuoteAssetManager) Balance() decimal.Decimal {
	return *m.balance.Load()
}

// HasAtLeast 余额是否 >= amount。
func (m *QuoteAssetManager) HasAtLeast(amount decimal.Decimal) bool {
	return m.Balance().GreaterThanOrEqual(amount)
}

// SyncFrom 用权威余额覆盖。
func (m *QuoteAssetManager) SyncFrom(amount decimal.Decimal) {
	v := amount
	m.balance.Store(&v)
	log.Infof("[BALANCE-SYNC] %s 余额同步: %s", m.asset, amount.String())
}

// Add 增加（delta 可为负）。
func (m *QuoteAssetManager) Add(delta decimal.Decimal) decimal.Decimal {
	next := m.update(func(cur decimal.Decimal) decimal.Decimal { return cur.Add(delta) })
	log.Debugf("[BALANCE-DELTA] %s %s -> %s", m.asset, delta.String(), next.String())
	return next
}

// Deduct 乐观扣减。
func (m *QuoteAssetManager) Deduct(amount decimal.Decimal) decimal.Decimal {
	next := m.update(func(cur decimal.Decimal) decimal.Decimal { return cur.Sub(amount) })
	log.Debugf("[BALANCE-DEDUCT] %s -%s -> %s", m.asset, amount.String(), next.String())
	return next
}

// update CAS 循环，整体替换不可变值。
func (m *QuoteAssetManager) update(fn func(decimal.Decimal) decimal.Decimal) decimal.Decimal {
	for {
		cur := m.balance.Load()
		next := fn(*cur)
		if m.balance.CompareAndSwap(cur, &next) {
			return next
		}
	}
}
